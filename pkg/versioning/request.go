package versioning

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// CreateQuestionRequest is the body of POST /questions.
type CreateQuestionRequest struct {
	Question     string `json:"question" validate:"notblank,max=65535"`
	CategoryID   *uint  `json:"categoryId"`
	QuestionType string `json:"questionType" validate:"required,oneof=single_choice multiple_choice simple_fact subjective"`
	Difficulty   string `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	CreatedBy    string `json:"createdBy" validate:"max=128"`
}

// CreateVersionRequest is the body of POST /questions/{id}/versions.
// VersionName is accepted for compatibility; labels are always derived
// from the version number.
type CreateVersionRequest struct {
	VersionName  string `json:"versionName" validate:"max=64"`
	ChangeReason string `json:"changeReason" validate:"max=2000"`
	QuestionBody string `json:"questionBody" validate:"notblank,max=65535"`
	ChangedBy    string `json:"changedBy" validate:"max=128"`
}

// RollbackRequest is the optional body of a rollback.
type RollbackRequest struct {
	ChangeReason string `json:"changeReason" validate:"max=2000"`
	ChangedBy    string `json:"changedBy" validate:"max=128"`
}

// CreateDatasetRequest is the body of POST /dataset-versions. Omitting
// questionIds together with a baseVersionId copies the base's membership;
// an explicit empty list creates an empty dataset.
type CreateDatasetRequest struct {
	Name          string `json:"name" validate:"notblank,max=255"`
	Description   string `json:"description" validate:"max=4000"`
	QuestionIDs   []uint `json:"questionIds" validate:"omitempty,dive,gt=0"`
	BaseVersionID *uint  `json:"baseVersionId"`
	CreatedBy     string `json:"createdBy" validate:"max=128"`
}

// UpdateDatasetRequest is the body of PATCH /dataset-versions/{id}.
type UpdateDatasetRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	ChangedBy   string  `json:"changedBy" validate:"max=128"`
}

// MembershipRequest is the body of POST and DELETE /dataset-versions/{id}/questions.
type MembershipRequest struct {
	QuestionIDs []uint `json:"questionIds" validate:"required,min=1,dive,gt=0"`
	ChangedBy   string `json:"changedBy" validate:"max=128"`
}

// RequestValidator checks request DTOs against their struct tags.
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator that reports fields by their JSON names.
func NewRequestValidator() *RequestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}, true)
	return &RequestValidator{validate: v}
}

// Validate returns an ErrValidation error describing every failed field.
func (v *RequestValidator) Validate(req any) error {
	err := v.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return validationErrorf("%v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return validationErrorf("%s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must contain at least %s item(s)", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
