package versioning

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// JSONAny is a custom GORM type for map[string]any stored as JSON.
type JSONAny map[string]any

// Scan implements the sql.Scanner interface for JSONAny.
func (m *JSONAny) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONAny: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Value implements the driver.Valuer interface for JSONAny.
func (m JSONAny) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// QuestionRecord is the current state of a standard question. Its content
// fields and CurrentVersion are a projection of the newest version record.
type QuestionRecord struct {
	ID             uint           `gorm:"primaryKey;column:id"`
	Question       string         `gorm:"column:question;type:text;not null"`
	CategoryID     *uint          `gorm:"column:category_id;index"`
	QuestionType   QuestionType   `gorm:"column:question_type;type:varchar(32);not null"`
	Difficulty     Difficulty     `gorm:"column:difficulty;type:varchar(16)"`
	Status         QuestionStatus `gorm:"column:status;type:varchar(32);default:draft;not null"`
	CurrentVersion int            `gorm:"column:current_version;not null"`
	CreatedBy      string         `gorm:"column:created_by;type:varchar(128)"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt      gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName returns the GORM table name.
func (QuestionRecord) TableName() string { return "standard_questions" }

// QuestionVersionRecord is one immutable entry in a question's version log.
// The (question_id, version_number) index covers soft-deleted rows too, so a
// number is never handed out twice.
type QuestionVersionRecord struct {
	ID            uint           `gorm:"primaryKey;column:id"`
	QuestionID    uint           `gorm:"column:question_id;uniqueIndex:idx_question_version,priority:1;not null"`
	VersionNumber int            `gorm:"column:version_number;uniqueIndex:idx_question_version,priority:2;not null"`
	Question      string         `gorm:"column:question;type:text;not null"`
	CategoryID    *uint          `gorm:"column:category_id"`
	QuestionType  QuestionType   `gorm:"column:question_type;type:varchar(32)"`
	Difficulty    Difficulty     `gorm:"column:difficulty;type:varchar(16)"`
	ChangeReason  string         `gorm:"column:change_reason;type:text"`
	ChangedBy     string         `gorm:"column:changed_by;type:varchar(128);index"`
	CreatedAt     time.Time      `gorm:"column:created_at;index;autoCreateTime"`
	DeletedAt     gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

// TableName returns the GORM table name.
func (QuestionVersionRecord) TableName() string { return "standard_question_versions" }

// Label returns the display label of the version, e.g. "v3".
func (r QuestionVersionRecord) Label() string {
	return fmt.Sprintf("v%d", r.VersionNumber)
}

// DatasetVersionRecord is a named snapshot of a set of questions.
type DatasetVersionRecord struct {
	ID            uint       `gorm:"primaryKey;column:id"`
	Name          string     `gorm:"column:name;type:varchar(255);uniqueIndex;not null"`
	Description   string     `gorm:"column:description;type:text"`
	IsPublished   bool       `gorm:"column:is_published;not null"`
	ReleaseDate   *time.Time `gorm:"column:release_date"`
	QuestionCount int        `gorm:"column:question_count;not null"`
	CreatedBy     string     `gorm:"column:created_by;type:varchar(128)"`
	CreatedAt     time.Time  `gorm:"column:created_at;index;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (DatasetVersionRecord) TableName() string { return "dataset_versions" }

// DatasetQuestionMapping is a membership edge between a dataset version and a question.
type DatasetQuestionMapping struct {
	DatasetVersionID uint      `gorm:"primaryKey;column:dataset_version_id;autoIncrement:false"`
	QuestionID       uint      `gorm:"primaryKey;column:question_id;autoIncrement:false;index"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (DatasetQuestionMapping) TableName() string { return "dataset_question_mapping" }

// UserRecord maps an actor id to a display name.
type UserRecord struct {
	ID          string    `gorm:"primaryKey;column:id;type:varchar(128)"`
	DisplayName string    `gorm:"column:display_name;type:varchar(255)"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the GORM table name.
func (UserRecord) TableName() string { return "users" }

// AuditEventRecord is an immutable audit log entry.
type AuditEventRecord struct {
	ID            string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	CorrelationID string    `gorm:"column:correlation_id;index"`
	EventType     string    `gorm:"column:event_type;index:idx_audit_type_time,priority:1;not null"`
	Actor         string    `gorm:"column:actor;index:idx_audit_actor_time,priority:1;not null"`
	ResourceType  string    `gorm:"column:resource_type;index:idx_audit_resource_time,priority:1"`
	ResourceID    string    `gorm:"column:resource_id;index:idx_audit_resource_time,priority:2"`
	Action        string    `gorm:"column:action"`
	Outcome       string    `gorm:"column:outcome;not null"` // success, failure, denied
	Reason        string    `gorm:"column:reason"`
	OldValue      JSONAny   `gorm:"column:old_value;type:text"`
	NewValue      JSONAny   `gorm:"column:new_value;type:text"`
	EventMetadata JSONAny   `gorm:"column:metadata;type:text"`
	RequestID     string    `gorm:"column:request_id;index"`
	StatusCode    int       `gorm:"column:status_code"`
	CreatedAt     time.Time `gorm:"column:created_at;index:idx_audit_type_time,priority:2;index:idx_audit_actor_time,priority:2;index:idx_audit_resource_time,priority:3;autoCreateTime"`
}

// TableName returns the GORM table name.
func (AuditEventRecord) TableName() string { return "audit_events" }
