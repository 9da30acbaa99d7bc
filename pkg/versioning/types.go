package versioning

import "time"

// QuestionType classifies how a standard question is answered.
type QuestionType string

const (
	TypeSingleChoice   QuestionType = "single_choice"
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeSimpleFact     QuestionType = "simple_fact"
	TypeSubjective     QuestionType = "subjective"
)

// Difficulty is the assessed difficulty of a question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// QuestionStatus is the review status of a question. It is carried but not
// interpreted by the versioning core.
type QuestionStatus string

const (
	StatusDraft         QuestionStatus = "draft"
	StatusPendingReview QuestionStatus = "pending_review"
	StatusApproved      QuestionStatus = "approved"
	StatusRejected      QuestionStatus = "rejected"
)

// ParseQuestionType validates s against the known question types.
func ParseQuestionType(s string) (QuestionType, error) {
	switch t := QuestionType(s); t {
	case TypeSingleChoice, TypeMultipleChoice, TypeSimpleFact, TypeSubjective:
		return t, nil
	}
	return "", validationErrorf("unknown question type %q", s)
}

// ParseDifficulty validates s against the known difficulties. An empty
// string is accepted and means "unrated".
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(s); d {
	case "", DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	}
	return "", validationErrorf("unknown difficulty %q", s)
}

// ParseQuestionStatus validates s against the known statuses.
func ParseQuestionStatus(s string) (QuestionStatus, error) {
	switch st := QuestionStatus(s); st {
	case StatusDraft, StatusPendingReview, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", validationErrorf("unknown question status %q", s)
}

// VersionInput is the payload for creating a new question version.
type VersionInput struct {
	Question     string
	ChangeReason string
	ChangedBy    string
}

// QuestionInput is the payload for registering a new question.
type QuestionInput struct {
	Question     string
	CategoryID   *uint
	QuestionType QuestionType
	Difficulty   Difficulty
	CreatedBy    string
}

// Page is one page of an ordered listing. Page numbers start at 1.
type Page[T any] struct {
	Items    []T
	Total    int64
	Page     int
	PageSize int
}

// Pages returns the number of pages needed to hold Total items.
func (p Page[T]) Pages() int {
	if p.PageSize <= 0 {
		return 0
	}
	return int((p.Total + int64(p.PageSize) - 1) / int64(p.PageSize))
}

// VersionSummary identifies one side of a comparison.
type VersionSummary struct {
	VersionID uint      `json:"versionId"`
	Label     string    `json:"versionName"`
	CreatedAt time.Time `json:"createdAt"`
}

// FieldDifference describes how one comparable field changed between two versions.
type FieldDifference struct {
	Changed  bool `json:"changed"`
	OldValue any  `json:"oldValue"`
	NewValue any  `json:"newValue"`
}

// VersionComparison is the result of comparing two version records.
type VersionComparison struct {
	From        VersionSummary             `json:"version1"`
	To          VersionSummary             `json:"version2"`
	Differences map[string]FieldDifference `json:"differences"`
}

// Projection is the content a question carries at a given version.
type Projection struct {
	Question       string
	CategoryID     *uint
	QuestionType   QuestionType
	Difficulty     Difficulty
	CurrentVersion int
}

// VersionStatistics summarizes version activity across the registry.
type VersionStatistics struct {
	TotalDatasetVersions          int64  `json:"totalDatasetVersions"`
	PublishedDatasetVersions      int64  `json:"publishedDatasetVersions"`
	TotalQuestionVersions         int64  `json:"totalQuestionVersions"`
	QuestionsWithMultipleVersions int64  `json:"questionsWithMultipleVersions"`
	LatestDatasetVersion          string `json:"latestDatasetVersion,omitempty"`
	VersionChangesThisMonth       int64  `json:"versionChangesThisMonth"`
	VersionChangesToday           int64  `json:"versionChangesToday"`
}

// QuestionVersionStats summarizes the history of a single question.
type QuestionVersionStats struct {
	QuestionID    uint                   `json:"questionId"`
	VersionCount  int64                  `json:"versionCount"`
	LatestVersion *QuestionVersionRecord `json:"-"`
}
