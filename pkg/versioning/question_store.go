package versioning

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QuestionStore provides persistence for standard questions.
type QuestionStore struct {
	db *gorm.DB
}

// NewQuestionStore creates a new QuestionStore.
func NewQuestionStore(db *gorm.DB) *QuestionStore {
	return &QuestionStore{db: db}
}

// WithTx returns a store bound to tx.
func (s *QuestionStore) WithTx(tx *gorm.DB) *QuestionStore {
	return &QuestionStore{db: tx}
}

// AutoMigrate creates or updates the standard_questions table.
func (s *QuestionStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&QuestionRecord{}); err != nil {
		return fmt.Errorf("auto-migrate standard_questions: %w", err)
	}
	return nil
}

// Create inserts a new question. CurrentVersion starts at zero.
func (s *QuestionStore) Create(ctx context.Context, record *QuestionRecord) error {
	if record.Status == "" {
		record.Status = StatusDraft
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

// Get retrieves a question by ID.
// Returns nil, nil if no record exists.
func (s *QuestionStore) Get(ctx context.Context, id uint) (*QuestionRecord, error) {
	var record QuestionRecord
	err := s.db.WithContext(ctx).First(&record, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get question: %w", err)
	}
	return &record, nil
}

// GetForUpdate is Get with a row lock on databases that support one.
func (s *QuestionStore) GetForUpdate(ctx context.Context, id uint) (*QuestionRecord, error) {
	query := s.db.WithContext(ctx)
	if query.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var record QuestionRecord
	err := query.First(&record, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get question for update: %w", err)
	}
	return &record, nil
}

// MissingIDs returns the subset of ids that do not name a live question.
func (s *QuestionStore) MissingIDs(ctx context.Context, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []uint
	if err := s.db.WithContext(ctx).Model(&QuestionRecord{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, fmt.Errorf("check question ids: %w", err)
	}
	missing := mapset.NewThreadUnsafeSet(ids...).Difference(mapset.NewThreadUnsafeSet(found...))
	return sortedIDs(missing), nil
}

// ApplyProjection overwrites a question's content fields and current version.
func (s *QuestionStore) ApplyProjection(ctx context.Context, id uint, p Projection) error {
	result := s.db.WithContext(ctx).Model(&QuestionRecord{}).Where("id = ?", id).Updates(map[string]any{
		"question":        p.Question,
		"category_id":     p.CategoryID,
		"question_type":   p.QuestionType,
		"difficulty":      p.Difficulty,
		"current_version": p.CurrentVersion,
	})
	if result.Error != nil {
		return fmt.Errorf("update question projection: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update question projection: %w", gorm.ErrRecordNotFound)
	}
	return nil
}

// Count returns the number of live questions.
func (s *QuestionStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&QuestionRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return n, nil
}
