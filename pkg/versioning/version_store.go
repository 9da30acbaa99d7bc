package versioning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// VersionStore provides persistence for question version records. Records
// are never updated; the only mutation after insert is a soft delete.
type VersionStore struct {
	db *gorm.DB
}

// NewVersionStore creates a new VersionStore.
func NewVersionStore(db *gorm.DB) *VersionStore {
	return &VersionStore{db: db}
}

// WithTx returns a store bound to tx.
func (s *VersionStore) WithTx(tx *gorm.DB) *VersionStore {
	return &VersionStore{db: tx}
}

// AutoMigrate creates or updates the standard_question_versions table.
func (s *VersionStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&QuestionVersionRecord{}); err != nil {
		return fmt.Errorf("auto-migrate standard_question_versions: %w", err)
	}
	return nil
}

// Create inserts a new immutable version record.
func (s *VersionStore) Create(ctx context.Context, record *QuestionVersionRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("create version: %w", err)
	}
	return nil
}

// Get retrieves a live version record by ID.
// Returns nil, nil if no record exists or it was soft-deleted.
func (s *VersionStore) Get(ctx context.Context, id uint) (*QuestionVersionRecord, error) {
	var record QuestionVersionRecord
	err := s.db.WithContext(ctx).First(&record, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get version: %w", err)
	}
	return &record, nil
}

// GetByNumber retrieves the live record with the given number for a question.
// Returns nil, nil if no such record exists.
func (s *VersionStore) GetByNumber(ctx context.Context, questionID uint, number int) (*QuestionVersionRecord, error) {
	var record QuestionVersionRecord
	err := s.db.WithContext(ctx).
		Where("question_id = ? AND version_number = ?", questionID, number).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get version by number: %w", err)
	}
	return &record, nil
}

// MaxVersionNumber returns the highest number ever issued for a question,
// soft-deleted records included. It is 0 when the history is empty.
func (s *VersionStore) MaxVersionNumber(ctx context.Context, questionID uint) (int, error) {
	var maxNumber sql.NullInt64
	row := s.db.WithContext(ctx).Unscoped().Model(&QuestionVersionRecord{}).
		Where("question_id = ?", questionID).
		Select("MAX(version_number)").
		Row()
	if err := row.Scan(&maxNumber); err != nil {
		return 0, fmt.Errorf("max version number: %w", err)
	}
	return int(maxNumber.Int64), nil
}

// ListByQuestion returns every live record of a question, newest first.
func (s *VersionStore) ListByQuestion(ctx context.Context, questionID uint) ([]QuestionVersionRecord, error) {
	var records []QuestionVersionRecord
	err := s.db.WithContext(ctx).
		Where("question_id = ?", questionID).
		Order("version_number DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return records, nil
}

// ListPage returns one page of a question's live records, newest first,
// together with the total number of live records.
func (s *VersionStore) ListPage(ctx context.Context, questionID uint, page, pageSize int) ([]QuestionVersionRecord, int64, error) {
	page, pageSize = normalizePage(page, pageSize)

	var total int64
	if err := s.db.WithContext(ctx).Model(&QuestionVersionRecord{}).Where("question_id = ?", questionID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count versions: %w", err)
	}

	var records []QuestionVersionRecord
	err := s.db.WithContext(ctx).
		Where("question_id = ?", questionID).
		Order("version_number DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list versions: %w", err)
	}
	return records, total, nil
}

// LastLive returns the live record with the highest number for a question.
// Returns nil, nil if the question has no live records.
func (s *VersionStore) LastLive(ctx context.Context, questionID uint) (*QuestionVersionRecord, error) {
	var record QuestionVersionRecord
	err := s.db.WithContext(ctx).
		Where("question_id = ?", questionID).
		Order("version_number DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("last version: %w", err)
	}
	return &record, nil
}

// CountByQuestion returns the number of live records for a question.
func (s *VersionStore) CountByQuestion(ctx context.Context, questionID uint) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&QuestionVersionRecord{}).Where("question_id = ?", questionID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count versions: %w", err)
	}
	return n, nil
}

// CountAll returns the number of live records across all questions.
func (s *VersionStore) CountAll(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&QuestionVersionRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count all versions: %w", err)
	}
	return n, nil
}

// CountSince returns the number of live records created at or after t.
func (s *VersionStore) CountSince(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&QuestionVersionRecord{}).Where("created_at >= ?", t.UTC()).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count versions since: %w", err)
	}
	return n, nil
}

// CountQuestionsWithMultipleVersions returns how many questions have more
// than one live record.
func (s *VersionStore) CountQuestionsWithMultipleVersions(ctx context.Context) (int64, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&QuestionVersionRecord{}).
		Group("question_id").
		Having("COUNT(*) > 1").
		Pluck("question_id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("count questions with multiple versions: %w", err)
	}
	return int64(len(ids)), nil
}

// ListBetween returns live records created in [start, end], newest first.
func (s *VersionStore) ListBetween(ctx context.Context, start, end time.Time) ([]QuestionVersionRecord, error) {
	var records []QuestionVersionRecord
	err := s.db.WithContext(ctx).
		Where("created_at >= ? AND created_at <= ?", start.UTC(), end.UTC()).
		Order("created_at DESC, id DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list versions between: %w", err)
	}
	return records, nil
}

// ListByActor returns live records written by actor, newest first.
func (s *VersionStore) ListByActor(ctx context.Context, actor string) ([]QuestionVersionRecord, error) {
	var records []QuestionVersionRecord
	err := s.db.WithContext(ctx).
		Where("changed_by = ?", actor).
		Order("created_at DESC, id DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list versions by actor: %w", err)
	}
	return records, nil
}

// SoftDelete hides a record from reads. Its number stays reserved.
func (s *VersionStore) SoftDelete(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).Delete(&QuestionVersionRecord{}, id).Error; err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	return nil
}
