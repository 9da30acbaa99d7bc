package versioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DatasetStore provides persistence for dataset versions and their membership edges.
type DatasetStore struct {
	db *gorm.DB
}

// NewDatasetStore creates a new DatasetStore.
func NewDatasetStore(db *gorm.DB) *DatasetStore {
	return &DatasetStore{db: db}
}

// WithTx returns a store bound to tx.
func (s *DatasetStore) WithTx(tx *gorm.DB) *DatasetStore {
	return &DatasetStore{db: tx}
}

// AutoMigrate creates or updates the dataset_versions and dataset_question_mapping tables.
func (s *DatasetStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&DatasetVersionRecord{}, &DatasetQuestionMapping{}); err != nil {
		return fmt.Errorf("auto-migrate dataset_versions: %w", err)
	}
	return nil
}

// Create inserts a new dataset version row.
func (s *DatasetStore) Create(ctx context.Context, record *DatasetVersionRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("create dataset version: %w", err)
	}
	return nil
}

// Get retrieves a dataset version by ID.
// Returns nil, nil if no record exists.
func (s *DatasetStore) Get(ctx context.Context, id uint) (*DatasetVersionRecord, error) {
	var record DatasetVersionRecord
	err := s.db.WithContext(ctx).First(&record, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dataset version: %w", err)
	}
	return &record, nil
}

// newestID is a subquery selecting the ID of the most recently created
// dataset version.
func (s *DatasetStore) newestID() *gorm.DB {
	return s.db.Session(&gorm.Session{NewDB: true}).Model(&DatasetVersionRecord{}).
		Select("id").Order("created_at DESC, id DESC").Limit(1)
}

// getSummary loads one dataset version together with its latest flag.
func (s *DatasetStore) getSummary(query *gorm.DB, id uint) (*DatasetSummary, error) {
	var summary DatasetSummary
	err := query.Model(&DatasetVersionRecord{}).
		Select("dataset_versions.*, (dataset_versions.id = (?)) AS is_latest", s.newestID()).
		Where("dataset_versions.id = ?", id).
		Take(&summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &summary, nil
}

// GetSummary is Get with the latest flag resolved in the same query.
func (s *DatasetStore) GetSummary(ctx context.Context, id uint) (*DatasetSummary, error) {
	summary, err := s.getSummary(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, fmt.Errorf("get dataset version: %w", err)
	}
	return summary, nil
}

// GetForUpdate is GetSummary with a row lock on databases that support one.
func (s *DatasetStore) GetForUpdate(ctx context.Context, id uint) (*DatasetSummary, error) {
	query := s.db.WithContext(ctx)
	if query.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	summary, err := s.getSummary(query, id)
	if err != nil {
		return nil, fmt.Errorf("get dataset version for update: %w", err)
	}
	return summary, nil
}

// GetByName retrieves a dataset version by its exact name.
// Returns nil, nil if no record exists.
func (s *DatasetStore) GetByName(ctx context.Context, name string) (*DatasetVersionRecord, error) {
	var record DatasetVersionRecord
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dataset version by name: %w", err)
	}
	return &record, nil
}

// DatasetFilter narrows List. Nil Published and empty Keyword match everything.
type DatasetFilter struct {
	Published *bool
	// Keyword matches anywhere in the name, ignoring case.
	Keyword string
}

func (f DatasetFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Published != nil {
		q = q.Where("is_published = ?", *f.Published)
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		q = q.Where("LOWER(name) LIKE ? ESCAPE '!'", "%"+likeEscaper.Replace(strings.ToLower(kw))+"%")
	}
	return q
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// List returns one page of matching dataset versions, newest first, with the
// total count of matches.
func (s *DatasetStore) List(ctx context.Context, filter DatasetFilter, page, pageSize int) ([]DatasetVersionRecord, int64, error) {
	page, pageSize = normalizePage(page, pageSize)

	var total int64
	if err := filter.apply(s.db.WithContext(ctx).Model(&DatasetVersionRecord{})).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count dataset versions: %w", err)
	}

	var records []DatasetVersionRecord
	err := filter.apply(s.db.WithContext(ctx)).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list dataset versions: %w", err)
	}
	return records, total, nil
}

// Latest returns the most recently created dataset version; ties on
// created_at go to the higher ID. Returns nil, nil when there are none.
func (s *DatasetStore) Latest(ctx context.Context) (*DatasetVersionRecord, error) {
	var record DatasetVersionRecord
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest dataset version: %w", err)
	}
	return &record, nil
}

// LatestID returns the ID of the most recently created dataset version, or 0.
func (s *DatasetStore) LatestID(ctx context.Context) (uint, error) {
	var ids []uint
	if err := s.newestID().WithContext(ctx).Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("latest dataset version id: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

// LatestPublished returns the published dataset version with the newest
// release date; ties go to the higher ID. Returns nil, nil when none is published.
func (s *DatasetStore) LatestPublished(ctx context.Context) (*DatasetVersionRecord, error) {
	var record DatasetVersionRecord
	err := s.db.WithContext(ctx).
		Where("is_published = ?", true).
		Order("release_date DESC, id DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest published dataset version: %w", err)
	}
	return &record, nil
}

// Update writes the given columns of a dataset version.
func (s *DatasetStore) Update(ctx context.Context, id uint, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&DatasetVersionRecord{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("update dataset version: %w", err)
	}
	return nil
}

// Delete removes a dataset version and all of its membership edges.
// Returns false if no dataset version had the given ID.
func (s *DatasetStore) Delete(ctx context.Context, id uint) (bool, error) {
	if err := s.db.WithContext(ctx).Where("dataset_version_id = ?", id).Delete(&DatasetQuestionMapping{}).Error; err != nil {
		return false, fmt.Errorf("delete dataset membership: %w", err)
	}
	result := s.db.WithContext(ctx).Delete(&DatasetVersionRecord{}, id)
	if result.Error != nil {
		return false, fmt.Errorf("delete dataset version: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MemberIDs returns the question IDs in a dataset version, ascending.
func (s *DatasetStore) MemberIDs(ctx context.Context, id uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&DatasetQuestionMapping{}).
		Where("dataset_version_id = ?", id).
		Order("question_id ASC").
		Pluck("question_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list dataset members: %w", err)
	}
	return ids, nil
}

// AddMembers inserts membership edges, skipping pairs that already exist.
func (s *DatasetStore) AddMembers(ctx context.Context, id uint, questionIDs []uint) error {
	if len(questionIDs) == 0 {
		return nil
	}
	edges := make([]DatasetQuestionMapping, len(questionIDs))
	for i, qid := range questionIDs {
		edges[i] = DatasetQuestionMapping{DatasetVersionID: id, QuestionID: qid}
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&edges).Error
	if err != nil {
		return fmt.Errorf("add dataset members: %w", err)
	}
	return nil
}

// RemoveMembers deletes membership edges; absent pairs are ignored.
func (s *DatasetStore) RemoveMembers(ctx context.Context, id uint, questionIDs []uint) error {
	if len(questionIDs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Where("dataset_version_id = ? AND question_id IN ?", id, questionIDs).
		Delete(&DatasetQuestionMapping{}).Error
	if err != nil {
		return fmt.Errorf("remove dataset members: %w", err)
	}
	return nil
}

// CountMembers returns the number of membership edges of a dataset version.
func (s *DatasetStore) CountMembers(ctx context.Context, id uint) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&DatasetQuestionMapping{}).Where("dataset_version_id = ?", id).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count dataset members: %w", err)
	}
	return int(n), nil
}

// Count returns the number of dataset versions, optionally only published ones.
func (s *DatasetStore) Count(ctx context.Context, publishedOnly bool) (int64, error) {
	query := s.db.WithContext(ctx).Model(&DatasetVersionRecord{})
	if publishedOnly {
		query = query.Where("is_published = ?", true)
	}
	var n int64
	if err := query.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count dataset versions: %w", err)
	}
	return n, nil
}
