package versioning

import (
	"context"
	"strconv"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/llmeval/qa-registry/pkg/db"
)

// CreateDatasetInput is the payload for creating a dataset version.
// A nil QuestionIDs with a BaseVersionID copies the base's membership.
type CreateDatasetInput struct {
	Name          string
	Description   string
	QuestionIDs   []uint
	BaseVersionID *uint
	CreatedBy     string
}

// UpdateDatasetInput carries optional changes to a dataset version's metadata.
type UpdateDatasetInput struct {
	Name        *string
	Description *string
}

// DatasetSummary is a dataset version flagged with whether it is the most
// recently created one.
type DatasetSummary struct {
	DatasetVersionRecord
	IsLatest bool `gorm:"column:is_latest;->"`
}

// DatasetManager owns dataset versions and their membership. The stored
// question_count is always recomputed from the edges inside the mutating
// transaction.
type DatasetManager struct {
	db        *gorm.DB
	datasets  *DatasetStore
	questions *QuestionStore
	events    eventRecorder
	locks     *keyedMutex
	retry     RetryPolicy
	observer  Observer
	logger    *zap.Logger
	now       func() time.Time
}

// NewDatasetManager creates a DatasetManager over db.
func NewDatasetManager(db *gorm.DB, opts ...Option) *DatasetManager {
	o := buildOptions(opts)
	return &DatasetManager{
		db:        db,
		datasets:  NewDatasetStore(db),
		questions: NewQuestionStore(db),
		events:    eventRecorder{store: o.auditStore, logger: o.logger},
		locks:     newKeyedMutex(),
		retry:     o.retry,
		observer:  o.observer,
		logger:    o.logger.Named("datasets"),
		now:       o.now,
	}
}

// Create makes a new unpublished dataset version.
func (m *DatasetManager) Create(ctx context.Context, in CreateDatasetInput) (*DatasetVersionRecord, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, validationErrorf("dataset version name is required")
	}

	var created DatasetVersionRecord
	err := withRetry(ctx, m.retry, m.observer, "create dataset version", func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			datasets := m.datasets.WithTx(tx)

			existing, err := datasets.GetByName(ctx, name)
			if err != nil {
				return err
			}
			if existing != nil {
				return conflictf("dataset version %q already exists", name)
			}

			members, err := m.resolveInitialMembers(ctx, tx, in)
			if err != nil {
				return err
			}

			record := DatasetVersionRecord{
				Name:        name,
				Description: in.Description,
				CreatedBy:   normalizeActor(in.CreatedBy),
			}
			if err := datasets.Create(ctx, &record); err != nil {
				if db.IsUniqueViolation(err) {
					return conflictf("dataset version %q already exists", name)
				}
				return err
			}
			if err := datasets.AddMembers(ctx, record.ID, members); err != nil {
				return err
			}
			count, err := m.syncCount(ctx, datasets, record.ID)
			if err != nil {
				return err
			}
			record.QuestionCount = count
			created = record
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	m.events.record(ctx, &AuditEventRecord{
		EventType:    EventDatasetCreated,
		Actor:        created.CreatedBy,
		ResourceType: "dataset_version",
		ResourceID:   strconv.FormatUint(uint64(created.ID), 10),
		Action:       "dataset.create",
		NewValue:     JSONAny{"name": created.Name, "questionCount": created.QuestionCount},
	})
	m.logger.Info("dataset version created",
		zap.Uint("datasetVersionId", created.ID),
		zap.String("name", created.Name),
		zap.Int("questionCount", created.QuestionCount))
	return &created, nil
}

func (m *DatasetManager) resolveInitialMembers(ctx context.Context, tx *gorm.DB, in CreateDatasetInput) ([]uint, error) {
	if in.QuestionIDs == nil && in.BaseVersionID != nil {
		datasets := m.datasets.WithTx(tx)
		base, err := datasets.Get(ctx, *in.BaseVersionID)
		if err != nil {
			return nil, err
		}
		if base == nil {
			return nil, notFoundf("base dataset version %d", *in.BaseVersionID)
		}
		return datasets.MemberIDs(ctx, base.ID)
	}

	ids := sortedIDs(mapset.NewThreadUnsafeSet(in.QuestionIDs...))
	missing, err := m.questions.WithTx(tx).MissingIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, notFoundf("questions %v", missing)
	}
	return ids, nil
}

// syncCount recomputes question_count from the membership edges.
func (m *DatasetManager) syncCount(ctx context.Context, datasets *DatasetStore, id uint) (int, error) {
	count, err := datasets.CountMembers(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := datasets.Update(ctx, id, map[string]any{"question_count": count}); err != nil {
		return 0, err
	}
	return count, nil
}

// Get returns a dataset version.
func (m *DatasetManager) Get(ctx context.Context, id uint) (*DatasetVersionRecord, error) {
	record, err := m.datasets.Get(ctx, id)
	if err != nil {
		return nil, storageError("get dataset version", err)
	}
	if record == nil {
		return nil, notFoundf("dataset version %d", id)
	}
	return record, nil
}

// Describe returns a dataset version with its latest flag.
func (m *DatasetManager) Describe(ctx context.Context, id uint) (*DatasetSummary, error) {
	summary, err := m.datasets.GetSummary(ctx, id)
	if err != nil {
		return nil, storageError("get dataset version", err)
	}
	if summary == nil {
		return nil, notFoundf("dataset version %d", id)
	}
	return summary, nil
}

// List returns one page of matching dataset versions, newest first, with
// the latest one flagged.
func (m *DatasetManager) List(ctx context.Context, filter DatasetFilter, page, pageSize int) (Page[DatasetSummary], error) {
	page, pageSize = normalizePage(page, pageSize)
	records, total, err := m.datasets.List(ctx, filter, page, pageSize)
	if err != nil {
		return Page[DatasetSummary]{}, storageError("list dataset versions", err)
	}
	latestID, err := m.datasets.LatestID(ctx)
	if err != nil {
		return Page[DatasetSummary]{}, storageError("list dataset versions", err)
	}

	items := make([]DatasetSummary, len(records))
	for i, rec := range records {
		items[i] = DatasetSummary{DatasetVersionRecord: rec, IsLatest: rec.ID == latestID}
	}
	return Page[DatasetSummary]{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// NameExists reports whether a dataset version already uses name. Names are
// case-sensitive and compared after trimming.
func (m *DatasetManager) NameExists(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, validationErrorf("dataset version name is required")
	}
	record, err := m.datasets.GetByName(ctx, name)
	if err != nil {
		return false, storageError("check dataset version name", err)
	}
	return record != nil, nil
}

// ListQuestions returns the current state of every question in a dataset
// version. Membership pins question IDs only, so the content is live.
func (m *DatasetManager) ListQuestions(ctx context.Context, id uint) ([]QuestionRecord, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	ids, err := m.datasets.MemberIDs(ctx, id)
	if err != nil {
		return nil, storageError("list dataset questions", err)
	}
	questions := make([]QuestionRecord, 0, len(ids))
	if len(ids) == 0 {
		return questions, nil
	}
	if err := m.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&questions).Error; err != nil {
		return nil, storageError("list dataset questions", err)
	}
	return questions, nil
}

// MemberIDs returns the question IDs of a dataset version, ascending.
func (m *DatasetManager) MemberIDs(ctx context.Context, id uint) ([]uint, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	ids, err := m.datasets.MemberIDs(ctx, id)
	if err != nil {
		return nil, storageError("list dataset members", err)
	}
	return ids, nil
}

// AddQuestions adds questions to a dataset version. Already present IDs are
// ignored. An unknown dataset version is a validation error.
func (m *DatasetManager) AddQuestions(ctx context.Context, id uint, questionIDs []uint, actor string) (*DatasetSummary, error) {
	return m.mutateMembership(ctx, id, "add", actor, func(tx *gorm.DB, current mapset.Set[uint]) (int, error) {
		requested := mapset.NewThreadUnsafeSet(questionIDs...)
		missing, err := m.questions.WithTx(tx).MissingIDs(ctx, sortedIDs(requested))
		if err != nil {
			return 0, err
		}
		if len(missing) > 0 {
			return 0, notFoundf("questions %v", missing)
		}
		toAdd := sortedIDs(requested.Difference(current))
		return len(toAdd), m.datasets.WithTx(tx).AddMembers(ctx, id, toAdd)
	})
}

// RemoveQuestions removes questions from a dataset version. Absent IDs are
// ignored. An unknown dataset version is a validation error.
func (m *DatasetManager) RemoveQuestions(ctx context.Context, id uint, questionIDs []uint, actor string) (*DatasetSummary, error) {
	return m.mutateMembership(ctx, id, "remove", actor, func(tx *gorm.DB, current mapset.Set[uint]) (int, error) {
		toRemove := sortedIDs(mapset.NewThreadUnsafeSet(questionIDs...).Intersect(current))
		return -len(toRemove), m.datasets.WithTx(tx).RemoveMembers(ctx, id, toRemove)
	})
}

func (m *DatasetManager) mutateMembership(ctx context.Context, id uint, op, actor string, apply func(tx *gorm.DB, current mapset.Set[uint]) (int, error)) (*DatasetSummary, error) {
	release := m.locks.Lock(id)
	defer release()

	var (
		updated DatasetSummary
		before  int
		delta   int
	)
	err := withRetry(ctx, m.retry, m.observer, op+" dataset questions", func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			datasets := m.datasets.WithTx(tx)

			record, err := datasets.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if record == nil {
				return validationErrorf("dataset version %d does not exist", id)
			}

			currentIDs, err := datasets.MemberIDs(ctx, id)
			if err != nil {
				return err
			}
			before = len(currentIDs)

			delta, err = apply(tx, mapset.NewThreadUnsafeSet(currentIDs...))
			if err != nil {
				return err
			}

			count, err := m.syncCount(ctx, datasets, id)
			if err != nil {
				return err
			}
			record.QuestionCount = count
			updated = *record
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if delta != 0 {
		m.observer.DatasetMembershipChanged(op, delta)
		m.events.record(ctx, &AuditEventRecord{
			EventType:    EventDatasetMembership,
			Actor:        normalizeActor(actor),
			ResourceType: "dataset_version",
			ResourceID:   strconv.FormatUint(uint64(id), 10),
			Action:       "dataset.questions." + op,
			OldValue:     JSONAny{"questionCount": before},
			NewValue:     JSONAny{"questionCount": updated.QuestionCount},
		})
	}
	return &updated, nil
}

// Update changes a dataset version's name or description.
func (m *DatasetManager) Update(ctx context.Context, id uint, in UpdateDatasetInput, actor string) (*DatasetSummary, error) {
	var updated DatasetSummary
	err := withRetry(ctx, m.retry, m.observer, "update dataset version", func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			datasets := m.datasets.WithTx(tx)
			record, err := datasets.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if record == nil {
				return notFoundf("dataset version %d", id)
			}

			fields := map[string]any{}
			if in.Name != nil {
				name := strings.TrimSpace(*in.Name)
				if name == "" {
					return validationErrorf("dataset version name is required")
				}
				if name != record.Name {
					other, err := datasets.GetByName(ctx, name)
					if err != nil {
						return err
					}
					if other != nil {
						return conflictf("dataset version %q already exists", name)
					}
					fields["name"] = name
					record.Name = name
				}
			}
			if in.Description != nil {
				fields["description"] = *in.Description
				record.Description = *in.Description
			}
			if err := datasets.Update(ctx, id, fields); err != nil {
				if db.IsUniqueViolation(err) {
					return conflictf("dataset version %q already exists", record.Name)
				}
				return err
			}
			updated = *record
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	m.events.record(ctx, &AuditEventRecord{
		EventType:    EventDatasetUpdated,
		Actor:        normalizeActor(actor),
		ResourceType: "dataset_version",
		ResourceID:   strconv.FormatUint(uint64(id), 10),
		Action:       "dataset.update",
		NewValue:     JSONAny{"name": updated.Name, "description": updated.Description},
	})
	return &updated, nil
}

// Publish marks a non-empty dataset version as published. The release date
// is stamped only the first time; publishing again changes nothing.
func (m *DatasetManager) Publish(ctx context.Context, id uint, actor string) (*DatasetSummary, error) {
	release := m.locks.Lock(id)
	defer release()

	var (
		published DatasetSummary
		changed   bool
	)
	err := withRetry(ctx, m.retry, m.observer, "publish dataset version", func() error {
		changed = false
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			datasets := m.datasets.WithTx(tx)
			record, err := datasets.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if record == nil {
				return notFoundf("dataset version %d", id)
			}

			count, err := datasets.CountMembers(ctx, id)
			if err != nil {
				return err
			}
			if count == 0 {
				return invalidStatef("cannot publish an empty dataset")
			}

			fields := map[string]any{}
			if !record.IsPublished {
				fields["is_published"] = true
				record.IsPublished = true
			}
			if record.ReleaseDate == nil {
				now := m.now()
				fields["release_date"] = now
				record.ReleaseDate = &now
			}
			if len(fields) > 0 {
				if err := datasets.Update(ctx, id, fields); err != nil {
					return err
				}
				changed = true
			}
			published = *record
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if changed {
		m.observer.DatasetPublished()
		m.events.record(ctx, &AuditEventRecord{
			EventType:    EventDatasetPublished,
			Actor:        normalizeActor(actor),
			ResourceType: "dataset_version",
			ResourceID:   strconv.FormatUint(uint64(id), 10),
			Action:       "dataset.publish",
			NewValue:     JSONAny{"releaseDate": published.ReleaseDate.Format(time.RFC3339)},
		})
	}
	return &published, nil
}

// GetLatest returns the most recently created dataset version.
func (m *DatasetManager) GetLatest(ctx context.Context) (*DatasetVersionRecord, error) {
	record, err := m.datasets.Latest(ctx)
	if err != nil {
		return nil, storageError("latest dataset version", err)
	}
	if record == nil {
		return nil, notFoundf("no dataset versions exist")
	}
	return record, nil
}

// GetLatestPublished returns the published dataset version released most
// recently.
func (m *DatasetManager) GetLatestPublished(ctx context.Context) (*DatasetVersionRecord, error) {
	record, err := m.datasets.LatestPublished(ctx)
	if err != nil {
		return nil, storageError("latest published dataset version", err)
	}
	if record == nil {
		return nil, notFoundf("no published dataset versions exist")
	}
	return record, nil
}

// Delete removes a dataset version and its membership edges.
func (m *DatasetManager) Delete(ctx context.Context, id uint, actor string) error {
	release := m.locks.Lock(id)
	defer release()

	var name string
	err := withRetry(ctx, m.retry, m.observer, "delete dataset version", func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			datasets := m.datasets.WithTx(tx)
			record, err := datasets.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if record == nil {
				return notFoundf("dataset version %d", id)
			}
			name = record.Name
			_, err = datasets.Delete(ctx, id)
			return err
		})
	})
	if err != nil {
		return err
	}

	m.events.record(ctx, &AuditEventRecord{
		EventType:    EventDatasetDeleted,
		Actor:        normalizeActor(actor),
		ResourceType: "dataset_version",
		ResourceID:   strconv.FormatUint(uint64(id), 10),
		Action:       "dataset.delete",
		OldValue:     JSONAny{"name": name},
	})
	return nil
}
