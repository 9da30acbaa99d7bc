package versioning

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// VersionManager owns questions and their version logs. Every mutation
// appends one record and moves the question projection in the same
// transaction.
type VersionManager struct {
	db        *gorm.DB
	questions *QuestionStore
	versions  *VersionStore
	datasets  *DatasetStore
	events    eventRecorder
	locks     *keyedMutex
	retry     RetryPolicy
	observer  Observer
	logger    *zap.Logger
	now       func() time.Time
}

// NewVersionManager creates a VersionManager over db.
func NewVersionManager(db *gorm.DB, opts ...Option) *VersionManager {
	o := buildOptions(opts)
	return &VersionManager{
		db:        db,
		questions: NewQuestionStore(db),
		versions:  NewVersionStore(db),
		datasets:  NewDatasetStore(db),
		events:    eventRecorder{store: o.auditStore, logger: o.logger},
		locks:     newKeyedMutex(),
		retry:     o.retry,
		observer:  o.observer,
		logger:    o.logger.Named("versions"),
		now:       o.now,
	}
}

// CreateQuestion registers a new question with an empty version history.
func (m *VersionManager) CreateQuestion(ctx context.Context, in QuestionInput) (*QuestionRecord, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, validationErrorf("question body is required")
	}
	if _, err := ParseQuestionType(string(in.QuestionType)); err != nil {
		return nil, err
	}
	if _, err := ParseDifficulty(string(in.Difficulty)); err != nil {
		return nil, err
	}

	record := &QuestionRecord{
		Question:     in.Question,
		CategoryID:   in.CategoryID,
		QuestionType: in.QuestionType,
		Difficulty:   in.Difficulty,
		Status:       StatusDraft,
		CreatedBy:    normalizeActor(in.CreatedBy),
	}
	if err := m.questions.Create(ctx, record); err != nil {
		return nil, storageError("create question", err)
	}
	return record, nil
}

// GetQuestion returns the current projection of a question.
func (m *VersionManager) GetQuestion(ctx context.Context, questionID uint) (*QuestionRecord, error) {
	q, err := m.questions.Get(ctx, questionID)
	if err != nil {
		return nil, storageError("get question", err)
	}
	if q == nil {
		return nil, notFoundf("question %d", questionID)
	}
	return q, nil
}

// CreateVersion appends a version carrying the new body. Category, type
// and difficulty are taken from the question as it stands.
func (m *VersionManager) CreateVersion(ctx context.Context, questionID uint, in VersionInput) (*QuestionVersionRecord, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, validationErrorf("question body is required")
	}

	record, err := m.appendVersion(ctx, questionID, "create version", func(q *QuestionRecord) QuestionVersionRecord {
		return QuestionVersionRecord{
			Question:     in.Question,
			CategoryID:   q.CategoryID,
			QuestionType: q.QuestionType,
			Difficulty:   q.Difficulty,
			ChangeReason: in.ChangeReason,
			ChangedBy:    normalizeActor(in.ChangedBy),
		}
	})
	if err != nil {
		return nil, err
	}

	m.observer.VersionCreated("edit")
	m.events.record(ctx, &AuditEventRecord{
		EventType:    EventVersionCreated,
		Actor:        record.ChangedBy,
		ResourceType: "question",
		ResourceID:   strconv.FormatUint(uint64(questionID), 10),
		Action:       "version.create",
		Reason:       in.ChangeReason,
		NewValue:     JSONAny{"versionId": record.ID, "versionNumber": record.VersionNumber},
	})
	m.logger.Debug("version created",
		zap.Uint("questionId", questionID),
		zap.Int("versionNumber", record.VersionNumber))
	return record, nil
}

// Rollback appends a new version whose content is copied from an earlier
// one. History is never rewritten; the counter only moves forward.
func (m *VersionManager) Rollback(ctx context.Context, questionID, targetVersionID uint, changeReason, actor string) (*QuestionVersionRecord, error) {
	target, err := m.versions.Get(ctx, targetVersionID)
	if err != nil {
		return nil, storageError("get rollback target", err)
	}
	if target == nil {
		return nil, notFoundf("version %d", targetVersionID)
	}
	if target.QuestionID != questionID {
		return nil, validationErrorf("version %d belongs to question %d, not %d", targetVersionID, target.QuestionID, questionID)
	}

	reason := rollbackReason(target.VersionNumber, changeReason)
	record, err := m.appendVersion(ctx, questionID, "rollback", func(*QuestionRecord) QuestionVersionRecord {
		return QuestionVersionRecord{
			Question:     target.Question,
			CategoryID:   target.CategoryID,
			QuestionType: target.QuestionType,
			Difficulty:   target.Difficulty,
			ChangeReason: reason,
			ChangedBy:    normalizeActor(actor),
		}
	})
	if err != nil {
		return nil, err
	}

	m.observer.VersionCreated("rollback")
	m.events.record(ctx, &AuditEventRecord{
		EventType:    EventVersionRolledBack,
		Actor:        record.ChangedBy,
		ResourceType: "question",
		ResourceID:   strconv.FormatUint(uint64(questionID), 10),
		Action:       "version.rollback",
		Reason:       changeReason,
		OldValue:     JSONAny{"versionId": target.ID, "versionNumber": target.VersionNumber},
		NewValue:     JSONAny{"versionId": record.ID, "versionNumber": record.VersionNumber},
	})
	return record, nil
}

func rollbackReason(targetNumber int, reason string) string {
	base := fmt.Sprintf("rollback to v%d", targetNumber)
	if strings.TrimSpace(reason) == "" {
		return base
	}
	return base + ": " + reason
}

// appendVersion allocates the next number and writes the record and the
// projection in one transaction. In-process callers are serialized per
// question; the unique index plus retry covers other replicas.
func (m *VersionManager) appendVersion(ctx context.Context, questionID uint, op string, build func(q *QuestionRecord) QuestionVersionRecord) (*QuestionVersionRecord, error) {
	release := m.locks.Lock(questionID)
	defer release()

	var created QuestionVersionRecord
	err := withRetry(ctx, m.retry, m.observer, op, func() error {
		return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			questions := m.questions.WithTx(tx)
			versions := m.versions.WithTx(tx)

			q, err := questions.GetForUpdate(ctx, questionID)
			if err != nil {
				return err
			}
			if q == nil {
				return notFoundf("question %d", questionID)
			}

			maxNumber, err := versions.MaxVersionNumber(ctx, questionID)
			if err != nil {
				return err
			}

			record := build(q)
			record.ID = 0
			record.QuestionID = questionID
			record.VersionNumber = maxNumber + 1
			if err := versions.Create(ctx, &record); err != nil {
				return err
			}

			if err := questions.ApplyProjection(ctx, questionID, Projection{
				Question:       record.Question,
				CategoryID:     record.CategoryID,
				QuestionType:   record.QuestionType,
				Difficulty:     record.Difficulty,
				CurrentVersion: record.VersionNumber,
			}); err != nil {
				return err
			}

			created = record
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// GetHistory returns every live version of a question, newest first. A
// question without history yields an empty slice.
func (m *VersionManager) GetHistory(ctx context.Context, questionID uint) ([]QuestionVersionRecord, error) {
	records, err := m.versions.ListByQuestion(ctx, questionID)
	if err != nil {
		return nil, storageError("get history", err)
	}
	if records == nil {
		records = []QuestionVersionRecord{}
	}
	return records, nil
}

// GetHistoryPage returns one page of GetHistory.
func (m *VersionManager) GetHistoryPage(ctx context.Context, questionID uint, page, pageSize int) (Page[QuestionVersionRecord], error) {
	page, pageSize = normalizePage(page, pageSize)
	records, total, err := m.versions.ListPage(ctx, questionID, page, pageSize)
	if err != nil {
		return Page[QuestionVersionRecord]{}, storageError("get history page", err)
	}
	if records == nil {
		records = []QuestionVersionRecord{}
	}
	return Page[QuestionVersionRecord]{Items: records, Total: total, Page: page, PageSize: pageSize}, nil
}

// GetVersion returns a live version record.
func (m *VersionManager) GetVersion(ctx context.Context, versionID uint) (*QuestionVersionRecord, error) {
	record, err := m.versions.Get(ctx, versionID)
	if err != nil {
		return nil, storageError("get version", err)
	}
	if record == nil {
		return nil, notFoundf("version %d", versionID)
	}
	return record, nil
}

// GetLatest returns the record the question projection points at. A
// missing record means projection and log disagree; that is reported as
// ErrNotFound and left for an operator to inspect.
func (m *VersionManager) GetLatest(ctx context.Context, questionID uint) (*QuestionVersionRecord, error) {
	q, err := m.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q.CurrentVersion == 0 {
		return nil, notFoundf("question %d has no versions", questionID)
	}
	record, err := m.versions.GetByNumber(ctx, questionID, q.CurrentVersion)
	if err != nil {
		return nil, storageError("get latest version", err)
	}
	if record == nil {
		m.logger.Warn("question projection points at a missing version",
			zap.Uint("questionId", questionID),
			zap.Int("currentVersion", q.CurrentVersion))
		return nil, notFoundf("version %d of question %d", q.CurrentVersion, questionID)
	}
	return record, nil
}

// GetNextVersionNumber returns the number the next append would receive.
func (m *VersionManager) GetNextVersionNumber(ctx context.Context, questionID uint) (int, error) {
	maxNumber, err := m.versions.MaxVersionNumber(ctx, questionID)
	if err != nil {
		return 0, storageError("next version number", err)
	}
	return maxNumber + 1, nil
}

// DeleteVersion soft-deletes a version record. Surviving records keep their
// numbers. The question's current version cannot be deleted.
func (m *VersionManager) DeleteVersion(ctx context.Context, versionID uint, actor string) error {
	record, err := m.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}

	release := m.locks.Lock(record.QuestionID)
	defer release()

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := m.questions.WithTx(tx).GetForUpdate(ctx, record.QuestionID)
		if err != nil {
			return err
		}
		if q != nil && q.CurrentVersion == record.VersionNumber {
			return invalidStatef("version %d is the current version of question %d", versionID, record.QuestionID)
		}
		return m.versions.WithTx(tx).SoftDelete(ctx, versionID)
	})
	if err != nil {
		if isDomainError(err) {
			return err
		}
		return storageError("delete version", err)
	}

	m.events.record(ctx, &AuditEventRecord{
		EventType:    EventVersionDeleted,
		Actor:        normalizeActor(actor),
		ResourceType: "version",
		ResourceID:   strconv.FormatUint(uint64(versionID), 10),
		Action:       "version.delete",
		OldValue:     JSONAny{"questionId": record.QuestionID, "versionNumber": record.VersionNumber},
	})
	return nil
}

// CountVersions returns the number of live versions of a question.
func (m *VersionManager) CountVersions(ctx context.Context, questionID uint) (int64, error) {
	count, err := m.versions.CountByQuestion(ctx, questionID)
	if err != nil {
		return 0, storageError("count versions", err)
	}
	return count, nil
}

// QuestionStats returns the number of live versions and the latest one.
func (m *VersionManager) QuestionStats(ctx context.Context, questionID uint) (*QuestionVersionStats, error) {
	if _, err := m.GetQuestion(ctx, questionID); err != nil {
		return nil, err
	}
	count, err := m.CountVersions(ctx, questionID)
	if err != nil {
		return nil, err
	}
	stats := &QuestionVersionStats{QuestionID: questionID, VersionCount: count}
	if count > 0 {
		latest, err := m.GetLatest(ctx, questionID)
		if err != nil {
			return nil, err
		}
		stats.LatestVersion = latest
	}
	return stats, nil
}

// ListChangesBetween returns versions created in [start, end], newest first.
func (m *VersionManager) ListChangesBetween(ctx context.Context, start, end time.Time) ([]QuestionVersionRecord, error) {
	if end.Before(start) {
		return nil, validationErrorf("end time is before start time")
	}
	records, err := m.versions.ListBetween(ctx, start, end)
	if err != nil {
		return nil, storageError("list changes", err)
	}
	return records, nil
}

// ListByActor returns versions written by actor, newest first.
func (m *VersionManager) ListByActor(ctx context.Context, actor string) ([]QuestionVersionRecord, error) {
	if actor == "" {
		return nil, validationErrorf("actor is required")
	}
	records, err := m.versions.ListByActor(ctx, actor)
	if err != nil {
		return nil, storageError("list changes by actor", err)
	}
	return records, nil
}

// Statistics summarizes version and dataset activity.
func (m *VersionManager) Statistics(ctx context.Context) (*VersionStatistics, error) {
	var stats VersionStatistics
	var err error

	if stats.TotalDatasetVersions, err = m.datasets.Count(ctx, false); err != nil {
		return nil, storageError("statistics", err)
	}
	if stats.PublishedDatasetVersions, err = m.datasets.Count(ctx, true); err != nil {
		return nil, storageError("statistics", err)
	}
	if stats.TotalQuestionVersions, err = m.versions.CountAll(ctx); err != nil {
		return nil, storageError("statistics", err)
	}
	if stats.QuestionsWithMultipleVersions, err = m.versions.CountQuestionsWithMultipleVersions(ctx); err != nil {
		return nil, storageError("statistics", err)
	}

	latest, err := m.datasets.Latest(ctx)
	if err != nil {
		return nil, storageError("statistics", err)
	}
	if latest != nil {
		stats.LatestDatasetVersion = latest.Name
	}

	now := m.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	if stats.VersionChangesThisMonth, err = m.versions.CountSince(ctx, startOfMonth); err != nil {
		return nil, storageError("statistics", err)
	}
	if stats.VersionChangesToday, err = m.versions.CountSince(ctx, startOfDay); err != nil {
		return nil, storageError("statistics", err)
	}
	return &stats, nil
}

// Replay rebuilds a question's projection from its version log.
func (m *VersionManager) Replay(ctx context.Context, questionID uint) (Projection, error) {
	last, err := m.versions.LastLive(ctx, questionID)
	if err != nil {
		return Projection{}, storageError("replay", err)
	}
	if last == nil {
		return Projection{}, nil
	}
	return Projection{
		Question:       last.Question,
		CategoryID:     last.CategoryID,
		QuestionType:   last.QuestionType,
		Difficulty:     last.Difficulty,
		CurrentVersion: last.VersionNumber,
	}, nil
}

// VerifyProjection compares the stored projection with one replayed from
// the log and returns an ErrInvalidState error naming the first mismatch.
func (m *VersionManager) VerifyProjection(ctx context.Context, questionID uint) error {
	q, err := m.GetQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	replayed, err := m.Replay(ctx, questionID)
	if err != nil {
		return err
	}
	if replayed.CurrentVersion == 0 {
		if q.CurrentVersion != 0 {
			return invalidStatef("question %d points at v%d but has no versions", questionID, q.CurrentVersion)
		}
		return nil
	}
	switch {
	case q.CurrentVersion != replayed.CurrentVersion:
		return invalidStatef("question %d current version %d, log says %d", questionID, q.CurrentVersion, replayed.CurrentVersion)
	case q.Question != replayed.Question:
		return invalidStatef("question %d body differs from v%d", questionID, replayed.CurrentVersion)
	case !equalUintPtr(q.CategoryID, replayed.CategoryID):
		return invalidStatef("question %d category differs from v%d", questionID, replayed.CurrentVersion)
	case q.QuestionType != replayed.QuestionType || q.Difficulty != replayed.Difficulty:
		return invalidStatef("question %d classification differs from v%d", questionID, replayed.CurrentVersion)
	}
	return nil
}

func equalUintPtr(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
