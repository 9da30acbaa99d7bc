package versioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Domain event types written to the audit log.
const (
	EventVersionCreated    = "question.version.created"
	EventVersionRolledBack = "question.version.rolledback"
	EventVersionDeleted    = "question.version.deleted"
	EventDatasetCreated    = "dataset.created"
	EventDatasetUpdated    = "dataset.updated"
	EventDatasetPublished  = "dataset.published"
	EventDatasetMembership = "dataset.membership.changed"
	EventDatasetDeleted    = "dataset.deleted"
)

// AuditStore provides append-only operations for audit event records.
type AuditStore struct {
	db *gorm.DB
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db}
}

// AutoMigrate creates or updates the audit_events table.
func (s *AuditStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&AuditEventRecord{}); err != nil {
		return fmt.Errorf("auto-migrate audit_events: %w", err)
	}
	return nil
}

// Append creates a new immutable audit event record.
func (s *AuditStore) Append(event *AuditEventRecord) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if err := s.db.Create(event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// GetByID returns a single audit event.
// Returns nil, nil if no record exists.
func (s *AuditStore) GetByID(id string) (*AuditEventRecord, error) {
	var record AuditEventRecord
	err := s.db.Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get audit event: %w", err)
	}
	return &record, nil
}

// AuditListFilter narrows ListFiltered. Empty fields match everything.
type AuditListFilter struct {
	Actor        string
	EventType    string
	ResourceType string
	ResourceID   string
	Action       string
}

// ListFiltered returns paginated audit events ordered by created_at DESC.
// pageToken is an RFC3339Nano timestamp; events with created_at < pageToken are returned.
func (s *AuditStore) ListFiltered(filter AuditListFilter, pageSize int, pageToken string) ([]AuditEventRecord, string, int, error) {
	_, pageSize = normalizePage(1, pageSize)

	apply := func(q *gorm.DB) *gorm.DB {
		if filter.Actor != "" {
			q = q.Where("actor = ?", filter.Actor)
		}
		if filter.EventType != "" {
			q = q.Where("event_type = ?", filter.EventType)
		}
		if filter.ResourceType != "" {
			q = q.Where("resource_type = ?", filter.ResourceType)
		}
		if filter.ResourceID != "" {
			q = q.Where("resource_id = ?", filter.ResourceID)
		}
		if filter.Action != "" {
			q = q.Where("action = ?", filter.Action)
		}
		return q
	}

	var totalSize int64
	if err := apply(s.db.Model(&AuditEventRecord{})).Count(&totalSize).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count audit events: %w", err)
	}

	query := apply(s.db.Order("created_at DESC").Limit(pageSize + 1))
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", 0, fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("created_at < ?", t.UTC())
	}

	var records []AuditEventRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list audit events: %w", err)
	}

	var nextToken string
	if len(records) > pageSize {
		nextToken = records[pageSize-1].CreatedAt.Format(time.RFC3339Nano)
		records = records[:pageSize]
	}

	return records, nextToken, int(totalSize), nil
}

// DeleteOlderThan deletes audit events created before the given cutoff time.
// Returns the number of deleted records.
func (s *AuditStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", cutoff.UTC()).Delete(&AuditEventRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old audit events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// eventRecorder writes domain events after a mutation has committed. A
// failed write is logged and never fails the caller.
type eventRecorder struct {
	store  *AuditStore
	logger *zap.Logger
}

func (r eventRecorder) record(ctx context.Context, event *AuditEventRecord) {
	if r.store == nil {
		return
	}
	if event.Outcome == "" {
		event.Outcome = "success"
	}
	if event.CorrelationID == "" {
		event.CorrelationID = CorrelationIDFromContext(ctx)
	}
	if err := r.store.Append(event); err != nil {
		r.logger.Warn("failed to write audit event",
			zap.String("eventType", event.EventType),
			zap.String("resourceId", event.ResourceID),
			zap.Error(err))
	}
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation ID to ctx; domain audit events
// written under ctx carry it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationIDFromContext returns the correlation ID stored in ctx, or a new one.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}
