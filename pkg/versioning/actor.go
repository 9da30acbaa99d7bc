package versioning

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SystemActor is recorded when a change has no identifiable author.
const SystemActor = "system"

// ActorResolver maps an actor ID to a display name for presentation.
type ActorResolver interface {
	DisplayName(ctx context.Context, actorID string) string
}

// UserStore is the gorm-backed ActorResolver.
type UserStore struct {
	db *gorm.DB
}

// NewUserStore creates a new UserStore.
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// AutoMigrate creates or updates the users table.
func (s *UserStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&UserRecord{}); err != nil {
		return fmt.Errorf("auto-migrate users: %w", err)
	}
	return nil
}

// Upsert creates a user or updates its display name.
func (s *UserStore) Upsert(ctx context.Context, record *UserRecord) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name"}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// DisplayName returns the user's display name, falling back to the ID
// itself when the user is unknown or the lookup fails.
func (s *UserStore) DisplayName(ctx context.Context, actorID string) string {
	if actorID == "" {
		return SystemActor
	}
	var record UserRecord
	err := s.db.WithContext(ctx).Where("id = ?", actorID).First(&record).Error
	if err != nil || record.DisplayName == "" {
		return actorID
	}
	return record.DisplayName
}

// normalizeActor returns actor, or SystemActor when it is blank.
func normalizeActor(actor string) string {
	if actor == "" {
		return SystemActor
	}
	return actor
}
