package ha

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// leaseRecord is one named leadership lease.
type leaseRecord struct {
	Name      string    `gorm:"primaryKey;column:name;type:varchar(128)"`
	Holder    string    `gorm:"column:holder;type:varchar(255);not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
	RenewedAt time.Time `gorm:"column:renewed_at"`
}

func (leaseRecord) TableName() string { return "leader_leases" }

// LeaderElector runs lease-based leader election over the shared database so
// that singleton background loops, such as audit retention, run on exactly
// one replica.
type LeaderElector struct {
	config   *HAConfig
	db       *gorm.DB
	identity string
	isLeader bool
	mu       sync.RWMutex
	logger   *zap.Logger
	now      func() time.Time
	onStart  func(ctx context.Context)
	onStop   func()
}

// NewLeaderElector creates a new LeaderElector. The identity should be unique
// per replica (typically the pod name or hostname).
func NewLeaderElector(cfg *HAConfig, db *gorm.DB, identity string, logger *zap.Logger) *LeaderElector {
	if cfg == nil {
		cfg = DefaultHAConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaderElector{
		config:   cfg,
		db:       db,
		identity: identity,
		logger:   logger.Named("leader"),
		now:      time.Now,
	}
}

// OnStartLeading registers a callback invoked when this instance becomes leader.
// The provided context is cancelled when leadership is lost.
func (le *LeaderElector) OnStartLeading(fn func(ctx context.Context)) {
	le.onStart = fn
}

// OnStopLeading registers a callback invoked when this instance loses leadership.
func (le *LeaderElector) OnStopLeading(fn func()) {
	le.onStop = fn
}

// IsLeader returns true if this instance is the current leader.
func (le *LeaderElector) IsLeader() bool {
	le.mu.RLock()
	defer le.mu.RUnlock()
	return le.isLeader
}

func (le *LeaderElector) setLeader(v bool) {
	le.mu.Lock()
	le.isLeader = v
	le.mu.Unlock()
}

// Run starts leader election. It blocks until the context is cancelled.
// With election disabled the instance leads unconditionally.
func (le *LeaderElector) Run(ctx context.Context) error {
	if !le.config.LeaderElectionEnabled || le.db == nil {
		le.setLeader(true)
		le.startLeading(ctx)
		<-ctx.Done()
		le.setLeader(false)
		return nil
	}

	if err := le.db.WithContext(ctx).AutoMigrate(&leaseRecord{}); err != nil {
		return fmt.Errorf("migrate leader lease table: %w", err)
	}

	le.logger.Info("starting leader election",
		zap.String("identity", le.identity),
		zap.String("lease", le.config.LeaseName),
		zap.Duration("leaseDuration", le.config.LeaseDuration),
		zap.Duration("retryPeriod", le.config.RetryPeriod))

	ticker := time.NewTicker(le.config.RetryPeriod)
	defer ticker.Stop()

	var (
		leadCtx    context.Context
		stopLeader context.CancelFunc
		done       chan struct{}
	)
	stop := func() {
		if stopLeader == nil {
			return
		}
		stopLeader()
		<-done
		stopLeader = nil
		le.setLeader(false)
		le.logger.Info("lost leadership", zap.String("identity", le.identity))
		if le.onStop != nil {
			le.onStop()
		}
	}

	for {
		acquired, err := le.tryAcquireOrRenew(ctx)
		if err != nil && ctx.Err() == nil {
			le.logger.Warn("lease update failed", zap.Error(err))
		}
		switch {
		case acquired && stopLeader == nil:
			le.setLeader(true)
			le.logger.Info("elected as leader", zap.String("identity", le.identity))
			leadCtx, stopLeader = context.WithCancel(ctx)
			done = make(chan struct{})
			go func(ctx context.Context, done chan struct{}) {
				defer close(done)
				le.startLeading(ctx)
				<-ctx.Done()
			}(leadCtx, done)
		case !acquired && stopLeader != nil:
			stop()
		}

		select {
		case <-ctx.Done():
			stop()
			le.release()
			return nil
		case <-ticker.C:
		}
	}
}

func (le *LeaderElector) startLeading(ctx context.Context) {
	if le.onStart != nil {
		le.onStart(ctx)
	}
}

// tryAcquireOrRenew extends the lease if this instance holds it or it has
// expired, and creates it if it does not exist yet.
func (le *LeaderElector) tryAcquireOrRenew(ctx context.Context) (bool, error) {
	now := le.now().UTC()
	expires := now.Add(le.config.LeaseDuration)

	result := le.db.WithContext(ctx).Model(&leaseRecord{}).
		Where("name = ? AND (holder = ? OR expires_at < ?)", le.config.LeaseName, le.identity, now).
		Updates(map[string]any{"holder": le.identity, "expires_at": expires, "renewed_at": now})
	if result.Error != nil {
		return false, fmt.Errorf("renew lease: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	result = le.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&leaseRecord{
		Name:      le.config.LeaseName,
		Holder:    le.identity,
		ExpiresAt: expires,
		RenewedAt: now,
	})
	if result.Error != nil {
		return false, fmt.Errorf("create lease: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// release expires the lease immediately if this instance holds it so another
// replica can take over without waiting.
func (le *LeaderElector) release() {
	err := le.db.Model(&leaseRecord{}).
		Where("name = ? AND holder = ?", le.config.LeaseName, le.identity).
		Update("expires_at", le.now().UTC().Add(-time.Second)).Error
	if err != nil {
		le.logger.Warn("failed to release lease", zap.Error(err))
	}
}
