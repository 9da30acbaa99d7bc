package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/llmeval/qa-registry/pkg/versioning"
)

// RetentionWorker periodically cleans up old audit events.
type RetentionWorker struct {
	store     *versioning.AuditStore
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewRetentionWorker creates a new RetentionWorker from cfg. A nil cfg uses
// the defaults; a non-positive interval falls back to daily.
func NewRetentionWorker(store *versioning.AuditStore, cfg *AuditConfig, logger *zap.Logger) *RetentionWorker {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.RetentionInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionWorker{
		store:     store,
		retention: cfg.Retention(),
		interval:  interval,
		logger:    logger.Named("audit-retention"),
		now:       time.Now,
	}
}

// Run starts the retention worker. It runs until the context is cancelled.
// One pass runs immediately so a restarted server catches up.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.store == nil || w.retention <= 0 {
		w.logger.Info("audit retention worker disabled",
			zap.Bool("hasStore", w.store != nil),
			zap.Int("retentionDays", int(w.retention.Hours()/24)))
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("audit retention worker started",
		zap.Int("retentionDays", int(w.retention.Hours()/24)),
		zap.Duration("interval", w.interval))

	w.Cleanup()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("audit retention worker stopped")
			return
		case <-ticker.C:
			w.Cleanup()
		}
	}
}

// Cleanup performs a single retention pass and returns the number of
// deleted events.
func (w *RetentionWorker) Cleanup() int64 {
	cutoff := w.now().Add(-w.retention)
	deleted, err := w.store.DeleteOlderThan(cutoff)
	if err != nil {
		w.logger.Error("audit retention cleanup failed", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		w.logger.Info("audit retention cleanup completed",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
	return deleted
}
