package versioning

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a VersionManager or DatasetManager.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	retry      RetryPolicy
	observer   Observer
	auditStore *AuditStore
	now        func() time.Time
}

func defaultOptions() options {
	return options{
		logger:   zap.NewNop(),
		retry:    DefaultRetryPolicy(),
		observer: noopObserver{},
		now:      time.Now,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRetryPolicy overrides the default write retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithObserver installs a metrics observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithAuditStore enables domain audit events.
func WithAuditStore(store *AuditStore) Option {
	return func(o *options) { o.auditStore = store }
}

// WithClock overrides the time source used for release dates and statistics windows.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
