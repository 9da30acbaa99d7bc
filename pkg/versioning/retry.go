package versioning

import (
	"context"
	"time"

	"github.com/llmeval/qa-registry/pkg/db"
)

// RetryPolicy bounds how often a version write is retried after losing a
// numbering race or hitting a transient storage failure.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Backoff: 20 * time.Millisecond}
}

// Observer receives counters from the managers. pkg/metrics provides the
// Prometheus implementation.
type Observer interface {
	VersionCreated(kind string)
	WriteRetried(reason string)
	DatasetPublished()
	DatasetMembershipChanged(op string, delta int)
}

type noopObserver struct{}

func (noopObserver) VersionCreated(string)                {}
func (noopObserver) WriteRetried(string)                  {}
func (noopObserver) DatasetPublished()                    {}
func (noopObserver) DatasetMembershipChanged(string, int) {}

// retryReason classifies err for the retry loop; "" means not retryable.
func retryReason(err error) string {
	switch {
	case db.IsUniqueViolation(err):
		return "conflict"
	case db.IsTransient(err):
		return "transient"
	default:
		return ""
	}
}

// withRetry runs fn until it succeeds, fails with a non-retryable error, or
// the policy is exhausted. Exhaustion is reported as ErrStorage.
func withRetry(ctx context.Context, policy RetryPolicy, obs Observer, op string, fn func() error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if isDomainError(lastErr) {
			return lastErr
		}
		reason := retryReason(lastErr)
		if reason == "" {
			return storageError(op, lastErr)
		}
		if attempt == attempts {
			break
		}
		obs.WriteRetried(reason)

		if policy.Backoff > 0 {
			timer := time.NewTimer(policy.Backoff * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return storageError(op, ctx.Err())
			case <-timer.C:
			}
		}
	}
	return storageError(op+": retries exhausted", lastErr)
}
