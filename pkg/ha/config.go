// Package ha provides high-availability primitives for running the registry
// server with multiple replicas sharing one database: migration locking and
// database lease based leader election for singleton background loops.
package ha

import (
	"os"
	"time"
)

// HAConfig holds configuration for high-availability features.
type HAConfig struct {
	// LeaderElectionEnabled controls whether lease-based leader election is
	// active. When false, the instance behaves as the sole leader (suitable
	// for single-replica deployments).
	LeaderElectionEnabled bool `mapstructure:"leaderElectionEnabled"`

	// LeaseName is the name of the lease row used for leader election.
	LeaseName string `mapstructure:"leaseName"`

	// LeaseDuration is how long a lease stays valid without renewal.
	// Other replicas take over once it has expired.
	LeaseDuration time.Duration `mapstructure:"leaseDuration"`

	// RetryPeriod is the interval between acquire and renew attempts.
	// It must be shorter than LeaseDuration.
	RetryPeriod time.Duration `mapstructure:"retryPeriod"`

	// MigrationLockEnabled controls whether database migration locking
	// is used to prevent concurrent schema changes.
	MigrationLockEnabled bool `mapstructure:"migrationLockEnabled"`

	// Identity is the unique identity of this instance for leader election.
	// Defaults to the pod name (from POD_NAME env var or hostname).
	Identity string `mapstructure:"identity"`
}

// DefaultHAConfig returns an HAConfig with sensible defaults.
func DefaultHAConfig() *HAConfig {
	return &HAConfig{
		LeaderElectionEnabled: false,
		LeaseName:             "qa-registry-leader",
		LeaseDuration:         15 * time.Second,
		RetryPeriod:           2 * time.Second,
		MigrationLockEnabled:  true,
		Identity:              DefaultIdentity(),
	}
}

// DefaultIdentity returns POD_NAME, else the hostname, else "unknown".
func DefaultIdentity() string {
	if v := os.Getenv("POD_NAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}
