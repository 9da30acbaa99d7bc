package ha

import (
	"os"
	"testing"
	"time"
)

func TestDefaultHAConfig(t *testing.T) {
	cfg := DefaultHAConfig()

	if cfg.LeaderElectionEnabled {
		t.Error("LeaderElectionEnabled should be false by default")
	}
	if cfg.LeaseName != "qa-registry-leader" {
		t.Errorf("LeaseName = %q, want %q", cfg.LeaseName, "qa-registry-leader")
	}
	if cfg.LeaseDuration != 15*time.Second {
		t.Errorf("LeaseDuration = %v, want %v", cfg.LeaseDuration, 15*time.Second)
	}
	if cfg.RetryPeriod != 2*time.Second {
		t.Errorf("RetryPeriod = %v, want %v", cfg.RetryPeriod, 2*time.Second)
	}
	if !cfg.MigrationLockEnabled {
		t.Error("MigrationLockEnabled should be true by default")
	}
	if cfg.Identity == "" {
		t.Error("Identity should default to a non-empty value")
	}
}

func TestDefaultIdentity_FromPodName(t *testing.T) {
	t.Setenv("POD_NAME", "qa-registry-abc-123")

	if got := DefaultIdentity(); got != "qa-registry-abc-123" {
		t.Errorf("DefaultIdentity() = %q, want %q", got, "qa-registry-abc-123")
	}
}

func TestDefaultIdentity_FallsBackToHostname(t *testing.T) {
	t.Setenv("POD_NAME", "")

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "unknown"
	}
	if got := DefaultIdentity(); got != hostname {
		t.Errorf("DefaultIdentity() = %q, want %q", got, hostname)
	}
}
