package audit

import "time"

// AuditConfig controls audit behavior.
type AuditConfig struct {
	Enabled           bool          `mapstructure:"enabled"`           // Whether audit middleware is active
	LogDenied         bool          `mapstructure:"logDenied"`         // Whether to log denied (403) actions
	RetentionDays     int           `mapstructure:"retentionDays"`     // Default 90; 0 disables cleanup
	RetentionInterval time.Duration `mapstructure:"retentionInterval"` // How often the cleanup runs
}

// DefaultAuditConfig returns the default configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:           true,
		LogDenied:         true,
		RetentionDays:     90,
		RetentionInterval: 24 * time.Hour,
	}
}

// Retention returns the retention period as a duration.
func (c *AuditConfig) Retention() time.Duration {
	if c == nil || c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
