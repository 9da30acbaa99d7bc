// Package config loads the registry server configuration from an optional
// YAML file with QAREG_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/llmeval/qa-registry/pkg/audit"
	"github.com/llmeval/qa-registry/pkg/authz"
	"github.com/llmeval/qa-registry/pkg/cache"
	"github.com/llmeval/qa-registry/pkg/db"
	"github.com/llmeval/qa-registry/pkg/ha"
	"github.com/llmeval/qa-registry/pkg/logging"
	"github.com/llmeval/qa-registry/pkg/versioning"
)

// EnvPrefix is prepended to every environment override, e.g.
// QAREG_DATABASE_DSN overrides database.dsn.
const EnvPrefix = "QAREG"

// ConfigPathEnv names the file to load when no path is given.
const ConfigPathEnv = EnvPrefix + "_CONFIG"

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig      `mapstructure:"server"`
	Database db.Config         `mapstructure:"database"`
	Log      logging.Config    `mapstructure:"log"`
	Audit    audit.AuditConfig `mapstructure:"audit"`
	Cache    cache.CacheConfig `mapstructure:"cache"`
	Auth     authz.Config      `mapstructure:"auth"`
	HA       ha.HAConfig       `mapstructure:"ha"`
	Retry    RetryConfig       `mapstructure:"retry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr         string        `mapstructure:"listenAddr"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdownTimeout"`
	ReadHeaderTimeout  time.Duration `mapstructure:"readHeaderTimeout"`
	CORSAllowedOrigins []string      `mapstructure:"corsAllowedOrigins"`
	MetricsEnabled     bool          `mapstructure:"metricsEnabled"`
}

// RetryConfig bounds retries of write transactions that lose a race.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"maxAttempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

// Policy converts the config to the versioning retry policy.
func (c RetryConfig) Policy() versioning.RetryPolicy {
	return versioning.RetryPolicy{MaxAttempts: c.MaxAttempts, Backoff: c.Backoff}
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	retry := versioning.DefaultRetryPolicy()
	return &Config{
		Server: ServerConfig{
			ListenAddr:         ":8080",
			ShutdownTimeout:    30 * time.Second,
			ReadHeaderTimeout:  10 * time.Second,
			CORSAllowedOrigins: []string{"*"},
			MetricsEnabled:     true,
		},
		Database: db.Config{
			Type:            db.TypeSQLite,
			DSN:             "file:qa-registry.db?_pragma=busy_timeout(5000)",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Log:   logging.DefaultConfig(),
		Audit: *audit.DefaultAuditConfig(),
		Cache: *cache.DefaultCacheConfig(),
		Auth:  authz.DefaultConfig(),
		HA:    *ha.DefaultHAConfig(),
		Retry: RetryConfig{MaxAttempts: retry.MaxAttempts, Backoff: retry.Backoff},
	}
}

// Load reads path (or $QAREG_CONFIG when path is empty) over the defaults
// and applies environment overrides. A missing file is only an error when
// a path was given explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listenAddr is required")
	}
	if _, err := db.Dialector(c.Database); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if _, err := authz.NewAuthorizer(c.Auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be at least 1")
	}
	if c.HA.LeaderElectionEnabled && c.HA.RetryPeriod >= c.HA.LeaseDuration {
		return fmt.Errorf("ha.retryPeriod must be shorter than ha.leaseDuration")
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	defaults := map[string]any{
		"server.listenAddr":         d.Server.ListenAddr,
		"server.shutdownTimeout":    d.Server.ShutdownTimeout,
		"server.readHeaderTimeout":  d.Server.ReadHeaderTimeout,
		"server.corsAllowedOrigins": d.Server.CORSAllowedOrigins,
		"server.metricsEnabled":     d.Server.MetricsEnabled,

		"database.type":            d.Database.Type,
		"database.dsn":             d.Database.DSN,
		"database.maxOpenConns":    d.Database.MaxOpenConns,
		"database.maxIdleConns":    d.Database.MaxIdleConns,
		"database.connMaxLifetime": d.Database.ConnMaxLifetime,
		"database.logQueries":      d.Database.LogQueries,

		"log.level":      d.Log.Level,
		"log.format":     d.Log.Format,
		"log.file":       d.Log.File,
		"log.maxSizeMB":  d.Log.MaxSizeMB,
		"log.maxBackups": d.Log.MaxBackups,
		"log.maxAgeDays": d.Log.MaxAgeDays,
		"log.compress":   d.Log.Compress,

		"audit.enabled":           d.Audit.Enabled,
		"audit.logDenied":         d.Audit.LogDenied,
		"audit.retentionDays":     d.Audit.RetentionDays,
		"audit.retentionInterval": d.Audit.RetentionInterval,

		"cache.enabled":    d.Cache.Enabled,
		"cache.versionTTL": d.Cache.VersionTTL,
		"cache.statsTTL":   d.Cache.StatsTTL,
		"cache.maxSize":    d.Cache.MaxSize,

		"auth.mode":              string(d.Auth.Mode),
		"auth.editorGroups":      d.Auth.EditorGroups,
		"auth.adminGroups":       d.Auth.AdminGroups,
		"auth.jwt.enabled":       d.Auth.JWT.Enabled,
		"auth.jwt.subjectClaim":  d.Auth.JWT.SubjectClaim,
		"auth.jwt.groupsClaim":   d.Auth.JWT.GroupsClaim,
		"auth.jwt.publicKeyPath": d.Auth.JWT.PublicKeyPath,
		"auth.jwt.issuer":        d.Auth.JWT.Issuer,
		"auth.jwt.audience":      d.Auth.JWT.Audience,

		"ha.leaderElectionEnabled": d.HA.LeaderElectionEnabled,
		"ha.leaseName":             d.HA.LeaseName,
		"ha.leaseDuration":         d.HA.LeaseDuration,
		"ha.retryPeriod":           d.HA.RetryPeriod,
		"ha.migrationLockEnabled":  d.HA.MigrationLockEnabled,
		"ha.identity":              d.HA.Identity,

		"retry.maxAttempts": d.Retry.MaxAttempts,
		"retry.backoff":     d.Retry.Backoff,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}
