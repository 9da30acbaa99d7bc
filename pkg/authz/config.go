package authz

import "fmt"

// AuthzMode selects the authorization backend.
type AuthzMode string

const (
	// AuthzModeNone disables authorization checks.
	AuthzModeNone AuthzMode = "none"
	// AuthzModeGroups authorizes writes by group membership.
	AuthzModeGroups AuthzMode = "groups"
)

// Config holds authentication and authorization settings.
type Config struct {
	Mode AuthzMode `mapstructure:"mode"`

	// EditorGroups may create questions, versions and datasets.
	EditorGroups []string `mapstructure:"editorGroups"`

	// AdminGroups may additionally delete versions and datasets and read
	// the audit log.
	AdminGroups []string `mapstructure:"adminGroups"`

	JWT JWTConfig `mapstructure:"jwt"`
}

// DefaultConfig returns a Config with authorization disabled.
func DefaultConfig() Config {
	return Config{
		Mode:         AuthzModeNone,
		EditorGroups: []string{"qa-editors"},
		AdminGroups:  []string{"qa-admins"},
		JWT:          JWTConfig{SubjectClaim: "sub", GroupsClaim: "groups"},
	}
}

// NewAuthorizer builds the Authorizer selected by cfg.Mode.
func NewAuthorizer(cfg Config) (Authorizer, error) {
	switch cfg.Mode {
	case "", AuthzModeNone:
		return &NoopAuthorizer{}, nil
	case AuthzModeGroups:
		return NewGroupAuthorizer(cfg.EditorGroups, cfg.AdminGroups), nil
	default:
		return nil, fmt.Errorf("unknown authz mode %q", cfg.Mode)
	}
}
