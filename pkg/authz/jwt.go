package authz

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JWTConfig configures bearer-token identity extraction.
type JWTConfig struct {
	// Enabled turns on bearer-token parsing in IdentityMiddleware.
	Enabled bool `mapstructure:"enabled"`

	// SubjectClaim names the claim holding the user id. Default: "sub".
	SubjectClaim string `mapstructure:"subjectClaim"`

	// GroupsClaim names the claim holding the user's groups, either a string
	// array or a comma-separated string. Supports dot-notation for nested
	// claims (e.g. "realm_access.roles"). Default: "groups".
	GroupsClaim string `mapstructure:"groupsClaim"`

	// PublicKeyPath is the path to the PEM-encoded RSA public key for RS256 verification.
	// If empty, tokens are parsed but NOT verified (trusted proxy mode).
	PublicKeyPath string `mapstructure:"publicKeyPath"`

	// Issuer is the expected token issuer (iss claim). If empty, issuer is not validated.
	Issuer string `mapstructure:"issuer"`

	// Audience is the expected token audience (aud claim). If empty, audience is not validated.
	Audience string `mapstructure:"audience"`
}

// JWTExtractor reads an Identity from "Authorization: Bearer <token>".
// A nil *JWTExtractor extracts nothing.
type JWTExtractor struct {
	cfg       JWTConfig
	publicKey *rsa.PublicKey
	logger    *zap.Logger
}

// NewJWTExtractor creates a JWTExtractor. It returns nil, nil when cfg is not enabled.
//
// Security model:
//   - If PublicKeyPath is set, tokens are cryptographically verified (RS256)
//   - If PublicKeyPath is empty, tokens are parsed without verification (trusted proxy mode)
//   - Missing or invalid tokens fall back to header identity
func NewJWTExtractor(cfg JWTConfig, logger *zap.Logger) (*JWTExtractor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.SubjectClaim == "" {
		cfg.SubjectClaim = "sub"
	}
	if cfg.GroupsClaim == "" {
		cfg.GroupsClaim = "groups"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	x := &JWTExtractor{cfg: cfg, logger: logger}
	if cfg.PublicKeyPath != "" {
		keyData, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWT public key from %s: %w", cfg.PublicKeyPath, err)
		}
		key, err := ParseRSAPublicKeyPEM(keyData)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.PublicKeyPath, err)
		}
		x.publicKey = key
		logger.Info("JWT identity: using RS256 verification", zap.String("keyPath", cfg.PublicKeyPath))
	} else {
		logger.Warn("JWT identity: no public key configured, tokens parsed without verification (trusted proxy mode)")
	}
	return x, nil
}

// ParseRSAPublicKeyPEM decodes a PKIX RSA public key.
func ParseRSAPublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	parsedKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := parsedKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA (got %T)", parsedKey)
	}
	return rsaKey, nil
}

// Extract returns the identity carried by the request's bearer token.
func (x *JWTExtractor) Extract(r *http.Request) (Identity, bool) {
	if x == nil {
		return Identity{}, false
	}
	token := extractBearerToken(r)
	if token == "" {
		return Identity{}, false
	}

	claims, err := x.parseClaims(token)
	if err != nil {
		x.logger.Debug("JWT parse failed, falling back to headers", zap.Error(err))
		return Identity{}, false
	}

	sub, _ := lookupClaim(claims, x.cfg.SubjectClaim).(string)
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return Identity{}, false
	}
	return Identity{User: sub, Groups: groupsFromClaim(lookupClaim(claims, x.cfg.GroupsClaim))}, true
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// parseClaims parses and, when a key is configured, verifies a JWT token.
func (x *JWTExtractor) parseClaims(tokenString string) (jwt.MapClaims, error) {
	parserOpts := []jwt.ParserOption{}
	if x.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(x.cfg.Issuer))
	}
	if x.cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(x.cfg.Audience))
	}

	var token *jwt.Token
	var err error

	if x.publicKey != nil {
		token, err = jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return x.publicKey, nil
		}, parserOpts...)
	} else {
		parser := jwt.NewParser(parserOpts...)
		token, _, err = parser.ParseUnverified(tokenString, jwt.MapClaims{})
	}
	if err != nil {
		return nil, fmt.Errorf("JWT parse error: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}

// lookupClaim walks a dot-separated claim path.
func lookupClaim(claims jwt.MapClaims, path string) interface{} {
	var current interface{} = map[string]interface{}(claims)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = m[part]
		if !ok {
			return nil
		}
	}
	return current
}

func groupsFromClaim(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return splitGroups(val)
	case []interface{}:
		var groups []string
		for _, g := range val {
			if s, ok := g.(string); ok && strings.TrimSpace(s) != "" {
				groups = append(groups, strings.TrimSpace(s))
			}
		}
		return groups
	}
	return nil
}
