// Package auth authenticates ingress callers and yields the tenant id they
// are allowed to act for.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidKey   = errors.New("invalid api key")
)

// Config configures authentication.
type Config struct {
	JWTSecret   string         `yaml:"jwt_secret" json:"jwt_secret"`
	Issuer      string         `yaml:"issuer" json:"issuer"`
	TokenExpiry time.Duration  `yaml:"token_expiry" json:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys" json:"api_keys"`
}

// APIKeyConfig binds a static API key to one tenant.
type APIKeyConfig struct {
	Key      string `yaml:"key" json:"key"`
	TenantID string `yaml:"tenant_id" json:"tenant_id"`
}

// Service validates bearer tokens and API keys.
type Service struct {
	jwt     *JWTService
	apiKeys map[string]string
}

// NewService constructs an auth service from static configuration.
func NewService(cfg Config) *Service {
	service := &Service{apiKeys: map[string]string{}}
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		service.jwt = NewJWTService(cfg.JWTSecret, cfg.Issuer, cfg.TokenExpiry)
	}
	for _, entry := range cfg.APIKeys {
		key := strings.TrimSpace(entry.Key)
		tenantID := strings.TrimSpace(entry.TenantID)
		if key == "" || tenantID == "" {
			continue
		}
		service.apiKeys[key] = tenantID
	}
	return service
}

// Enabled reports whether any credential type is configured.
func (s *Service) Enabled() bool {
	return s != nil && (s.jwt != nil || len(s.apiKeys) > 0)
}

// IssueToken signs a token for tenantID.
func (s *Service) IssueToken(tenantID, subject string) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrAuthDisabled
	}
	return s.jwt.Generate(tenantID, subject)
}

// ValidateJWT returns the tenant id carried by a valid token.
func (s *Service) ValidateJWT(token string) (string, error) {
	if s == nil || s.jwt == nil {
		return "", ErrAuthDisabled
	}
	claims, err := s.jwt.Validate(token)
	if err != nil {
		return "", err
	}
	return claims.TenantID, nil
}

// ValidateAPIKey returns the tenant bound to key.
// Every stored key is compared in constant time.
func (s *Service) ValidateAPIKey(key string) (string, error) {
	if s == nil || len(s.apiKeys) == 0 {
		return "", ErrAuthDisabled
	}
	input := []byte(strings.TrimSpace(key))
	var matched string
	for stored, tenantID := range s.apiKeys {
		if subtle.ConstantTimeCompare(input, []byte(stored)) == 1 {
			matched = tenantID
		}
	}
	if matched == "" {
		return "", ErrInvalidKey
	}
	return matched, nil
}
