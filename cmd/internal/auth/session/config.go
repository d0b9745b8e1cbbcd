package session

import (
	"os"
	"strings"
	"time"
)

// Config defines runtime configuration for access-token verification.
type Config struct {
	// Issuer is the expected "iss" claim.
	Issuer string

	// AccessTokenTTL is used only when issuing tokens (dev tooling).
	AccessTokenTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key.
	PasetoV4SecretKeyHex string

	// CookieName is the fallback cookie carrying the token when no bearer header is sent.
	CookieName string
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:         "privat",
		AccessTokenTTL: 7 * 24 * time.Hour,
		ClockSkew:      30 * time.Second,
		CookieName:     "privat-token",
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - PRIVAT_PASETO_V4_SECRET_KEY_HEX
//
// Optional:
//   - PRIVAT_AUTH_ISSUER
//   - PRIVAT_AUTH_ACCESS_TTL
//   - PRIVAT_AUTH_CLOCK_SKEW
//   - PRIVAT_AUTH_COOKIE
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("PRIVAT_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("PRIVAT_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("PRIVAT_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := strings.TrimSpace(os.Getenv("PRIVAT_AUTH_COOKIE")); v != "" {
		cfg.CookieName = v
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("PRIVAT_PASETO_V4_SECRET_KEY_HEX"))
	if cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
