package auth

import (
	"os"
	"strings"
	"time"
)

// Config controls bearer-token verification.
type Config struct {
	// Issuer is the expected "iss" claim.
	Issuer string

	// PublicKeyHex is the hex-encoded Ed25519 public key that signs access tokens.
	PublicKeyHex string

	// SecretKeyHex is optional. When set, tokens can be issued locally and the public key
	// defaults to its pair.
	SecretKeyHex string

	// ClockSkew is the allowed time skew during verification.
	ClockSkew time.Duration

	// TokenTTL is the lifetime of locally issued tokens.
	TokenTTL time.Duration
}

// DefaultConfig returns development defaults. A key must still be supplied.
func DefaultConfig() Config {
	return Config{
		Issuer:    "kiln",
		ClockSkew: 30 * time.Second,
		TokenTTL:  15 * time.Minute,
	}
}

// LoadConfigFromEnv loads auth configuration from environment variables.
//
// One of these is required:
//   - KILN_AUTH_PUBLIC_KEY_HEX
//   - KILN_AUTH_SECRET_KEY_HEX
//
// Optional:
//   - KILN_AUTH_ISSUER
//   - KILN_AUTH_CLOCK_SKEW
//   - KILN_AUTH_TOKEN_TTL
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("KILN_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("KILN_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("KILN_AUTH_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TokenTTL = d
	}

	cfg.PublicKeyHex = strings.TrimSpace(os.Getenv("KILN_AUTH_PUBLIC_KEY_HEX"))
	cfg.SecretKeyHex = strings.TrimSpace(os.Getenv("KILN_AUTH_SECRET_KEY_HEX"))
	if cfg.PublicKeyHex == "" && cfg.SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
