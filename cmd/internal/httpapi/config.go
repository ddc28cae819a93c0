package httpapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls the HTTP API's limits and error exposure.
type Config struct {
	MaxBodyBytes int64

	// ExposeErrors returns internal error text to clients. Keep it off in production.
	ExposeErrors bool
	TrustProxy   bool

	// Per-IP sliding windows. A zero max disables the limit.
	APIRateMax       int
	APIRateWindow    time.Duration
	VerifyRateMax    int
	VerifyRateWindow time.Duration
}

// DefaultConfig returns production-safe defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:     1 << 20, // 1 MiB
		APIRateMax:       100,
		APIRateWindow:    15 * time.Minute,
		VerifyRateMax:    5,
		VerifyRateWindow: 15 * time.Minute,
	}
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	d := DefaultConfig()
	return Config{
		MaxBodyBytes:     envInt64("KILN_MAX_BODY_BYTES", d.MaxBodyBytes),
		ExposeErrors:     envBool("KILN_EXPOSE_ERRORS", false),
		TrustProxy:       envBool("KILN_TRUST_PROXY", false),
		APIRateMax:       envNonNegInt("KILN_RATE_API_MAX", d.APIRateMax),
		APIRateWindow:    envDuration("KILN_RATE_API_WINDOW", d.APIRateWindow),
		VerifyRateMax:    envNonNegInt("KILN_RATE_VERIFY_MAX", d.VerifyRateMax),
		VerifyRateWindow: envDuration("KILN_RATE_VERIFY_WINDOW", d.VerifyRateWindow),
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envNonNegInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
