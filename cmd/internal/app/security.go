package app

import (
	"errors"
	"strings"
)

// ValidateSecurityConfig enforces the production security policy at startup.
// Outside production every setting is accepted.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.Production {
		return nil
	}

	var errs []error
	if EnvBool("KILN_EXPOSE_ERRORS", false) {
		errs = append(errs, errors.New("security policy: KILN_EXPOSE_ERRORS must be false in production"))
	}
	if hasWildcard(cfg.WSAllowedOrigins) {
		errs = append(errs, errors.New("security policy: KILN_WS_ALLOWED_ORIGINS must not contain \"*\" in production"))
	}
	if hasWildcard(cfg.CORSAllowedOrigins) && cfg.CORSAllowCredentials {
		errs = append(errs, errors.New("security policy: wildcard CORS origin cannot be combined with credentials"))
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		errs = append(errs, errors.New("security policy: KILN_DATABASE_URL is required in production"))
	}
	return errors.Join(errs...)
}

func hasWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
