package auth

import "errors"

var (
	// ErrInvalidToken is returned when a bearer token fails verification or carries bad claims.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid auth config")

	// ErrNoIssuer is returned by Issue when no secret key is configured.
	ErrNoIssuer = errors.New("token issuing disabled")
)
