package apperr

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	ErrInvalidInvitationCode = errors.New("invalid_invitation_code")
	ErrOrderLimitExceeded    = errors.New("order_limit_exceeded")
	ErrInsufficientStock     = errors.New("insufficient_stock")
	ErrValidation            = errors.New("validation_error")
	ErrNotFound              = errors.New("not_found")
	ErrForbidden             = errors.New("forbidden")
	ErrConflict              = errors.New("conflict")
)

var kinds = []error{
	ErrInvalidInvitationCode,
	ErrOrderLimitExceeded,
	ErrInsufficientStock,
	ErrValidation,
	ErrNotFound,
	ErrForbidden,
	ErrConflict,
}
