package httpapi

import (
	"errors"
	"net/http"

	"kiln/cmd/internal/apperr"
)

const (
	codeInvitationInvalid   = "INVITATION_CODE_INVALID"
	codeOrderLimitExceeded  = "ORDER_LIMIT_EXCEEDED"
	codeInsufficientStock   = "INSUFFICIENT_STOCK"
	codeValidation          = "VALIDATION_ERROR"
	codeNotFound            = "NOT_FOUND"
	codeForbidden           = "FORBIDDEN"
	codeConflict            = "CONFLICT"
	codeUnauthorized        = "UNAUTHORIZED"
	codeInvalidJSON         = "INVALID_JSON"
	codePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	codeRateLimited         = "TOO_MANY_REQUESTS"
	codeInternal            = "INTERNAL_ERROR"
	internalErrorPublicText = "internal error"
)

// statusFor maps an error kind to its HTTP status and stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrInvalidInvitationCode):
		return http.StatusBadRequest, codeInvitationInvalid
	case errors.Is(err, apperr.ErrOrderLimitExceeded):
		return http.StatusBadRequest, codeOrderLimitExceeded
	case errors.Is(err, apperr.ErrInsufficientStock):
		return http.StatusBadRequest, codeInsufficientStock
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, codeValidation
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, codeConflict
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// writeAppError renders err. Internal failures are logged and their text is hidden unless
// ExposeErrors is set.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error(op+".fail", "err", err, "path", r.URL.Path)
		msg := internalErrorPublicText
		if h.cfg.ExposeErrors {
			msg = err.Error()
		}
		writeError(w, status, code, msg)
		return
	}
	writeError(w, status, code, apperr.Message(err))
}
