package order

import "kiln/cmd/internal/apperr"

var (
	ErrInvalidInput error = apperr.Error{Op: "order", Kind: apperr.ErrValidation, Msg: "invalid input"}
	ErrNotFound     error = apperr.Error{Op: "order", Kind: apperr.ErrNotFound, Msg: "order not found"}
	ErrForbidden    error = apperr.Error{Op: "order", Kind: apperr.ErrForbidden, Msg: "order belongs to another user"}

	// ErrDuplicateRequest is returned by Tx.InsertOrder when (owner, request id) already exists.
	ErrDuplicateRequest error = apperr.Error{Op: "order", Kind: apperr.ErrConflict, Msg: "duplicate request id"}
)
