package inventory

import "kiln/cmd/internal/apperr"

var (
	ErrInvalidInput      error = apperr.Error{Op: "inventory", Kind: apperr.ErrValidation, Msg: "invalid input"}
	ErrNotFound          error = apperr.Error{Op: "inventory", Kind: apperr.ErrNotFound, Msg: "variant not found"}
	ErrInsufficientStock error = apperr.Error{Op: "inventory", Kind: apperr.ErrInsufficientStock, Msg: "insufficient stock"}
)
