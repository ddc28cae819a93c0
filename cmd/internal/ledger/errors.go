package ledger

import "kiln/cmd/internal/apperr"

var (
	ErrInvalidInput   error = apperr.Error{Op: "ledger", Kind: apperr.ErrValidation, Msg: "invalid input"}
	ErrNotFound       error = apperr.Error{Op: "ledger", Kind: apperr.ErrNotFound, Msg: "invitation credential not found"}
	ErrBatchNotFound  error = apperr.Error{Op: "ledger", Kind: apperr.ErrNotFound, Msg: "collection batch not found"}
	ErrQuotaExceeded  error = apperr.Error{Op: "ledger", Kind: apperr.ErrOrderLimitExceeded, Msg: "invitation order quota exhausted"}
	ErrNotCancellable error = apperr.Error{Op: "ledger", Kind: apperr.ErrConflict, Msg: "credential already cancelled"}
)
