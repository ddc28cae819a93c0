// Package apperr defines the error taxonomy shared by the admission engine, the lifecycle
// tracker and their stores.
//
// Every business failure is an Error whose Kind is one of the sentinel kinds, so callers
// branch with errors.Is and the HTTP edge maps kinds to status codes. Errors without a
// kind are internal failures.
package apperr

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error is a typed operation error with a stable Op + Kind contract for callers/tests.
// Msg may include human-readable context; do not include secrets.
type Error struct {
	Op   string
	Kind error
	Msg  string
}

func (e Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e Error) Unwrap() error { return e.Kind }

// New builds an Error of the given kind.
func New(op string, kind error, msg string) error {
	return Error{Op: op, Kind: kind, Msg: msg}
}

// Newf builds an Error of the given kind with a formatted message.
func Newf(op string, kind error, format string, args ...any) error {
	return Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the sentinel kind carried by err, or nil for internal errors.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Message returns the human-readable part of err when it is an Error.
func Message(err error) string {
	var e Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// FromStore classifies low-level store errors. Unique violations become ErrConflict and
// foreign key violations ErrNotFound; anything else is returned unchanged.
func FromStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return Error{Op: op, Kind: ErrConflict, Msg: constraintMsg(pgErr)}
	case "23503": // foreign_key_violation
		return Error{Op: op, Kind: ErrNotFound, Msg: "referenced resource does not exist"}
	default:
		return err
	}
}

func constraintMsg(pgErr *pgconn.PgError) string {
	if pgErr.ConstraintName == "" {
		return "resource already exists"
	}
	return "resource already exists: " + pgErr.ConstraintName
}

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err represents ErrConflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
