package order

import (
	"fmt"
	"strings"

	"kiln/cmd/internal/apperr"
)

// TransitionPolicy decides whether an order may move from one status to another.
type TransitionPolicy interface {
	Name() string
	Allow(from, to Status) error
}

// Permissive allows any status to follow any other.
var Permissive TransitionPolicy = permissive{}

// ForwardOnly allows strictly increasing lifecycle rank, cancellation from any non-terminal
// status, and nothing out of delivered or cancelled.
var ForwardOnly TransitionPolicy = forwardOnly{}

type permissive struct{}

func (permissive) Name() string { return "permissive" }

func (permissive) Allow(from, to Status) error { return nil }

type forwardOnly struct{}

func (forwardOnly) Name() string { return "forward_only" }

func (forwardOnly) Allow(from, to Status) error {
	const op = "order.ForwardOnly"
	switch {
	case from.Terminal():
		return apperr.Newf(op, apperr.ErrValidation, "order is %s and can no longer change status", from)
	case to == StatusCancelled:
		return nil
	case to.rank() <= from.rank():
		return apperr.Newf(op, apperr.ErrValidation, "cannot move order from %s back to %s", from, to)
	default:
		return nil
	}
}

// ParsePolicy maps a config value to a policy. Empty selects Permissive.
func ParsePolicy(raw string) (TransitionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "permissive":
		return Permissive, nil
	case "forward_only", "forward-only":
		return ForwardOnly, nil
	default:
		return nil, fmt.Errorf("unknown order transition policy %q", raw)
	}
}
