// Package order admits orders against invitation credentials and finite stock, and tracks them
// through the production lifecycle.
//
// Admission (Engine) validates a request and, in one store transaction, reserves stock, consumes
// a credential slot and writes the order, its lines and the initial status entry. The lifecycle
// (Tracker) moves orders between statuses under a TransitionPolicy and keeps an append-only
// status log. Reader serves owner-scoped reads. Events are handed to a Notifier after commit.
package order

import (
	"strings"
	"time"

	"kiln/cmd/internal/apperr"
)

// Status is an order (and order line) lifecycle status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProduction Status = "production"
	StatusBaking     Status = "baking"
	StatusPackaging  Status = "packaging"
	StatusShipping   Status = "shipping"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusProduction,
	StatusBaking,
	StatusPackaging,
	StatusShipping,
	StatusDelivered,
	StatusCancelled,
}

// ParseStatus validates a status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Statuses {
		if s == known {
			return s, nil
		}
	}
	return "", apperr.Newf("order.ParseStatus", apperr.ErrValidation, "unknown order status %q", raw)
}

// Terminal reports whether no forward transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (s Status) rank() int {
	for i, known := range Statuses {
		if s == known {
			return i
		}
	}
	return -1
}

// Order is the order aggregate. Lines keep request order; History is oldest first.
type Order struct {
	ID              string
	OwnerID         string
	CredentialID    string
	ShippingAddress string
	ContactInfo     string
	Status          Status
	RequestID       string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Lines   []Line
	History []StatusEntry
}

// Line is one ordered variant.
type Line struct {
	ID                string
	OrderID           string
	Position          int
	VariantID         string
	Quantity          int
	Status            Status
	ProductionBatchID *string
}

// StatusEntry is an append-only status log row.
type StatusEntry struct {
	ID        string
	OrderID   string
	Status    Status
	Message   string
	CreatedAt time.Time
	Seq       int64
}

// TotalQuantity sums line quantities.
func (o Order) TotalQuantity() int {
	n := 0
	for _, l := range o.Lines {
		n += l.Quantity
	}
	return n
}
