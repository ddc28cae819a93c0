package order

import (
	"context"
	"time"

	"kiln/cmd/internal/inventory"
	"kiln/cmd/internal/ledger"
)

// Tx is one store transaction. Credentials and Variants run on the same transaction, so every
// write made through a Tx commits together or not at all.
type Tx interface {
	Credentials() ledger.Store
	Variants() inventory.Store

	// FindByRequestID returns the fully loaded order admitted for (ownerID, requestID) or ErrNotFound.
	FindByRequestID(ctx context.Context, ownerID, requestID string) (Order, error)
	// InsertOrder writes the order header and its lines.
	InsertOrder(ctx context.Context, o Order) error
	AppendStatus(ctx context.Context, e StatusEntry) error
	// LoadForUpdate reads the order header and lines and locks the order until the Tx ends.
	LoadForUpdate(ctx context.Context, orderID string) (Order, error)
	// UpdateStatus sets the order status and cascades it to every line.
	UpdateStatus(ctx context.Context, orderID string, status Status, at time.Time) error
}

// Store is the order persistence boundary.
type Store interface {
	// InTx runs fn in a transaction that commits iff fn returns nil.
	InTx(ctx context.Context, fn func(Tx) error) error

	Get(ctx context.Context, orderID string) (Order, error)
	FindByRequestID(ctx context.Context, ownerID, requestID string) (Order, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	History(ctx context.Context, orderID string) ([]StatusEntry, error)
}
