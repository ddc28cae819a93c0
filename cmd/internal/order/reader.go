package order

import (
	"context"
	"strings"
)

// Reader serves order reads with owner scoping.
type Reader struct {
	store Store
}

// NewReader constructs a Reader.
func NewReader(store Store) (*Reader, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	return &Reader{store: store}, nil
}

// Get loads an order with its lines and history. A non-empty scopingOwnerID must match the
// order's owner, otherwise ErrForbidden.
func (r *Reader) Get(ctx context.Context, orderID, scopingOwnerID string) (Order, error) {
	if r == nil || r.store == nil {
		return Order{}, ErrInvalidInput
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, ErrInvalidInput
	}
	o, err := r.store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if scope := strings.TrimSpace(scopingOwnerID); scope != "" && scope != o.OwnerID {
		return Order{}, ErrForbidden
	}
	return o, nil
}

// ListByOwner returns the owner's orders newest first.
func (r *Reader) ListByOwner(ctx context.Context, ownerID string) ([]Order, error) {
	if r == nil || r.store == nil {
		return nil, ErrInvalidInput
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrInvalidInput
	}
	return r.store.ListByOwner(ctx, ownerID)
}

// ListAll returns every order newest first.
func (r *Reader) ListAll(ctx context.Context) ([]Order, error) {
	if r == nil || r.store == nil {
		return nil, ErrInvalidInput
	}
	return r.store.ListAll(ctx)
}
