package inventory

import (
	"context"
	"strings"
	"time"

	"kiln/cmd/internal/apperr"
	"kiln/cmd/internal/ids"
)

// CreateInput describes a new catalog variant.
type CreateInput struct {
	ProductID        string
	Specification    string
	Stock            int
	MaxOrderQuantity int
	PriceCents       int64
	Now              time.Time
}

// Service administers the catalog.
type Service struct {
	store AdminStore
}

// NewService constructs a Service.
func NewService(store AdminStore) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	return &Service{store: store}, nil
}

// CreateVariant adds a variant to the catalog.
func (s *Service) CreateVariant(ctx context.Context, in CreateInput) (Variant, error) {
	if s == nil || s.store == nil {
		return Variant{}, ErrInvalidInput
	}
	const op = "inventory.CreateVariant"
	productID := strings.TrimSpace(in.ProductID)
	spec := strings.TrimSpace(in.Specification)
	switch {
	case productID == "":
		return Variant{}, apperr.New(op, apperr.ErrValidation, "productId is required")
	case spec == "":
		return Variant{}, apperr.New(op, apperr.ErrValidation, "specification is required")
	case in.Stock < 0:
		return Variant{}, apperr.New(op, apperr.ErrValidation, "stock must not be negative")
	case in.MaxOrderQuantity <= 0:
		return Variant{}, apperr.New(op, apperr.ErrValidation, "maxOrderQuantity must be positive")
	case in.PriceCents < 0:
		return Variant{}, apperr.New(op, apperr.ErrValidation, "price must not be negative")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Variant{}, err
	}
	return s.store.Create(ctx, Variant{
		ID:               id,
		ProductID:        productID,
		Specification:    spec,
		Stock:            in.Stock,
		MaxOrderQuantity: in.MaxOrderQuantity,
		PriceCents:       in.PriceCents,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}

// Restock adds delta (> 0) units.
func (s *Service) Restock(ctx context.Context, variantID string, delta int) (Variant, error) {
	if s == nil || s.store == nil {
		return Variant{}, ErrInvalidInput
	}
	if delta <= 0 {
		return Variant{}, apperr.New("inventory.Restock", apperr.ErrValidation, "delta must be positive")
	}
	return s.store.Restock(ctx, variantID, delta)
}

// Get returns a variant by id.
func (s *Service) Get(ctx context.Context, id string) (Variant, error) {
	if s == nil || s.store == nil {
		return Variant{}, ErrInvalidInput
	}
	return s.store.Get(ctx, id)
}

// List returns the catalog.
func (s *Service) List(ctx context.Context) ([]Variant, error) {
	if s == nil || s.store == nil {
		return nil, ErrInvalidInput
	}
	return s.store.List(ctx)
}
