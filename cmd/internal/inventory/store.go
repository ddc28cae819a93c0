package inventory

import "context"

// Store is the variant surface used by order admission.
type Store interface {
	// GetVariants returns the variants that exist among ids; unknown ids are absent from the map.
	GetVariants(ctx context.Context, ids []string) (map[string]Variant, error)
	// Reserve decrements stock by qty iff stock >= qty and returns the updated variant.
	Reserve(ctx context.Context, variantID string, qty int) (Variant, error)
}

// AdminStore adds catalog administration.
type AdminStore interface {
	Store
	Create(ctx context.Context, v Variant) (Variant, error)
	Get(ctx context.Context, id string) (Variant, error)
	List(ctx context.Context) ([]Variant, error)
	Restock(ctx context.Context, variantID string, delta int) (Variant, error)
}
