// Package inventory owns catalog variants: their finite stock and per-order ceilings.
package inventory

import "time"

// Variant is a purchasable product variant.
type Variant struct {
	ID               string
	ProductID        string
	Specification    string
	Stock            int
	MaxOrderQuantity int
	PriceCents       int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
