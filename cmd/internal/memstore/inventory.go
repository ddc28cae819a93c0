package memstore

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"kiln/cmd/internal/apperr"
	"kiln/cmd/internal/inventory"
)

type inventoryStore struct{ s *Store }

// inventoryView implements inventory.Store over one state.
type inventoryView struct {
	st *state
	s  *Store
}

func (v inventoryView) GetVariants(ctx context.Context, ids []string) (map[string]inventory.Variant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]inventory.Variant, len(ids))
	for _, id := range ids {
		if variant, ok := v.st.variants[id]; ok {
			out[id] = variant
		}
	}
	return out, nil
}

func (v inventoryView) Reserve(ctx context.Context, variantID string, qty int) (inventory.Variant, error) {
	if err := ctx.Err(); err != nil {
		return inventory.Variant{}, err
	}
	if strings.TrimSpace(variantID) == "" || qty <= 0 {
		return inventory.Variant{}, inventory.ErrInvalidInput
	}
	variant, ok := v.st.variants[variantID]
	if !ok {
		return inventory.Variant{}, inventory.ErrNotFound
	}
	if variant.Stock < qty {
		return inventory.Variant{}, inventory.ErrInsufficientStock
	}
	variant.Stock -= qty
	variant.UpdatedAt = v.s.now()
	v.st.variants[variantID] = variant
	return variant, nil
}

func (i *inventoryStore) GetVariants(ctx context.Context, ids []string) (out map[string]inventory.Variant, err error) {
	err = i.s.locked(func(st *state) error {
		out, err = inventoryView{st: st, s: i.s}.GetVariants(ctx, ids)
		return err
	})
	return out, err
}

func (i *inventoryStore) Reserve(ctx context.Context, variantID string, qty int) (out inventory.Variant, err error) {
	err = i.s.inTx(func(st *state) error {
		out, err = inventoryView{st: st, s: i.s}.Reserve(ctx, variantID, qty)
		return err
	})
	return out, err
}

func (i *inventoryStore) Create(ctx context.Context, v inventory.Variant) (inventory.Variant, error) {
	if err := ctx.Err(); err != nil {
		return inventory.Variant{}, err
	}
	if strings.TrimSpace(v.ID) == "" || v.Stock < 0 || v.MaxOrderQuantity <= 0 {
		return inventory.Variant{}, inventory.ErrInvalidInput
	}
	err := i.s.inTx(func(st *state) error {
		if _, dup := st.variants[v.ID]; dup {
			return apperr.New("inventory.Create", apperr.ErrConflict, "resource already exists")
		}
		st.variants[v.ID] = v
		return nil
	})
	if err != nil {
		return inventory.Variant{}, err
	}
	return v, nil
}

func (i *inventoryStore) Get(ctx context.Context, id string) (out inventory.Variant, err error) {
	err = i.s.locked(func(st *state) error {
		v, ok := st.variants[strings.TrimSpace(id)]
		if !ok {
			return inventory.ErrNotFound
		}
		out = v
		return nil
	})
	return out, err
}

func (i *inventoryStore) List(ctx context.Context) (out []inventory.Variant, err error) {
	err = i.s.locked(func(st *state) error {
		for _, v := range st.variants {
			out = append(out, v)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b inventory.Variant) int {
		return cmp.Or(strings.Compare(a.ProductID, b.ProductID), strings.Compare(a.ID, b.ID))
	})
	return out, err
}

func (i *inventoryStore) Restock(ctx context.Context, variantID string, delta int) (out inventory.Variant, err error) {
	if delta <= 0 {
		return inventory.Variant{}, inventory.ErrInvalidInput
	}
	err = i.s.inTx(func(st *state) error {
		v, ok := st.variants[strings.TrimSpace(variantID)]
		if !ok {
			return inventory.ErrNotFound
		}
		v.Stock += delta
		v.UpdatedAt = i.s.now()
		st.variants[v.ID] = v
		out = v
		return nil
	})
	return out, err
}
