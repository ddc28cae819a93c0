package memstore

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"kiln/cmd/internal/inventory"
	"kiln/cmd/internal/ledger"
	"kiln/cmd/internal/order"
)

type orderStore struct{ s *Store }

func (o *orderStore) InTx(ctx context.Context, fn func(order.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return o.s.inTx(func(st *state) error {
		if err := fn(&memTx{st: st, s: o.s}); err != nil {
			return err
		}
		// A cancelled caller never commits.
		return ctx.Err()
	})
}

func (o *orderStore) Get(ctx context.Context, orderID string) (out order.Order, err error) {
	err = o.s.locked(func(st *state) error {
		out, err = loadFull(st, strings.TrimSpace(orderID))
		return err
	})
	return out, err
}

func (o *orderStore) FindByRequestID(ctx context.Context, ownerID, requestID string) (out order.Order, err error) {
	err = o.s.locked(func(st *state) error {
		out, err = findByRequestID(st, ownerID, requestID)
		return err
	})
	return out, err
}

func (o *orderStore) ListByOwner(ctx context.Context, ownerID string) ([]order.Order, error) {
	return o.list(func(ord order.Order) bool { return ord.OwnerID == ownerID })
}

func (o *orderStore) ListAll(ctx context.Context) ([]order.Order, error) {
	return o.list(func(order.Order) bool { return true })
}

func (o *orderStore) list(keep func(order.Order) bool) (out []order.Order, err error) {
	err = o.s.locked(func(st *state) error {
		for _, ord := range st.orders {
			if keep(ord) {
				ord.Lines = slices.Clone(ord.Lines)
				out = append(out, ord)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b order.Order) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), strings.Compare(b.ID, a.ID))
	})
	return out, err
}

func (o *orderStore) History(ctx context.Context, orderID string) (out []order.StatusEntry, err error) {
	err = o.s.locked(func(st *state) error {
		if _, ok := st.orders[orderID]; !ok {
			return order.ErrNotFound
		}
		out = history(st, orderID)
		return nil
	})
	return out, err
}

type memTx struct {
	st *state
	s  *Store
}

func (t *memTx) Credentials() ledger.Store { return ledgerView{t.st} }
func (t *memTx) Variants() inventory.Store { return inventoryView{st: t.st, s: t.s} }

func (t *memTx) FindByRequestID(ctx context.Context, ownerID, requestID string) (order.Order, error) {
	return findByRequestID(t.st, ownerID, requestID)
}

func (t *memTx) InsertOrder(ctx context.Context, o order.Order) error {
	if _, dup := t.st.orders[o.ID]; dup {
		return order.ErrInvalidInput
	}
	if o.RequestID != "" {
		if _, err := findByRequestID(t.st, o.OwnerID, o.RequestID); err == nil {
			return order.ErrDuplicateRequest
		}
	}
	o.Lines = slices.Clone(o.Lines)
	o.History = nil
	t.st.orders[o.ID] = o
	return nil
}

func (t *memTx) AppendStatus(ctx context.Context, e order.StatusEntry) error {
	if _, ok := t.st.orders[e.OrderID]; !ok {
		return order.ErrNotFound
	}
	t.st.seq++
	e.Seq = t.st.seq
	t.st.log = append(t.st.log, e)
	return nil
}

func (t *memTx) LoadForUpdate(ctx context.Context, orderID string) (order.Order, error) {
	o, ok := t.st.orders[strings.TrimSpace(orderID)]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	o.Lines = slices.Clone(o.Lines)
	return o, nil
}

func (t *memTx) UpdateStatus(ctx context.Context, orderID string, status order.Status, at time.Time) error {
	o, ok := t.st.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	lines := slices.Clone(o.Lines)
	for i := range lines {
		lines[i].Status = status
	}
	o.Lines = lines
	t.st.orders[orderID] = o
	return nil
}

func findByRequestID(st *state, ownerID, requestID string) (order.Order, error) {
	ownerID = strings.TrimSpace(ownerID)
	requestID = strings.TrimSpace(requestID)
	if ownerID == "" || requestID == "" {
		return order.Order{}, order.ErrNotFound
	}
	for _, o := range st.orders {
		if o.OwnerID == ownerID && o.RequestID == requestID {
			return loadFull(st, o.ID)
		}
	}
	return order.Order{}, order.ErrNotFound
}

func loadFull(st *state, orderID string) (order.Order, error) {
	o, ok := st.orders[orderID]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	o.Lines = slices.Clone(o.Lines)
	o.History = history(st, orderID)
	return o, nil
}

func history(st *state, orderID string) []order.StatusEntry {
	var out []order.StatusEntry
	for _, e := range st.log {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b order.StatusEntry) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Seq, b.Seq))
	})
	return out
}
