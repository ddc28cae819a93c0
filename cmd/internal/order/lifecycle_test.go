package order_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"kiln/cmd/internal/apperr"
	"kiln/cmd/internal/order"
	orderevents "kiln/shared/contracts/orderevents/v1"
)

func placeOne(t *testing.T, f *fixture, owner string) order.Order {
	t.Helper()
	return placeAt(t, f, owner, testNow)
}

func placeAt(t *testing.T, f *fixture, owner string, now time.Time) order.Order {
	t.Helper()
	v := f.variant(t, 10, 5)
	c := f.credential(t, credentialSpec{maxOrders: 1, maxItems: 5, allowed: []string{v.ID}})
	o, err := f.engine.PlaceOrder(context.Background(), order.PlaceInput{
		OwnerID:         owner,
		InvitationCode:  c.Code,
		Lines:           []order.LineRequest{line(v.ID, 2)},
		ShippingAddress: "1 Kiln Lane",
		ContactInfo:     "owner@example.com",
		Now:             now,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	return o
}

func TestSetStatus_PermissiveDefaultMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	o := placeOne(t, f, "u1")
	ctx := context.Background()

	if err := f.tracker.SetStatus(ctx, o.ID, order.StatusShipping, ""); err != nil {
		t.Fatalf("set status: %v", err)
	}

	hist, err := f.tracker.History(ctx, o.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(hist))
	}
	if hist[0].Status != order.StatusPending || hist[1].Status != order.StatusShipping {
		t.Fatalf("unexpected history order: %+v", hist)
	}
	if hist[1].Message != "Order status changed to shipping" {
		t.Fatalf("unexpected message: %q", hist[1].Message)
	}

	got, err := f.reader.Get(ctx, o.ID, "")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != order.StatusShipping {
		t.Fatalf("order status=%s", got.Status)
	}
	for _, l := range got.Lines {
		if l.Status != order.StatusShipping {
			t.Fatalf("line status not cascaded: %+v", l)
		}
	}

	// Permissive allows moving backwards.
	if err := f.tracker.SetStatus(ctx, o.ID, order.StatusConfirmed, "re-check glaze"); err != nil {
		t.Fatalf("backwards transition: %v", err)
	}
}

func TestShipOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	o := placeOne(t, f, "u1")

	if err := f.tracker.ShipOrder(context.Background(), o.ID); err != nil {
		t.Fatalf("ship: %v", err)
	}
	hist, err := f.tracker.History(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	last := hist[len(hist)-1]
	if last.Status != order.StatusShipping || last.Message != "Order shipped" {
		t.Fatalf("unexpected last entry: %+v", last)
	}

	types := f.notes.Types()
	if len(types) != 2 || types[1] != orderevents.TypeOrderStatusChanged {
		t.Fatalf("unexpected events: %v", types)
	}
	f.notes.mu.Lock()
	var payload orderevents.OrderStatusChangedPayload
	err = json.Unmarshal(f.notes.events[1].Payload, &payload)
	f.notes.mu.Unlock()
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.From != "pending" || payload.To != "shipping" || payload.Message != "Order shipped" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestSetStatus_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	o := placeOne(t, f, "u1")
	ctx := context.Background()

	mustKind(t, f.tracker.SetStatus(ctx, "missing", order.StatusConfirmed, ""), apperr.ErrNotFound)
	mustKind(t, f.tracker.SetStatus(ctx, o.ID, order.Status("glazing"), ""), apperr.ErrValidation)

	_, err := f.tracker.History(ctx, "missing")
	mustKind(t, err, apperr.ErrNotFound)

	hist, err := f.tracker.History(ctx, o.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("failed transitions must not log: %+v", hist)
	}
}

func TestSetStatus_ForwardOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, order.WithPolicy(order.ForwardOnly))
	ctx := context.Background()
	o := placeOne(t, f, "u1")

	if err := f.tracker.SetStatus(ctx, o.ID, order.StatusBaking, ""); err != nil {
		t.Fatalf("skip ahead: %v", err)
	}
	mustKind(t, f.tracker.SetStatus(ctx, o.ID, order.StatusConfirmed, ""), apperr.ErrValidation)
	mustKind(t, f.tracker.SetStatus(ctx, o.ID, order.StatusBaking, ""), apperr.ErrValidation)

	if err := f.tracker.SetStatus(ctx, o.ID, order.StatusCancelled, "customer request"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	mustKind(t, f.tracker.SetStatus(ctx, o.ID, order.StatusShipping, ""), apperr.ErrValidation)
}

func TestPolicyAllow(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to order.Status
		ok       bool
	}{
		{order.StatusPending, order.StatusConfirmed, true},
		{order.StatusPending, order.StatusDelivered, true},
		{order.StatusShipping, order.StatusPending, false},
		{order.StatusShipping, order.StatusCancelled, true},
		{order.StatusDelivered, order.StatusCancelled, false},
		{order.StatusCancelled, order.StatusPending, false},
		{order.StatusBaking, order.StatusBaking, false},
	}
	for _, tc := range cases {
		err := order.ForwardOnly.Allow(tc.from, tc.to)
		if tc.ok && err != nil {
			t.Fatalf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("%s -> %s: expected validation error, got %v", tc.from, tc.to, err)
		}
		if err := order.Permissive.Allow(tc.from, tc.to); err != nil {
			t.Fatalf("permissive rejected %s -> %s", tc.from, tc.to)
		}
	}

	for raw, want := range map[string]order.TransitionPolicy{"": order.Permissive, "forward_only": order.ForwardOnly, "Permissive": order.Permissive} {
		got, err := order.ParsePolicy(raw)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q)=%v,%v", raw, got, err)
		}
	}
	if _, err := order.ParsePolicy("strict"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestReader_Ownership(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	o := placeOne(t, f, "u1")
	ctx := context.Background()

	_, err := f.reader.Get(ctx, o.ID, "u2")
	mustKind(t, err, apperr.ErrForbidden)

	if _, err := f.reader.Get(ctx, o.ID, "u1"); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := f.reader.Get(ctx, o.ID, ""); err != nil {
		t.Fatalf("unscoped get: %v", err)
	}
	_, err = f.reader.Get(ctx, "missing", "u1")
	mustKind(t, err, apperr.ErrNotFound)
}

func TestReader_IdempotentRead(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	o := placeOne(t, f, "u1")
	ctx := context.Background()

	a, err := f.reader.Get(ctx, o.ID, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, err := f.reader.Get(ctx, o.ID, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("reads differ:\n%+v\n%+v", a, b)
	}
}

func TestReader_Lists(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := placeAt(t, f, "u1", testNow.Add(time.Minute))
	second := placeAt(t, f, "u1", testNow.Add(2*time.Minute))
	other := placeAt(t, f, "u2", testNow.Add(3*time.Minute))
	ctx := context.Background()

	mine, err := f.reader.ListByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != second.ID || mine[1].ID != first.ID {
		t.Fatalf("expected newest first, got %v", ids(mine))
	}
	if len(mine[0].Lines) != 1 {
		t.Fatalf("expected lines in listing")
	}

	all, err := f.reader.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != other.ID {
		t.Fatalf("unexpected listing: %v", ids(all))
	}
}

func ids(orders []order.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}
