package order_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"kiln/cmd/internal/inventory"
	"kiln/cmd/internal/ledger"
	"kiln/cmd/internal/memstore"
	"kiln/cmd/internal/order"
	orderevents "kiln/shared/contracts/orderevents/v1"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	mem       *memstore.Store
	ledger    *ledger.Service
	inventory *inventory.Service
	engine    *order.Engine
	tracker   *order.Tracker
	reader    *order.Reader
	notes     *recordingNotifier
	batch     ledger.Batch
}

type credentialSpec struct {
	maxOrders int
	maxItems  int
	allowed   []string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []orderevents.Envelope
}

func (r *recordingNotifier) Notify(_ context.Context, ev orderevents.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingNotifier) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func newFixture(t *testing.T, opts ...order.Option) *fixture {
	t.Helper()

	mem := memstore.New(memstore.WithClock(func() time.Time { return testNow }))

	seq := 0
	ledgerSvc, err := ledger.NewService(mem.Ledger(), ledger.WithCodeGenerator(func() (string, error) {
		seq++
		return fmt.Sprintf("CODE-%04d", seq), nil
	}))
	if err != nil {
		t.Fatalf("new ledger service: %v", err)
	}
	invSvc, err := inventory.NewService(mem.Inventory())
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	notes := &recordingNotifier{}
	base := []order.Option{
		order.WithNotifier(notes),
		order.WithClock(func() time.Time { return testNow }),
	}
	engine, err := order.NewEngine(mem.Orders(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	tracker, err := order.NewTracker(mem.Orders(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	reader, err := order.NewReader(mem.Orders())
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}

	batch, err := ledgerSvc.CreateBatch(context.Background(), ledger.CreateBatchInput{
		Name:     "spring",
		Deadline: testNow.Add(24 * time.Hour),
		Now:      testNow,
	})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}

	return &fixture{
		mem:       mem,
		ledger:    ledgerSvc,
		inventory: invSvc,
		engine:    engine,
		tracker:   tracker,
		reader:    reader,
		notes:     notes,
		batch:     batch,
	}
}

func (f *fixture) variant(t *testing.T, stock, ceiling int) inventory.Variant {
	t.Helper()
	v, err := f.inventory.CreateVariant(context.Background(), inventory.CreateInput{
		ProductID:        "mug",
		Specification:    "350ml glaze blue",
		Stock:            stock,
		MaxOrderQuantity: ceiling,
		PriceCents:       2400,
		Now:              testNow,
	})
	if err != nil {
		t.Fatalf("create variant: %v", err)
	}
	return v
}

func (f *fixture) credential(t *testing.T, spec credentialSpec) ledger.Credential {
	t.Helper()
	creds, err := f.ledger.IssueCredentials(context.Background(), ledger.IssueInput{
		BatchID:           f.batch.ID,
		Count:             1,
		MaxOrders:         spec.maxOrders,
		MaxItemsPerOrder:  spec.maxItems,
		AllowedVariantIDs: spec.allowed,
		Now:               testNow,
	})
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}
	return creds[0]
}

func (f *fixture) place(owner, code string, lines ...order.LineRequest) (order.Order, error) {
	return f.engine.PlaceOrder(context.Background(), order.PlaceInput{
		OwnerID:         owner,
		InvitationCode:  code,
		Lines:           lines,
		ShippingAddress: "1 Kiln Lane",
		ContactInfo:     "owner@example.com",
		Now:             testNow,
	})
}

func line(variantID string, qty int) order.LineRequest {
	return order.LineRequest{VariantID: variantID, Quantity: qty}
}

func mustKind(t *testing.T, err, kind error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got nil", kind)
	}
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}
