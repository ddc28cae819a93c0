package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"kiln/cmd/internal/apperr"
	"kiln/cmd/internal/ledger"
	"kiln/cmd/internal/memstore"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T, opts ...ledger.Option) *ledger.Service {
	t.Helper()
	mem := memstore.New(memstore.WithClock(func() time.Time { return now }))
	svc, err := ledger.NewService(mem.Ledger(), opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func mustBatch(t *testing.T, svc *ledger.Service, deadline time.Time) ledger.Batch {
	t.Helper()
	b, err := svc.CreateBatch(context.Background(), ledger.CreateBatchInput{Name: "spring", Deadline: deadline, Now: now})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return b
}

func issue(svc *ledger.Service, batchID string, count int) ([]ledger.Credential, error) {
	return svc.IssueCredentials(context.Background(), ledger.IssueInput{
		BatchID:           batchID,
		Count:             count,
		MaxOrders:         2,
		MaxItemsPerOrder:  3,
		AllowedVariantIDs: []string{"v1", " v2 ", "v1"},
		Now:               now,
	})
}

func TestCreateBatch_Validation(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	ctx := context.Background()

	cases := map[string]ledger.CreateBatchInput{
		"empty name":    {Name: "  ", Deadline: now.Add(time.Hour), Now: now},
		"past deadline": {Name: "x", Deadline: now.Add(-time.Minute), Now: now},
		"now deadline":  {Name: "x", Deadline: now, Now: now},
		"zero deadline": {Name: "x", Now: now},
	}
	for name, in := range cases {
		if _, err := svc.CreateBatch(ctx, in); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	b := mustBatch(t, svc, now.Add(time.Hour))
	if b.ID == "" || b.Status != ledger.BatchActive || b.Name != "spring" {
		t.Fatalf("unexpected batch: %+v", b)
	}
}

func TestIssueCredentials(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	b := mustBatch(t, svc, now.Add(time.Hour))

	creds, err := issue(svc, b.ID, 25)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(creds) != 25 {
		t.Fatalf("expected 25 credentials, got %d", len(creds))
	}

	pattern := regexp.MustCompile(`^[A-HJKMNP-Z2-9]{4}-[A-HJKMNP-Z2-9]{4}$`)
	seen := map[string]struct{}{}
	for _, c := range creds {
		if !pattern.MatchString(c.Code) {
			t.Fatalf("unexpected code format %q", c.Code)
		}
		if _, dup := seen[c.Code]; dup {
			t.Fatalf("duplicate code %q", c.Code)
		}
		seen[c.Code] = struct{}{}
		if c.Status != ledger.CredentialActive || c.UsedOrders != 0 || c.Remaining() != 2 {
			t.Fatalf("unexpected credential: %+v", c)
		}
		if len(c.AllowedVariantIDs) != 2 || !c.Allows("v1") || !c.Allows("v2") {
			t.Fatalf("allow-list not normalized: %v", c.AllowedVariantIDs)
		}
	}

	got, err := svc.Lookup(context.Background(), creds[0].Code)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != creds[0].ID || !got.BatchDeadline.Equal(b.Deadline) {
		t.Fatalf("lookup mismatch: %+v", got)
	}
}

func TestIssueCredentials_Rejects(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	b := mustBatch(t, svc, now.Add(time.Hour))
	ctx := context.Background()

	for _, count := range []int{0, -1, 1001} {
		if _, err := issue(svc, b.ID, count); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("count=%d: expected validation error, got %v", count, err)
		}
	}

	_, err := svc.IssueCredentials(ctx, ledger.IssueInput{BatchID: b.ID, Count: 1, MaxOrders: 1, MaxItemsPerOrder: 1, Now: now})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty allow-list: expected validation error, got %v", err)
	}
	_, err = svc.IssueCredentials(ctx, ledger.IssueInput{BatchID: b.ID, Count: 1, MaxOrders: 1, MaxItemsPerOrder: 1, AllowedVariantIDs: []string{"a,b"}, Now: now})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("reserved chars: expected validation error, got %v", err)
	}

	if _, err := issue(svc, "missing", 1); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing batch: expected not found, got %v", err)
	}

	_, err = svc.IssueCredentials(ctx, ledger.IssueInput{
		BatchID: b.ID, Count: 1, MaxOrders: 1, MaxItemsPerOrder: 1,
		AllowedVariantIDs: []string{"v1"},
		Now:               b.Deadline.Add(time.Second),
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expired batch: expected validation error, got %v", err)
	}
}

func TestIssueCredentials_RedrawsRepeatedCodes(t *testing.T) {
	t.Parallel()

	draws := []string{"AAAA-AAAA", "AAAA-AAAA", "BBBB-BBBB"}
	i := 0
	svc := newService(t, ledger.WithCodeGenerator(func() (string, error) {
		code := draws[i%len(draws)]
		i++
		return code, nil
	}))
	b := mustBatch(t, svc, now.Add(time.Hour))

	creds, err := issue(svc, b.ID, 2)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if creds[0].Code != "AAAA-AAAA" || creds[1].Code != "BBBB-BBBB" {
		t.Fatalf("unexpected codes: %s %s", creds[0].Code, creds[1].Code)
	}

	// The generator now cycles back to codes already stored.
	if _, err := issue(svc, b.ID, 1); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict on stored code, got %v", err)
	}
}

func TestIssueCredentials_StuckGenerator(t *testing.T) {
	t.Parallel()

	svc := newService(t, ledger.WithCodeGenerator(func() (string, error) { return "SAME-CODE", nil }))
	b := mustBatch(t, svc, now.Add(time.Hour))

	if _, err := issue(svc, b.ID, 2); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	boom := errors.New("entropy exhausted")
	failing := newService(t, ledger.WithCodeGenerator(func() (string, error) { return "", boom }))
	fb := mustBatch(t, failing, now.Add(time.Hour))
	if _, err := issue(failing, fb.ID, 1); !errors.Is(err, boom) {
		t.Fatalf("expected generator error, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()

	svc := newService(t)
	b := mustBatch(t, svc, now.Add(time.Hour))
	creds, err := issue(svc, b.ID, 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	ctx := context.Background()

	got, err := svc.Cancel(ctx, creds[0].Code)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != ledger.CredentialCancelled {
		t.Fatalf("status=%s", got.Status)
	}
	if _, err := svc.Cancel(ctx, creds[0].Code); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("second cancel: expected conflict, got %v", err)
	}
	if _, err := svc.Cancel(ctx, "NOPE-NOPE"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown code: expected not found, got %v", err)
	}
	if _, err := svc.Cancel(ctx, " "); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("blank code: expected validation error, got %v", err)
	}
}

func TestRefreshStatuses(t *testing.T) {
	t.Parallel()

	mem := memstore.New()
	seq := 0
	svc, err := ledger.NewService(mem.Ledger(), ledger.WithCodeGenerator(func() (string, error) {
		seq++
		return fmt.Sprintf("CODE-%04d", seq), nil
	}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()
	b := mustBatch(t, svc, now.Add(time.Hour))
	creds, err := svc.IssueCredentials(ctx, ledger.IssueInput{
		BatchID: b.ID, Count: 2, MaxOrders: 1, MaxItemsPerOrder: 1,
		AllowedVariantIDs: []string{"v1"}, Now: now,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := mem.Ledger().ConsumeOrderSlot(ctx, creds[0].ID); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if _, err := mem.Ledger().ConsumeOrderSlot(ctx, creds[0].ID); !errors.Is(err, apperr.ErrOrderLimitExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}

	res, err := svc.RefreshStatuses(ctx, now)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res != (ledger.RefreshResult{UsedUpCredentials: 1}) {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Deadline equal to now is still open.
	res, err = svc.RefreshStatuses(ctx, b.Deadline)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res != (ledger.RefreshResult{}) {
		t.Fatalf("unexpected result at deadline: %+v", res)
	}

	res, err = svc.RefreshStatuses(ctx, b.Deadline.Add(time.Nanosecond))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res != (ledger.RefreshResult{ExpiredCredentials: 2, ExpiredBatches: 1}) {
		t.Fatalf("unexpected result after deadline: %+v", res)
	}
	for _, c := range creds {
		got, err := svc.Lookup(ctx, c.Code)
		if err != nil {
			t.Fatalf("lookup: %v", err)
		}
		if got.Status != ledger.CredentialExpired {
			t.Fatalf("%s: status=%s", c.Code, got.Status)
		}
	}
}

func TestCredentialHelpers(t *testing.T) {
	t.Parallel()

	c := ledger.Credential{MaxOrders: 2, UsedOrders: 3, BatchDeadline: now, AllowedVariantIDs: []string{"a"}}
	if !c.Exhausted() || c.Remaining() != 0 {
		t.Fatalf("expected exhausted credential")
	}
	if c.Expired(now) || !c.Expired(now.Add(time.Millisecond)) {
		t.Fatalf("deadline boundary mismatch")
	}
	if c.Allows("b") || !c.Allows("a") {
		t.Fatalf("allow-list mismatch")
	}
}

func TestRandomCode(t *testing.T) {
	t.Parallel()

	for i := 0; i < 200; i++ {
		code, err := ledger.RandomCode()
		if err != nil {
			t.Fatalf("random code: %v", err)
		}
		if len(code) != 9 || code[4] != '-' {
			t.Fatalf("unexpected code %q", code)
		}
	}
}
