package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"kiln/cmd/internal/auth"
	"kiln/cmd/internal/inventory"
	"kiln/cmd/internal/ledger"
	"kiln/cmd/internal/memstore"
	"kiln/cmd/internal/order"
	"kiln/cmd/internal/verify"
	"kiln/cmd/security/secret"

	paseto "aidanwoods.dev/go-paseto"
)

type codeCapture struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *codeCapture) SendCode(_ context.Context, email, code string, _ time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[email] = code
}

func (c *codeCapture) get(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[email]
}

type apiFixture struct {
	t      *testing.T
	mux    *http.ServeMux
	tokens *auth.Tokens
	mem    *memstore.Store
	codes  *codeCapture
}

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newAPIFixture(t *testing.T, cfg Config, events EventFeed, orderOpts ...order.Option) *apiFixture {
	t.Helper()

	acfg := auth.DefaultConfig()
	acfg.SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	tokens, err := auth.NewTokens(acfg)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	mem := memstore.New()
	log := quietLog()
	orderOpts = append([]order.Option{order.WithLogger(log)}, orderOpts...)
	engine, err := order.NewEngine(mem.Orders(), orderOpts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	tracker, err := order.NewTracker(mem.Orders(), orderOpts...)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	reader, err := order.NewReader(mem.Orders())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	ledgerSvc, err := ledger.NewService(mem.Ledger())
	if err != nil {
		t.Fatalf("ledger.NewService: %v", err)
	}
	invSvc, err := inventory.NewService(mem.Inventory())
	if err != nil {
		t.Fatalf("inventory.NewService: %v", err)
	}
	codes := &codeCapture{codes: map[string]string{}}
	verifySvc, err := verify.NewService(mem.Verification(), codes,
		verify.WithLogger(log),
		verify.WithHasher(secret.Hasher{Params: secret.Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}}),
	)
	if err != nil {
		t.Fatalf("verify.NewService: %v", err)
	}

	h, err := NewHandler(log, cfg, Deps{
		Tokens:    tokens,
		Engine:    engine,
		Reader:    reader,
		Tracker:   tracker,
		Ledger:    ledgerSvc,
		Inventory: invSvc,
		Verify:    verifySvc,
		Events:    events,
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)

	return &apiFixture{t: t, mux: mux, tokens: tokens, mem: mem, codes: codes}
}

func (f *apiFixture) token(userID string, role auth.Role) string {
	f.t.Helper()
	s, _, err := f.tokens.Issue(auth.Principal{UserID: userID, Role: role}, time.Now())
	if err != nil {
		f.t.Fatalf("Issue: %v", err)
	}
	return s
}

func (f *apiFixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			f.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "203.0.113.7:5555"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected %d, got %d (%s)", status, rr.Code, rr.Body.String())
	}
	got := decodeBody[errorResponse](t, rr)
	if got.Error.Code != code {
		t.Fatalf("expected code %s, got %+v", code, got.Error)
	}
}

// seedCatalog creates one variant and one credential through the admin routes.
func (f *apiFixture) seedCatalog(stock, maxOrders, maxItems int) (variantResponse, credentialResponse) {
	f.t.Helper()
	admin := f.token("admin-1", auth.RoleAdmin)

	rr := f.do(http.MethodPost, "/admin/variants", admin, createVariantRequest{
		ProductID: "loaf", Specification: "sourdough 800g", Stock: stock, MaxOrderQuantity: 5, PriceCents: 650,
	})
	if rr.Code != http.StatusCreated {
		f.t.Fatalf("create variant: %d %s", rr.Code, rr.Body.String())
	}
	v := decodeBody[variantResponse](f.t, rr)

	rr = f.do(http.MethodPost, "/admin/batches", admin, createBatchRequest{Name: "week 10", Deadline: time.Now().Add(24 * time.Hour)})
	if rr.Code != http.StatusCreated {
		f.t.Fatalf("create batch: %d %s", rr.Code, rr.Body.String())
	}
	b := decodeBody[batchResponse](f.t, rr)

	rr = f.do(http.MethodPost, "/admin/batches/"+b.ID+"/credentials", admin, issueCredentialsRequest{
		Count: 1, MaxOrders: maxOrders, MaxItemsPerOrder: maxItems, AllowedVariantIDs: []string{v.ID},
	})
	if rr.Code != http.StatusCreated {
		f.t.Fatalf("issue credentials: %d %s", rr.Code, rr.Body.String())
	}
	creds := decodeBody[credentialsEnvelope](f.t, rr)
	if len(creds.Credentials) != 1 {
		f.t.Fatalf("expected one credential, got %d", len(creds.Credentials))
	}
	return v, creds.Credentials[0]
}

func placeBody(variantID, code string, qty int) placeOrderRequest {
	return placeOrderRequest{
		Items:           []lineRequest{{VariantID: variantID, Quantity: qty}},
		ShippingAddress: "1 Mill Lane",
		ContactInfo:     "ada@example.com",
		InvitationCode:  code,
	}
}

func TestOrders_Lifecycle(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, DefaultConfig(), nil)
	v, cred := f.seedCatalog(10, 3, 4)

	alice := f.token("alice", auth.RoleCustomer)
	bob := f.token("bob", auth.RoleCustomer)
	staff := f.token("staff-1", auth.RoleStaff)
	admin := f.token("admin-1", auth.RoleAdmin)

	rr := f.do(http.MethodPost, "/orders", alice, placeBody(v.ID, cred.Code, 2))
	if rr.Code != http.StatusCreated {
		t.Fatalf("place: %d %s", rr.Code, rr.Body.String())
	}
	placed := decodeBody[orderEnvelope](t, rr).Order
	if placed.UserID != "alice" || placed.Status != "pending" || len(placed.Items) != 1 || placed.Items[0].Quantity != 2 {
		t.Fatalf("unexpected order: %+v", placed)
	}

	rr = f.do(http.MethodGet, "/orders", alice, nil)
	if got := decodeBody[ordersEnvelope](t, rr); rr.Code != http.StatusOK || len(got.Orders) != 1 {
		t.Fatalf("list own: %d %s", rr.Code, rr.Body.String())
	}
	rr = f.do(http.MethodGet, "/orders", bob, nil)
	if got := decodeBody[ordersEnvelope](t, rr); len(got.Orders) != 0 {
		t.Fatalf("bob sees foreign orders: %s", rr.Body.String())
	}

	expectError(t, f.do(http.MethodGet, "/orders/"+placed.ID, bob, nil), http.StatusForbidden, codeForbidden)
	expectError(t, f.do(http.MethodGet, "/orders/"+placed.ID+"/status", bob, nil), http.StatusForbidden, codeForbidden)
	if rr := f.do(http.MethodGet, "/orders/"+placed.ID, admin, nil); rr.Code != http.StatusOK {
		t.Fatalf("admin get: %d", rr.Code)
	}
	expectError(t, f.do(http.MethodGet, "/orders/nope", admin, nil), http.StatusNotFound, codeNotFound)

	expectError(t, f.do(http.MethodPost, "/orders/"+placed.ID+"/ship", alice, nil), http.StatusForbidden, codeForbidden)
	if rr := f.do(http.MethodPost, "/orders/"+placed.ID+"/ship", staff, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("ship: %d %s", rr.Code, rr.Body.String())
	}
	expectError(t, f.do(http.MethodPut, "/orders/"+placed.ID+"/status", staff, setStatusRequest{Status: "melted"}),
		http.StatusBadRequest, codeValidation)
	if rr := f.do(http.MethodPut, "/orders/"+placed.ID+"/status", staff, setStatusRequest{Status: "delivered", Message: "left at door"}); rr.Code != http.StatusNoContent {
		t.Fatalf("set status: %d %s", rr.Code, rr.Body.String())
	}

	rr = f.do(http.MethodGet, "/orders/"+placed.ID+"/status", alice, nil)
	hist := decodeBody[historyEnvelope](t, rr).StatusHistory
	if len(hist) != 3 || hist[0].Status != "pending" || hist[1].Status != "shipping" || hist[2].Message != "left at door" {
		t.Fatalf("unexpected history: %+v", hist)
	}

	got := decodeBody[orderEnvelope](t, f.do(http.MethodGet, "/orders/"+placed.ID, alice, nil)).Order
	if got.Status != "delivered" || got.Items[0].Status != "delivered" {
		t.Fatalf("status not cascaded: %+v", got)
	}

	expectError(t, f.do(http.MethodGet, "/admin/orders", staff, nil), http.StatusForbidden, codeForbidden)
	rr = f.do(http.MethodGet, "/admin/orders", admin, nil)
	if all := decodeBody[ordersEnvelope](t, rr); len(all.Orders) != 1 {
		t.Fatalf("admin list: %s", rr.Body.String())
	}
}

func TestDecode_BodyLimits(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxBodyBytes = 64
	f := newAPIFixture(t, cfg, nil)
	alice := f.token("alice", auth.RoleCustomer)

	big := `{"shippingAddress":"` + strings.Repeat("x", 200) + `"}`
	expectError(t, f.do(http.MethodPost, "/orders", alice, big), http.StatusRequestEntityTooLarge, codePayloadTooLarge)
	expectError(t, f.do(http.MethodPost, "/orders", alice, `{}{}`), http.StatusBadRequest, codeInvalidJSON)
	expectError(t, f.do(http.MethodPost, "/orders", alice, nil), http.StatusBadRequest, codeInvalidJSON)
}

func TestOrders_ErrorCodes(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, DefaultConfig(), nil)
	v, cred := f.seedCatalog(3, 1, 4)
	alice := f.token("alice", auth.RoleCustomer)

	expectError(t, f.do(http.MethodPost, "/orders", "", placeBody(v.ID, cred.Code, 1)), http.StatusUnauthorized, codeUnauthorized)
	expectError(t, f.do(http.MethodPost, "/orders", "garbage", placeBody(v.ID, cred.Code, 1)), http.StatusUnauthorized, codeUnauthorized)
	expectError(t, f.do(http.MethodPost, "/orders", alice, `{"items":[],"extra":1}`), http.StatusBadRequest, codeInvalidJSON)

	expectError(t, f.do(http.MethodPost, "/orders", alice, placeBody(v.ID, "NOPE", 1)), http.StatusBadRequest, codeInvitationInvalid)
	expectError(t, f.do(http.MethodPost, "/orders", alice, placeBody(v.ID, cred.Code, 4)), http.StatusBadRequest, codeInsufficientStock)

	bad := placeBody(v.ID, cred.Code, 1)
	bad.ShippingAddress = ""
	expectError(t, f.do(http.MethodPost, "/orders", alice, bad), http.StatusBadRequest, codeValidation)

	if rr := f.do(http.MethodPost, "/orders", alice, placeBody(v.ID, cred.Code, 1)); rr.Code != http.StatusCreated {
		t.Fatalf("place: %d %s", rr.Code, rr.Body.String())
	}
	expectError(t, f.do(http.MethodPost, "/orders", alice, placeBody(v.ID, cred.Code, 1)), http.StatusBadRequest, codeOrderLimitExceeded)

	// Failed attempts never touched stock: 3 - 1.
	admin := f.token("admin-1", auth.RoleAdmin)
	rr := f.do(http.MethodGet, "/admin/variants", admin, nil)
	vs := decodeBody[variantsEnvelope](t, rr).Variants
	if len(vs) != 1 || vs[0].Stock != 2 {
		t.Fatalf("unexpected stock: %+v", vs)
	}
}

func TestOrders_IdempotencyKey(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, DefaultConfig(), nil)
	v, cred := f.seedCatalog(10, 5, 4)
	alice := f.token("alice", auth.RoleCustomer)

	place := func() orderResponse {
		body, _ := json.Marshal(placeBody(v.ID, cred.Code, 1))
		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+alice)
		req.Header.Set("Idempotency-Key", "7f1c2b9e-3f52-4a3c-9d1e-0a6b5f8e2c41")
		rr := httptest.NewRecorder()
		f.mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("place: %d %s", rr.Code, rr.Body.String())
		}
		return decodeBody[orderEnvelope](t, rr).Order
	}
	first, second := place(), place()
	if first.ID != second.ID {
		t.Fatalf("replay created a second order: %s vs %s", first.ID, second.ID)
	}
	snap := f.mem.Snapshot()
	if snap.Orders != 1 {
		t.Fatalf("expected one stored order, got %d", snap.Orders)
	}
}

func TestAdmin_Credentials(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, DefaultConfig(), nil)
	v, cred := f.seedCatalog(10, 2, 4)
	admin := f.token("admin-1", auth.RoleAdmin)
	alice := f.token("alice", auth.RoleCustomer)

	expectError(t, f.do(http.MethodPost, "/admin/credentials/"+cred.Code+"/cancel", alice, nil), http.StatusForbidden, codeForbidden)
	if rr := f.do(http.MethodPost, "/admin/credentials/"+cred.Code+"/cancel", admin, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("cancel: %d %s", rr.Code, rr.Body.String())
	}
	expectError(t, f.do(http.MethodPost, "/orders", alice, placeBody(v.ID, cred.Code, 1)), http.StatusBadRequest, codeInvitationInvalid)

	rr := f.do(http.MethodPost, "/admin/credentials/refresh", admin, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rr.Code, rr.Body.String())
	}

	expectError(t, f.do(http.MethodPost, "/admin/batches", admin, createBatchRequest{Name: "past", Deadline: time.Now().Add(-time.Hour)}),
		http.StatusBadRequest, codeValidation)
	expectError(t, f.do(http.MethodPost, "/admin/variants/"+v.ID+"/restock", admin, restockRequest{Delta: 0}),
		http.StatusBadRequest, codeValidation)
	rr = f.do(http.MethodPost, "/admin/variants/"+v.ID+"/restock", admin, restockRequest{Delta: 5})
	if got := decodeBody[variantResponse](t, rr); rr.Code != http.StatusOK || got.Stock != 15 {
		t.Fatalf("restock: %d %s", rr.Code, rr.Body.String())
	}
}

func TestVerificationCodes(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.VerifyRateMax = 3
	f := newAPIFixture(t, cfg, nil)

	rr := f.do(http.MethodPost, "/auth/verification-codes", "", verificationIssueRequest{Email: "Ada@Example.com"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("issue: %d %s", rr.Code, rr.Body.String())
	}
	code := f.codes.get("ada@example.com")
	if len(code) != 6 {
		t.Fatalf("code not delivered: %q", code)
	}

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	expectError(t, f.do(http.MethodPost, "/auth/verification-codes/verify", "", verificationVerifyRequest{Email: "ada@example.com", Code: wrong}),
		http.StatusBadRequest, codeValidation)
	if rr := f.do(http.MethodPost, "/auth/verification-codes/verify", "", verificationVerifyRequest{Email: "ada@example.com", Code: code}); rr.Code != http.StatusNoContent {
		t.Fatalf("verify: %d %s", rr.Code, rr.Body.String())
	}

	rr = f.do(http.MethodPost, "/auth/verification-codes", "", verificationIssueRequest{Email: "ada@example.com"})
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rr.Code)
	}
}

func TestWriteAppError_HidesInternalErrors(t *testing.T) {
	t.Parallel()

	for _, expose := range []bool{false, true} {
		h := &Handler{log: quietLog(), cfg: Config{ExposeErrors: expose}}
		rr := httptest.NewRecorder()
		h.writeAppError(rr, httptest.NewRequest(http.MethodGet, "/orders", nil), "test", errors.New("pool exhausted"))
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", rr.Code)
		}
		got := decodeBody[errorResponse](t, rr)
		leaked := strings.Contains(got.Error.Message, "pool exhausted")
		if leaked != expose {
			t.Fatalf("expose=%v message=%q", expose, got.Error.Message)
		}
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
		code   string
	}{
		{order.ErrForbidden, http.StatusForbidden, codeForbidden},
		{order.ErrNotFound, http.StatusNotFound, codeNotFound},
		{order.ErrDuplicateRequest, http.StatusConflict, codeConflict},
		{ledger.ErrNotFound, http.StatusNotFound, codeNotFound},
		{verify.ErrTooManyTries, http.StatusBadRequest, codeValidation},
		{context.Canceled, http.StatusInternalServerError, codeInternal},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("statusFor(%v)=%d,%s want %d,%s", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestEvaluateWindowThrottle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hits := []time.Time{
		now.Add(-1 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-6 * time.Minute),
	}

	blocked, retry := evaluateWindowThrottle(now, hits, 2, 5*time.Minute)
	if !blocked {
		t.Fatalf("expected window throttle to block")
	}
	if retry != 3*time.Minute {
		t.Fatalf("expected retry=3m, got %v", retry)
	}

	blocked, retry = evaluateWindowThrottle(now, hits, 3, 5*time.Minute)
	if blocked || retry != 0 {
		t.Fatalf("expected window throttle to allow, got blocked=%v retry=%v", blocked, retry)
	}
}

func TestRequestToken(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/orders?access_token=q", nil)
	r.Header.Set("Authorization", "bearer  abc ")
	if got := requestToken(r); got != "abc" {
		t.Fatalf("header token: %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/orders?access_token=q", nil)
	if got := requestToken(r); got != "" {
		t.Fatalf("query token accepted outside an upgrade: %q", got)
	}
	r.Header.Set("Upgrade", "websocket")
	if got := requestToken(r); got != "q" {
		t.Fatalf("upgrade query token: %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/orders", nil)
	r.Header.Set("Authorization", "Basic abc")
	if got := requestToken(r); got != "" {
		t.Fatalf("basic auth treated as bearer: %q", got)
	}
}
