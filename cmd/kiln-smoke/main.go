// Package main is a CI-friendly end-to-end smoke test against a running kiln server.
//
// It validates:
//   - variant, batch and credential provisioning through the admin routes
//   - order admission with an invitation code
//   - the order event feed (handshake, subprotocol, status change delivery)
//   - shipping by staff
//   - the per-credential order limit on a second placement
//
// Tokens are minted locally, so KILN_AUTH_SECRET_KEY_HEX must match the server's key.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"kiln/cmd/internal/auth"
	"kiln/cmd/internal/realtime"
	orderevents "kiln/shared/contracts/orderevents/v1"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const maxReadBytes = 1 << 20 // 1MiB

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

type feedClient struct {
	conn  *websocket.Conn
	inbox chan orderevents.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "kiln base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header for the event feed handshake")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	cfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		fatalf("auth config: %v", err)
	}
	tokens, err := auth.NewTokens(cfg)
	if err != nil {
		fatalf("auth tokens: %v", err)
	}
	if !tokens.CanIssue() {
		fatalf("KILN_AUTH_SECRET_KEY_HEX is required to mint smoke tokens")
	}

	root := context.Background()
	admin := newAPIClient(*baseURL, mustToken(tokens, auth.Principal{UserID: "smoke-admin", Role: auth.RoleAdmin}), *timeout)
	buyer := newAPIClient(*baseURL, mustToken(tokens, auth.Principal{UserID: "smoke-" + uuid.NewString(), Role: auth.RoleCustomer}), *timeout)

	var variant struct {
		ID string `json:"id"`
	}
	admin.mustDo(root, http.MethodPost, "/admin/variants", map[string]any{
		"productId":        "smoke-product",
		"specification":    "smoke",
		"stock":            5,
		"maxOrderQuantity": 2,
		"priceCents":       1000,
	}, http.StatusCreated, &variant)

	var batch struct {
		ID string `json:"id"`
	}
	admin.mustDo(root, http.MethodPost, "/admin/batches", map[string]any{
		"name":     "smoke-" + time.Now().UTC().Format("20060102T150405"),
		"deadline": time.Now().UTC().Add(time.Hour),
	}, http.StatusCreated, &batch)

	var creds struct {
		Credentials []struct {
			Code string `json:"code"`
		} `json:"credentials"`
	}
	admin.mustDo(root, http.MethodPost, "/admin/batches/"+batch.ID+"/credentials", map[string]any{
		"count":             1,
		"maxOrders":         1,
		"maxItemsPerOrder":  2,
		"allowedVariantIds": []string{variant.ID},
	}, http.StatusCreated, &creds)
	if len(creds.Credentials) != 1 {
		fatalf("expected one credential, got %d", len(creds.Credentials))
	}
	code := creds.Credentials[0].Code

	place := map[string]any{
		"items":           []map[string]any{{"variantId": variant.ID, "quantity": 1}},
		"shippingAddress": "1 Smoke Street",
		"contactInfo":     "smoke@example.com",
		"invitationCode":  code,
		"requestId":       uuid.NewString(),
	}
	var placed struct {
		Order struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"order"`
	}
	buyer.mustDo(root, http.MethodPost, "/orders", place, http.StatusCreated, &placed)
	if placed.Order.Status != "pending" {
		fatalf("new order status: got=%q want=pending", placed.Order.Status)
	}
	if *verbose {
		fmt.Printf("placed: order=%s variant=%s code=%s\n", placed.Order.ID, variant.ID, code)
	}

	feed := mustConnect(root, *baseURL, placed.Order.ID, buyer.token, *origin, *timeout)
	defer closeWS(feed.conn)

	// Give the server a moment to register the subscriber before the transition.
	time.Sleep(200 * time.Millisecond)
	admin.mustDo(root, http.MethodPost, "/orders/"+placed.Order.ID+"/ship", nil, http.StatusNoContent, nil)

	env := feed.mustReadUntilType(root, orderevents.TypeOrderStatusChanged, *timeout)
	var changed orderevents.OrderStatusChangedPayload
	if err := json.Unmarshal(env.Payload, &changed); err != nil {
		fatalf("unmarshal status payload: %v", err)
	}
	if changed.OrderID != placed.Order.ID || changed.To != "shipping" {
		fatalf("unexpected status change: %+v", changed)
	}

	place["requestId"] = uuid.NewString()
	errCode := buyer.mustFail(root, http.MethodPost, "/orders", place)
	if errCode != "ORDER_LIMIT_EXCEEDED" {
		fatalf("second order: got error code %q want ORDER_LIMIT_EXCEEDED", errCode)
	}

	fmt.Printf("OK: order=%s status=%s variant=%s\n", placed.Order.ID, changed.To, variant.ID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustToken(tokens *auth.Tokens, p auth.Principal) string {
	tok, _, err := tokens.Issue(p, time.Now().UTC())
	if err != nil {
		fatalf("issue token for %s: %v", p.UserID, err)
	}
	return tok
}

func newAPIClient(base, token string, timeout time.Duration) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	return resp.StatusCode, data, err
}

func (c *apiClient) mustDo(ctx context.Context, method, path string, body any, want int, out any) {
	status, data, err := c.do(ctx, method, path, body)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if status != want {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, status, want, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

// mustFail expects an error response and returns its code.
func (c *apiClient) mustFail(ctx context.Context, method, path string, body any) string {
	status, data, err := c.do(ctx, method, path, body)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if status < 400 {
		fatalf("%s %s: expected failure, got status=%d", method, path, status)
	}
	var e struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &e); err != nil {
		fatalf("%s %s: decode error body: %v", method, path, err)
	}
	return e.Error.Code
}

func mustConnect(parent context.Context, baseURL, orderID, token, origin string, stepTimeout time.Duration) *feedClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	u, err := url.Parse(baseURL)
	if err != nil {
		fatalf("parse url: %v", err)
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/orders/" + orderID + "/events"
	u.RawQuery = url.Values{"access_token": {token}}.Encode()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{realtime.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect feed: %v", err)
	}
	if got := conn.Subprotocol(); got != realtime.Subprotocol {
		fatalf("subprotocol mismatch: got=%q", got)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &feedClient{
		conn:  conn,
		inbox: make(chan orderevents.Envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *feedClient) startReadLoop() {
	report := func(err error) {
		select {
		case c.errCh <- err:
		default:
		}
	}
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				report(err)
				return
			}

			var env orderevents.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				report(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				report(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				report(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *feedClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) orderevents.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			fatalf("feed error while waiting for %q: %v", wantType, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("feed closed while waiting for %q", wantType)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == orderevents.TypeError {
				var ep orderevents.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			}
		}
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
