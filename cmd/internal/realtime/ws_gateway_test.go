package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	orderevents "kiln/shared/contracts/orderevents/v1"

	"github.com/coder/websocket"
)

func startFeedServer(t *testing.T, cfg GatewayConfig) (*WSGateway, *httptest.Server) {
	t.Helper()
	log := quietLog()
	gw := NewWSGateway(log, NewHub(log), cfg)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		gw.Serve(w, r, "u1", r.PathValue("id"))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return gw, ts
}

func dialFeed(t *testing.T, baseURL, orderID, origin string, subprotocols ...string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/orders/" + orderID + "/events"

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if subprotocols == nil {
		subprotocols = []string{Subprotocol}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: subprotocols,
		HTTPHeader:   h,
	})
}

func readEnvelope(t *testing.T, conn *websocket.Conn) orderevents.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("conn.Read: %v", err)
	}
	var env orderevents.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func waitSubscribers(t *testing.T, h *Hub, orderID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers(orderID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers on %s, got %d", n, orderID, h.Subscribers(orderID))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWSGateway_StreamsOrderEvents(t *testing.T) {
	t.Parallel()

	gw, ts := startFeedServer(t, DefaultGatewayConfig())
	conn, resp, err := dialFeed(t, ts.URL, "o1", "http://localhost")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	waitSubscribers(t, gw.Hub(), "o1", 1)

	if err := gw.Hub().Publish(context.Background(), statusEvent(t, "e1", "o1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	env := readEnvelope(t, conn)
	if env.ID != "e1" || env.Type != orderevents.TypeOrderStatusChanged || env.OrderID != "o1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	// Inbound frames are answered with an error envelope.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"hello"}`)); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
	env = readEnvelope(t, conn)
	if env.Type != orderevents.TypeError {
		t.Fatalf("expected error envelope, got %+v", env)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "done")
	waitSubscribers(t, gw.Hub(), "o1", 0)
}

func TestWSGateway_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	_, ts := startFeedServer(t, DefaultGatewayConfig())
	_, resp, err := dialFeed(t, ts.URL, "o1", "https://evil.example")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("expected 403, got status=%d err=%v", status, err)
	}
}

func TestWSGateway_RequiresOrigin(t *testing.T) {
	t.Parallel()

	_, ts := startFeedServer(t, DefaultGatewayConfig())
	_, resp, err := dialFeed(t, ts.URL, "o1", "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without origin, err=%v", err)
	}
}

func TestWSGateway_RequiresSubprotocol(t *testing.T) {
	t.Parallel()

	gw, ts := startFeedServer(t, DefaultGatewayConfig())
	conn, resp, err := dialFeed(t, ts.URL, "o1", "http://localhost", "other.v1")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusProtocolError {
		t.Fatalf("expected protocol error close, got %v", err)
	}
	if gw.Hub().Subscribers("o1") != 0 {
		t.Fatalf("rejected client subscribed")
	}
}

func TestWSGateway_RateLimitsInboundFrames(t *testing.T) {
	t.Parallel()

	cfg := DefaultGatewayConfig()
	cfg.RateEvents = 2
	cfg.RateWindow = time.Minute
	_, ts := startFeedServer(t, cfg)

	conn, resp, err := dialFeed(t, ts.URL, "o1", "http://localhost")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := conn.Write(ctx, websocket.MessageText, []byte(`{}`)); err != nil {
			break
		}
	}

	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
			t.Fatalf("expected policy violation close, got %v", err)
		}
		return
	}
}
