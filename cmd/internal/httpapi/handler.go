// Package httpapi exposes the order engine, lifecycle tracker and administration services over
// JSON HTTP.
//
// Every route except email verification requires a PASETO bearer token. Errors are rendered as
// {"error":{"code","message"}} with a stable code per error kind.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"kiln/cmd/internal/inventory"
	"kiln/cmd/internal/ledger"
	"kiln/cmd/internal/order"
	"kiln/cmd/internal/verify"
)

// EventFeed streams one order's events to an already authorized caller.
type EventFeed interface {
	Serve(w http.ResponseWriter, r *http.Request, userID, orderID string)
}

// Deps are the services the API fronts. Ledger, Inventory, Verify and Events are optional; their
// routes are not registered when nil.
type Deps struct {
	Tokens  TokenVerifier
	Engine  *order.Engine
	Reader  *order.Reader
	Tracker *order.Tracker

	Ledger    *ledger.Service
	Inventory *inventory.Service
	Verify    *verify.Service
	Events    EventFeed
}

// Handler wires HTTP routes to the order services.
type Handler struct {
	log  *slog.Logger
	cfg  Config
	deps Deps

	tokens      TokenVerifier
	apiLimit    *ipThrottle
	verifyLimit *ipThrottle
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, deps Deps) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	switch {
	case deps.Tokens == nil:
		return nil, errors.New("httpapi: nil token verifier")
	case deps.Engine == nil, deps.Reader == nil, deps.Tracker == nil:
		return nil, errors.New("httpapi: order services are required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	return &Handler{
		log:         log,
		cfg:         cfg,
		deps:        deps,
		tokens:      deps.Tokens,
		apiLimit:    newIPThrottle(cfg.APIRateMax, cfg.APIRateWindow),
		verifyLimit: newIPThrottle(cfg.VerifyRateMax, cfg.VerifyRateWindow),
	}, nil
}

// Register wires the API routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	api := func(g gate, fn http.HandlerFunc) http.HandlerFunc {
		return h.limited(h.apiLimit, h.authed(g, fn))
	}

	mux.HandleFunc("POST /orders", api(anyUser, h.handlePlaceOrder))
	mux.HandleFunc("GET /orders", api(anyUser, h.handleListOwn))
	mux.HandleFunc("GET /orders/{id}", api(anyUser, h.handleGetOrder))
	mux.HandleFunc("GET /orders/{id}/status", api(anyUser, h.handleHistory))
	mux.HandleFunc("PUT /orders/{id}/status", api(staffOnly, h.handleSetStatus))
	mux.HandleFunc("POST /orders/{id}/ship", api(staffOnly, h.handleShip))
	mux.HandleFunc("GET /admin/orders", api(adminOnly, h.handleListAll))

	if h.deps.Events != nil {
		// Long-lived; the API limiter would count every reconnect.
		mux.HandleFunc("GET /orders/{id}/events", h.authed(anyUser, h.handleEvents))
	}

	if h.deps.Ledger != nil {
		mux.HandleFunc("POST /admin/batches", api(adminOnly, h.handleCreateBatch))
		mux.HandleFunc("POST /admin/batches/{id}/credentials", api(adminOnly, h.handleIssueCredentials))
		mux.HandleFunc("POST /admin/credentials/{code}/cancel", api(adminOnly, h.handleCancelCredential))
		mux.HandleFunc("POST /admin/credentials/refresh", api(adminOnly, h.handleRefreshCredentials))
	}

	if h.deps.Inventory != nil {
		mux.HandleFunc("GET /admin/variants", api(adminOnly, h.handleListVariants))
		mux.HandleFunc("POST /admin/variants", api(adminOnly, h.handleCreateVariant))
		mux.HandleFunc("POST /admin/variants/{id}/restock", api(adminOnly, h.handleRestock))
	}

	if h.deps.Verify != nil {
		mux.HandleFunc("POST /auth/verification-codes", h.limited(h.verifyLimit, h.handleIssueCode))
		mux.HandleFunc("POST /auth/verification-codes/verify", h.limited(h.verifyLimit, h.handleVerifyCode))
	}
}
