// Package app wires the kiln server runtime: config, logging, storage, notifications and HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"kiln/cmd/internal/auth"
	"kiln/cmd/internal/httpapi"
	"kiln/cmd/internal/inventory"
	"kiln/cmd/internal/ledger"
	"kiln/cmd/internal/memstore"
	"kiln/cmd/internal/notify"
	"kiln/cmd/internal/order"
	"kiln/cmd/internal/realtime"
	"kiln/cmd/internal/storage/pg"
	"kiln/cmd/internal/verify"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// App is the kiln server runtime: it owns the HTTP server, the notification dispatcher and
// the storage lifecycle.
type App struct {
	cfg Config
	log *slog.Logger

	pool    *pgxpool.Pool
	metrics *Metrics

	dispatcher *notify.Dispatcher
	closeSink  func() error

	ledger *ledger.Service
	api    *httpapi.Handler
}

// stores groups the persistence backends the services run on.
type stores struct {
	ledger       ledger.AdminStore
	inventory    inventory.AdminStore
	orders       order.Store
	verification verify.Store
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg)
	}

	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("auth config: %w", err)
	}
	tokens, err := auth.NewTokens(authCfg)
	if err != nil {
		return nil, fmt.Errorf("auth tokens: %w", err)
	}

	policy, err := order.ParsePolicy(cfg.OrderTransitions)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()

	st, pool, err := openStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	metrics.ObservePool(pool)
	closePool := func() {
		if pool != nil {
			pool.Close()
		}
	}

	ncfg, err := notify.LoadConfig()
	if err != nil {
		closePool()
		return nil, err
	}
	sink, closeSink, err := notify.OpenSink(ncfg, log)
	if err != nil {
		closePool()
		return nil, err
	}

	hub := realtime.NewHub(log)
	gwCfg := realtime.DefaultGatewayConfig()
	gwCfg.AllowedOrigins = cfg.WSAllowedOrigins
	gwCfg.HeartbeatInterval = cfg.WSHeartbeatInterval
	gateway := realtime.NewWSGateway(log, hub, gwCfg)

	dispatcher, err := notify.NewDispatcher(notify.Multi{hub, sink}, ncfg,
		notify.WithLogger(log),
		notify.WithMetrics(metrics),
	)
	if err != nil {
		_ = closeSink()
		closePool()
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		log:        log,
		pool:       pool,
		metrics:    metrics,
		dispatcher: dispatcher,
		closeSink:  closeSink,
	}
	if err := a.wireServices(st, tokens, policy, gateway); err != nil {
		_ = closeSink()
		closePool()
		return nil, err
	}

	log.Info("app.ready",
		"db_enabled", pool != nil,
		"notify_sink", sink.Name(),
		"transitions", policy.Name(),
		"token_issuer", authCfg.Issuer,
	)
	return a, nil
}

func (a *App) wireServices(st stores, tokens *auth.Tokens, policy order.TransitionPolicy, gateway *realtime.WSGateway) error {
	orderOpts := []order.Option{
		order.WithNotifier(a.dispatcher),
		order.WithMetrics(a.metrics),
		order.WithLogger(a.log),
		order.WithPolicy(policy),
	}
	engine, err := order.NewEngine(st.orders, orderOpts...)
	if err != nil {
		return err
	}
	tracker, err := order.NewTracker(st.orders, orderOpts...)
	if err != nil {
		return err
	}
	reader, err := order.NewReader(st.orders)
	if err != nil {
		return err
	}

	ledgerSvc, err := ledger.NewService(st.ledger)
	if err != nil {
		return err
	}
	inventorySvc, err := inventory.NewService(st.inventory)
	if err != nil {
		return err
	}
	verifySvc, err := verify.NewService(st.verification,
		verify.NotifySender{N: a.dispatcher, Log: a.log},
		verify.WithLogger(a.log),
	)
	if err != nil {
		return err
	}

	api, err := httpapi.NewHandler(a.log, httpapi.LoadConfigFromEnv(), httpapi.Deps{
		Tokens:    tokens,
		Engine:    engine,
		Reader:    reader,
		Tracker:   tracker,
		Ledger:    ledgerSvc,
		Inventory: inventorySvc,
		Verify:    verifySvc,
		Events:    gateway,
	})
	if err != nil {
		return err
	}

	a.ledger = ledgerSvc
	a.api = api
	return nil
}

// openStores picks Postgres when KILN_DATABASE_URL is set and the in-memory store otherwise.
func openStores(ctx context.Context, cfg Config, log *slog.Logger) (stores, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		mem := memstore.New()
		return stores{
			ledger:       mem.Ledger(),
			inventory:    mem.Inventory(),
			orders:       mem.Orders(),
			verification: mem.Verification(),
		}, nil, nil
	}

	iso, err := pg.ParseIsolation(cfg.AdmissionIsolation)
	if err != nil {
		return stores{}, nil, err
	}

	pool, err := NewDBPool(ctx, cfg, log)
	if err != nil {
		return stores{}, nil, err
	}

	st, err := postgresStores(pool, cfg.DBSchema, iso)
	if err != nil {
		pool.Close()
		return stores{}, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", pg.NormalizeSchema(cfg.DBSchema), "isolation", string(iso))
	return st, pool, nil
}

func postgresStores(pool *pgxpool.Pool, schema string, iso pgx.TxIsoLevel) (stores, error) {
	creds, err := ledger.NewPostgresStore(pool, ledger.WithSchema(schema))
	if err != nil {
		return stores{}, err
	}
	variants, err := inventory.NewPostgresStore(pool, inventory.WithSchema(schema))
	if err != nil {
		return stores{}, err
	}
	orders, err := order.NewPostgresStore(pool, order.WithSchema(schema), order.WithIsolation(iso))
	if err != nil {
		return stores{}, err
	}
	codes, err := verify.NewPostgresStore(pool, schema)
	if err != nil {
		return stores{}, err
	}
	return stores{ledger: creds, inventory: variants, orders: orders, verification: codes}, nil
}

// Run serves HTTP until ctx is done, then stops the server, drains pending notifications and
// releases the sink and the pool.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.pool, a.metrics, a.api)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           buildHandler(mux, a.cfg, a.log, a.metrics),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	// The dispatcher outlives the server so events produced by in-flight requests are delivered.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- a.dispatcher.Run(dispatchCtx) }()

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "base_url", base, "events_url", wsBaseURL(base)+"/orders/{id}/events")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})
	if a.cfg.CredentialRefreshInterval > 0 {
		g.Go(func() error {
			a.refreshLoop(gctx, a.cfg.CredentialRefreshInterval)
			return nil
		})
	}
	err := g.Wait()

	stopDispatch()
	if derr := <-dispatchDone; derr != nil {
		a.log.Error("notify.run.fail", "err", derr)
	}
	if cerr := a.closeSink(); cerr != nil {
		a.log.Error("notify.close.fail", "err", cerr)
	}
	if a.pool != nil {
		a.pool.Close()
	}

	a.log.Info("server.stopped")
	return err
}

// refreshLoop expires credentials and batches whose deadline passed.
func (a *App) refreshLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			res, err := a.ledger.RefreshStatuses(ctx, now.UTC())
			if err != nil {
				if ctx.Err() == nil {
					a.log.Warn("ledger.refresh.fail", "err", err)
				}
				continue
			}
			if res.ExpiredCredentials+res.UsedUpCredentials+res.ExpiredBatches > 0 {
				a.log.Info("ledger.refresh.ok",
					"expired_credentials", res.ExpiredCredentials,
					"used_up_credentials", res.UsedUpCredentials,
					"expired_batches", res.ExpiredBatches,
				)
			}
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
