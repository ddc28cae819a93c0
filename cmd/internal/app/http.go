package app

import (
	"log/slog"
	"net/http"
	"time"

	"kiln/cmd/internal/httpapi"

	"github.com/jackc/pgx/v5/pgxpool"
)

func registerHTTP(
	mux *http.ServeMux,
	log *slog.Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	metrics *Metrics,
	api *httpapi.Handler,
) {
	dbEnabled := dbPool != nil

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	api.Register(mux)
}

// buildHandler stacks the middleware around mux; the outermost layer runs first.
func buildHandler(mux http.Handler, cfg Config, log *slog.Logger, metrics *Metrics) http.Handler {
	h := WithCORS(mux, cfg, log)
	h = WithSecurityHeaders(h)
	if metrics != nil {
		h = metrics.Instrument(h)
	}
	return WithTracing(WithRequestLogging(h, log))
}
