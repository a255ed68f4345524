package api

import (
	"context"
	"net/http"
	"time"

	"github.com/alecgard/meterline/internal/auth"
	"github.com/alecgard/meterline/internal/metering"
	"github.com/alecgard/meterline/internal/metrics"
	"github.com/alecgard/meterline/internal/ratelimit"
	"github.com/alecgard/meterline/internal/usage"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Syncer runs an incremental usage sync for one user.
type Syncer interface {
	Sync(ctx context.Context, userID string, bounds metering.Window) ([]usage.Record, error)
}

// HistoryReader serves cached usage history.
type HistoryReader interface {
	QueryHistory(ctx context.Context, userID string, w metering.Window, opts usage.QueryOptions) ([]usage.Record, error)
	GetPeriod(ctx context.Context, userID, periodID string) (*usage.Record, error)
}

// Reconciler summarizes usage against plans and reports it.
type Reconciler interface {
	Summarize(ctx context.Context, userID, planID string, w metering.Window, live bool) (*usage.Summary, error)
	Reconcile(ctx context.Context, userID, planID string, w metering.Window, opts usage.ReconcileOptions) (*usage.ReconcileResult, error)
}

// Pinger is implemented by stores that can check their database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Syncer       Syncer
	History      HistoryReader
	Reconciler   Reconciler
	Metrics      *metrics.Metrics
	DB           Pinger // nil when the store has no database
	AdminKeyHash string
	Limiter      *ratelimit.Limiter // per-user limit on calls that reach metering; nil disables
	Now          func() time.Time
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	var httpMetrics HTTPMetrics
	if deps.Metrics != nil {
		httpMetrics = deps.Metrics
	}

	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger(httpMetrics))
	r.Use(secureHeaders)

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	h := newUsageHandler(deps.Syncer, deps.History, deps.Reconciler, now)

	r.Get("/health", healthHandler(deps.DB))

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}

	r.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Use(auth.AdminAuthMiddleware(deps.AdminKeyHash))

		if deps.Metrics != nil {
			ar.Get("/metrics", deps.Metrics.Handler())
		}

		ar.Route("/users/{userID}", func(ur chi.Router) {
			ur.With(limitUpstream(deps.Limiter)).Post("/sync", h.Sync)
			ur.Get("/usage", h.History)
			ur.Get("/usage/{periodID}", h.Period)
			ur.With(limitUpstream(deps.Limiter, "live")).Get("/overage", h.Overage)
			ur.With(limitUpstream(deps.Limiter, "sync", "live")).Post("/reconcile", h.Reconcile)
		})
	})

	return r
}

// limitUpstream rate limits per user the requests that reach the metering
// service. With flags, only requests setting one of those query flags to true
// are limited.
func limitUpstream(l *ratelimit.Limiter, flags ...string) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimit.Middleware(l, func(r *http.Request) string {
		if len(flags) > 0 && !anyFlagSet(r, flags) {
			return ""
		}
		return chi.URLParam(r, "userID")
	})
}

func anyFlagSet(r *http.Request, flags []string) bool {
	for _, f := range flags {
		if v, err := parseBoolParam(r, f); err == nil && v {
			return true
		}
	}
	return false
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "none"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
	}
}
