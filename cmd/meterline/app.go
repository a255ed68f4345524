package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/alecgard/meterline/internal/api"
	"github.com/alecgard/meterline/internal/billing"
	"github.com/alecgard/meterline/internal/config"
	"github.com/alecgard/meterline/internal/metering"
	"github.com/alecgard/meterline/internal/metrics"
	"github.com/alecgard/meterline/internal/plan"
	"github.com/alecgard/meterline/internal/usage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// app holds the wired components shared by serve and sync.
type app struct {
	cfg        *config.Config
	metrics    *metrics.Metrics
	repo       usage.Repository
	db         api.Pinger
	client     *metering.Client
	syncer     *usage.Syncer
	cache      *usage.Cache
	reconciler *usage.Reconciler
	closers    []func()
}

func setupLogger() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.client = metering.NewClient(cfg.Metering.BaseURL, cfg.Metering.Token,
		metering.WithTimeout(cfg.Metering.Timeout),
	)
	a.client.SetMetrics(a.metrics)

	a.syncer = usage.NewSyncer(a.repo, a.client, cfg.Sync.Epoch, slog.Default())
	a.syncer.SetMetrics(a.metrics)
	a.cache = usage.NewCache(a.repo)

	catalog, err := plan.NewCatalog(cfg.Plans)
	if err != nil {
		a.Close()
		return nil, err
	}

	var reporter billing.Reporter = billing.Noop{}
	if cfg.Billing.ReportURL != "" {
		hr := billing.NewHTTPReporter(cfg.Billing.ReportURL, cfg.Billing.Token,
			&http.Client{Timeout: cfg.Billing.Timeout}, slog.Default())
		hr.SetMetrics(a.metrics)
		reporter = hr
	} else {
		slog.Info("billing report url not configured, usage reports are discarded")
	}

	a.reconciler = usage.NewReconciler(a.syncer, a.cache, a.client, catalog, reporter, slog.Default())
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("pinging database: %w", err)
		}
		a.metrics.RegisterDBPoolCollector("primary", pgxStats(pool))
		slog.Info("connected to database")

		var replica *pgxpool.Pool
		if a.cfg.Database.ReplicaURL != "" {
			replica, err = pgxpool.New(ctx, a.cfg.Database.ReplicaURL)
			if err != nil {
				return fmt.Errorf("connecting to replica: %w", err)
			}
			a.closers = append(a.closers, replica.Close)
			a.metrics.RegisterDBPoolCollector("replica", pgxStats(replica))
			slog.Info("read replica configured")
		}

		store := usage.NewPGStore(pool, replica)
		a.repo, a.db = store, store

	case config.DriverSQLite:
		store, err := usage.OpenSQLite(ctx, a.cfg.Database.Path)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		a.metrics.RegisterDBPoolCollector("primary", store.Stats)
		slog.Info("opened sqlite database", "path", a.cfg.Database.Path)
		a.repo, a.db = store, store

	case config.DriverMemory:
		slog.Warn("using in-memory usage store, cached history is lost on exit")
		a.repo = usage.NewMemoryStore()

	default:
		return fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
	}
	return nil
}

func pgxStats(pool *pgxpool.Pool) metrics.DBPoolStatFunc {
	return func() (total, idle, acquired int32) {
		s := pool.Stat()
		return s.TotalConns(), s.IdleConns(), s.AcquiredConns()
	}
}

// Close releases database pools in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
