package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/meterline/internal/api"
	"github.com/alecgard/meterline/internal/ratelimit"
	"github.com/alecgard/meterline/internal/usage"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin API and the scheduled sync runner",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Auth.AdminKeyHash == "" {
		slog.Warn("no admin key hash configured, admin API will reject all requests")
	}

	var runner *usage.Runner
	runnerDone := make(chan struct{})
	if len(cfg.Sync.Users) > 0 {
		runner = usage.NewRunner(a.syncer, cfg.Sync.Users, cfg.Sync.Interval, cfg.Sync.Timeout, slog.Default())
		go func() {
			defer close(runnerDone)
			runner.Start(ctx)
		}()
	} else {
		close(runnerDone)
		slog.Info("no sync users configured, scheduled sync disabled")
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.PerUser > 0 {
		limiter = ratelimit.New(cfg.RateLimit.PerUser, cfg.RateLimit.Window)
		go pruneLimiter(ctx, limiter, cfg.RateLimit.Window)
	}

	router := api.NewRouter(api.RouterDeps{
		Syncer:       a.syncer,
		History:      a.cache,
		Reconciler:   a.reconciler,
		Metrics:      a.metrics,
		DB:           a.db,
		AdminKeyHash: cfg.Auth.AdminKeyHash,
		Limiter:      limiter,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-sigCh:
		slog.Info("shutting down")
	case err := <-errCh:
		slog.Error("server error", "error", err)
		cancel()
		<-runnerDone
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if runner != nil {
		runner.Stop()
	}
	cancel()
	<-runnerDone

	return srv.Shutdown(shutdownCtx)
}

// pruneLimiter drops idle per-user buckets every window until ctx ends.
func pruneLimiter(ctx context.Context, l *ratelimit.Limiter, window time.Duration) {
	ticker := time.NewTicker(window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := l.Prune(); n > 0 {
				slog.Debug("pruned rate limit buckets", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
