package usage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alecgard/meterline/internal/metering"
)

// UserSyncer synchronizes one user's usage. *Syncer satisfies it.
type UserSyncer interface {
	Sync(ctx context.Context, userID string, bounds metering.Window) ([]Record, error)
}

// Runner periodically runs a watermark-based sync for a fixed set of users.
type Runner struct {
	syncer   UserSyncer
	users    []string
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	done     chan struct{}
}

// NewRunner creates a Runner that syncs users every interval. Each user's
// sync is bounded by timeout when it is positive.
func NewRunner(syncer UserSyncer, users []string, interval, timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		syncer:   syncer,
		users:    users,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start syncs every user immediately and then on each tick. It blocks until
// Stop is called or ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("sync runner started", "users", len(r.users), "interval", r.interval)

	r.syncAll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.syncAll(ctx)
		case <-ctx.Done():
			r.logger.Info("sync runner stopped")
			return
		case <-r.done:
			r.logger.Info("sync runner stopped")
			return
		}
	}
}

// Stop signals Start to return. It must be called at most once.
func (r *Runner) Stop() {
	close(r.done)
}

// syncAll runs one pass over all users. A failing user does not stop the pass.
func (r *Runner) syncAll(ctx context.Context) {
	for _, userID := range r.users {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-r.done:
			return
		default:
		}

		r.syncUser(ctx, userID)
	}
}

func (r *Runner) syncUser(ctx context.Context, userID string) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if _, err := r.syncer.Sync(ctx, userID, metering.Window{}); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		r.logger.Warn("scheduled sync failed", "user_id", userID, "error", err)
	}
}
