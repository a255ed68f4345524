package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alecgard/meterline/internal/billing"
	"github.com/alecgard/meterline/internal/metering"
	"github.com/alecgard/meterline/internal/plan"
)

// UsageFetcher retrieves a single aggregate for a window directly from the
// metering service.
type UsageFetcher interface {
	FetchUsage(ctx context.Context, userID string, w metering.Window) (*metering.Aggregate, error)
}

// PlanSource looks up product plans by ID.
type PlanSource interface {
	Get(id string) (plan.Plan, error)
}

// Summary is a user's usage for a window reconciled against a plan.
type Summary struct {
	UserID     string             `json:"user_id"`
	PlanID     string             `json:"plan_id"`
	Window     metering.Window    `json:"window"`
	Source     string             `json:"source"`
	Periods    int                `json:"periods"`
	Usage      metering.Aggregate `json:"usage"`
	Limits     plan.Limits        `json:"limits"`
	Overage    plan.Overage       `json:"overage"`
	Percentage plan.Percentage    `json:"percentage"`
}

const (
	SourceCache = "cache"
	SourceLive  = "live"
)

// ReconcileOptions selects which steps Reconcile performs.
type ReconcileOptions struct {
	// Sync refreshes the cache for the window before summarizing.
	Sync bool
	// Report sends the summary to the billing reporter.
	Report bool
	// Live summarizes from the metering service instead of the cache.
	Live bool
}

// ReconcileResult is the outcome of Reconcile.
type ReconcileResult struct {
	Synced   []Record `json:"synced,omitempty"`
	Summary  *Summary `json:"summary,omitempty"`
	Reported bool     `json:"reported"`
}

// Reconciler composes sync, summary and billing report into one entry point
// while keeping each step independent.
type Reconciler struct {
	syncer   UserSyncer
	cache    *Cache
	fetcher  UsageFetcher
	plans    PlanSource
	reporter billing.Reporter
	now      func() time.Time
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler. A nil reporter discards reports.
func NewReconciler(syncer UserSyncer, cache *Cache, fetcher UsageFetcher, plans PlanSource, reporter billing.Reporter, logger *slog.Logger) *Reconciler {
	if reporter == nil {
		reporter = billing.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		syncer:   syncer,
		cache:    cache,
		fetcher:  fetcher,
		plans:    plans,
		reporter: reporter,
		now:      time.Now,
		logger:   logger,
	}
}

// Summarize computes totals, overage and percentage of limit for the user's
// usage in w. A zero w.From defaults to the start of the current UTC month and
// a zero w.To to now.
func (r *Reconciler) Summarize(ctx context.Context, userID, planID string, w metering.Window, live bool) (*Summary, error) {
	p, err := r.plans.Get(planID)
	if err != nil {
		return nil, err
	}
	return r.summarize(ctx, userID, p, r.defaultWindow(w), live)
}

// Reconcile optionally syncs, then summarizes, then optionally reports. When
// the sync fails the records it managed to write are returned with the error
// and no report is sent.
func (r *Reconciler) Reconcile(ctx context.Context, userID, planID string, w metering.Window, opts ReconcileOptions) (*ReconcileResult, error) {
	p, err := r.plans.Get(planID)
	if err != nil {
		return nil, err
	}
	w = r.defaultWindow(w)
	result := &ReconcileResult{}

	if opts.Sync {
		synced, err := r.syncer.Sync(ctx, userID, w)
		result.Synced = synced
		if err != nil {
			return result, fmt.Errorf("syncing before reconcile: %w", err)
		}
	}

	summary, err := r.summarize(ctx, userID, p, w, opts.Live)
	if err != nil {
		return result, err
	}
	result.Summary = summary

	if opts.Report {
		err := r.reporter.ReportUsage(ctx, billing.Usage{
			UserID:     userID,
			PlanID:     p.ID,
			From:       w.From,
			To:         w.To,
			Overage:    summary.Overage,
			Percentage: summary.Percentage,
		})
		if err != nil {
			return result, fmt.Errorf("reporting usage: %w", err)
		}
		result.Reported = true
	}

	r.logger.Info("usage reconciled",
		"user_id", userID,
		"plan_id", p.ID,
		"synced", len(result.Synced),
		"reported", result.Reported,
	)
	return result, nil
}

func (r *Reconciler) summarize(ctx context.Context, userID string, p plan.Plan, w metering.Window, live bool) (*Summary, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidWindow, w.From, w.To)
	}

	s := &Summary{
		UserID: userID,
		PlanID: p.ID,
		Window: w,
		Limits: plan.ResolveLimits(p),
	}

	if live {
		agg, err := r.fetcher.FetchUsage(ctx, userID, w)
		if err != nil {
			return nil, fmt.Errorf("fetching live usage: %w", err)
		}
		s.Source = SourceLive
		s.Usage = *agg
	} else {
		records, err := r.cache.QueryHistory(ctx, userID, w, QueryOptions{PreferReplica: true})
		if err != nil {
			return nil, err
		}
		s.Source = SourceCache
		s.Periods = len(records)
		s.Usage = Sum(records)
	}

	s.Overage = plan.ComputeOverage(s.Usage, s.Limits)
	s.Percentage = plan.ComputePercentage(s.Usage, s.Limits)
	return s, nil
}

func (r *Reconciler) defaultWindow(w metering.Window) metering.Window {
	return w.MonthToDate(r.now())
}
