package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alecgard/meterline/internal/metering"
	"github.com/google/uuid"
)

// DefaultEpoch is where synchronization starts for a user with no cached
// history.
var DefaultEpoch = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// HistoryFetcher retrieves per-period usage history from the metering
// service.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, userID string, w metering.Window) ([]metering.Period, error)
}

// MetricsRecorder is an optional interface for recording sync metrics.
type MetricsRecorder interface {
	IncSyncRun(status string)
	IncSyncPeriod(action string)
	ObserveSyncDuration(seconds float64)
}

// Syncer incrementally synchronizes metered usage into the local cache.
type Syncer struct {
	repo    Repository
	fetcher HistoryFetcher
	epoch   time.Time
	now     func() time.Time
	logger  *slog.Logger
	metrics MetricsRecorder
}

// NewSyncer creates a Syncer. A zero epoch uses DefaultEpoch.
func NewSyncer(repo Repository, fetcher HistoryFetcher, epoch time.Time, logger *slog.Logger) *Syncer {
	if epoch.IsZero() {
		epoch = DefaultEpoch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		repo:    repo,
		fetcher: fetcher,
		epoch:   epoch.UTC(),
		now:     time.Now,
		logger:  logger,
	}
}

// SetMetrics sets the optional metrics recorder.
func (s *Syncer) SetMetrics(m MetricsRecorder) {
	s.metrics = m
}

// Sync fetches the user's usage history and upserts one record per period.
//
// A zero bounds.From resumes from the latest cached period (or the epoch when
// nothing is cached); a zero bounds.To means now. The written records are
// returned in period order. If a fetch or write fails part way, the records
// written so far are returned with the error; they remain stored and the next
// watermark-based sync picks up from there.
func (s *Syncer) Sync(ctx context.Context, userID string, bounds metering.Window) ([]Record, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := s.logger.With("run_id", runID, "user_id", userID)

	written, err := s.sync(ctx, logger, userID, bounds)

	if s.metrics != nil {
		s.metrics.ObserveSyncDuration(time.Since(start).Seconds())
		if err != nil {
			s.metrics.IncSyncRun("error")
		} else {
			s.metrics.IncSyncRun("ok")
		}
	}
	if err != nil {
		logger.Error("usage sync failed", "written", len(written), "error", err)
		return written, err
	}

	logger.Info("usage sync complete",
		"periods", len(written),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return written, nil
}

func (s *Syncer) sync(ctx context.Context, logger *slog.Logger, userID string, bounds metering.Window) ([]Record, error) {
	w, err := s.resolveWindow(ctx, userID, bounds)
	if err != nil {
		return nil, err
	}
	if !w.Valid() {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidWindow, w.From, w.To)
	}
	if w.Empty() {
		return []Record{}, nil
	}

	logger.Debug("syncing usage window", "from", w.From, "to", w.To)

	periods, err := s.fetcher.FetchHistory(ctx, userID, w)
	if err != nil {
		return nil, fmt.Errorf("fetching usage history: %w", err)
	}

	records := normalize(userID, s.dropOutOfWindow(logger, w, periods))
	written := make([]Record, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		created, err := s.repo.Upsert(ctx, rec)
		if err != nil {
			return written, fmt.Errorf("upserting period %s: %w", rec.ID, err)
		}
		if s.metrics != nil {
			if created {
				s.metrics.IncSyncPeriod("created")
			} else {
				s.metrics.IncSyncPeriod("replaced")
			}
		}
		written = append(written, rec)
	}

	return written, nil
}

// resolveWindow fills unset bounds from the watermark, the epoch and the
// clock.
func (s *Syncer) resolveWindow(ctx context.Context, userID string, bounds metering.Window) (metering.Window, error) {
	w := metering.Window{From: bounds.From.UTC(), To: bounds.To.UTC()}

	if bounds.From.IsZero() {
		latest, err := s.watermark(ctx, userID)
		if err != nil {
			return metering.Window{}, err
		}
		if latest != nil {
			w.From = latest.Date
		} else {
			w.From = s.epoch
		}
	}
	if bounds.To.IsZero() {
		w.To = s.now().UTC()
	}
	return w, nil
}

// watermark returns the most recent cached record for the user, or nil.
func (s *Syncer) watermark(ctx context.Context, userID string) (*Record, error) {
	records, err := s.repo.Find(ctx, Filter{UserID: userID}, FindOptions{
		Limit:      1,
		Order:      OrderDesc,
		UseReplica: true,
	})
	if err != nil {
		return nil, fmt.Errorf("reading sync watermark: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// dropOutOfWindow discards fetched periods that are undated or whose day
// falls outside [start of day of w.From, w.To]. Storing them would move the
// watermark past the window.
func (s *Syncer) dropOutOfWindow(logger *slog.Logger, w metering.Window, periods []metering.Period) []metering.Period {
	kept := make([]metering.Period, 0, len(periods))
	for _, p := range periods {
		if periodInWindow(p, w) {
			kept = append(kept, p)
			continue
		}
		logger.Warn("skipping fetched period outside sync window",
			"date", p.Date.Time,
			"from", w.From,
			"to", w.To,
		)
		if s.metrics != nil {
			s.metrics.IncSyncPeriod("skipped")
		}
	}
	return kept
}

func periodInWindow(p metering.Period, w metering.Window) bool {
	if p.Date.IsZero() {
		return false
	}
	start := PeriodStart(p.Date.Time)
	return !start.Before(PeriodStart(w.From)) && !start.After(w.To)
}

// normalize converts fetched periods to records in ascending period order.
// When the same period appears more than once the later entry wins.
func normalize(userID string, periods []metering.Period) []Record {
	byID := make(map[string]int, len(periods))
	records := make([]Record, 0, len(periods))
	for _, p := range periods {
		rec := NewRecord(userID, p)
		if i, ok := byID[rec.ID]; ok {
			records[i] = rec
			continue
		}
		byID[rec.ID] = len(records)
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date)
	})
	return records
}
