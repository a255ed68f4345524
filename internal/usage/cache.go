package usage

import (
	"context"
	"fmt"

	"github.com/alecgard/meterline/internal/metering"
)

// QueryOptions controls how cached history is read.
type QueryOptions struct {
	// PreferReplica allows the read to be served by a possibly stale replica.
	PreferReplica bool
}

// Cache serves previously synchronized usage history. It never writes.
type Cache struct {
	repo Repository
}

// NewCache creates a cache query service over repo.
func NewCache(repo Repository) *Cache {
	return &Cache{repo: repo}
}

// QueryHistory returns the user's records whose period overlaps w, in
// ascending period order. No matching records yields an empty slice.
func (c *Cache) QueryHistory(ctx context.Context, userID string, w metering.Window, opts QueryOptions) ([]Record, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidWindow, w.From, w.To)
	}

	records, err := c.repo.Find(ctx, Filter{
		UserID: userID,
		From:   PeriodStart(w.From),
		To:     w.To,
	}, FindOptions{
		Order:      OrderAsc,
		UseReplica: opts.PreferReplica,
	})
	if err != nil {
		return nil, fmt.Errorf("querying cached history: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// GetPeriod returns a single cached period by its ID.
func (c *Cache) GetPeriod(ctx context.Context, userID, periodID string) (*Record, error) {
	return c.repo.Get(ctx, userID, periodID)
}
