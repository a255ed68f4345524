package usage

import (
	"errors"
	"time"

	"github.com/alecgard/meterline/internal/metering"
)

var (
	ErrRecordNotFound = errors.New("usage: record not found")
	ErrRecordExists   = errors.New("usage: record already exists")
	ErrInvalidWindow  = errors.New("usage: invalid window")
)

// periodLayout formats the day boundary used as a record ID.
const periodLayout = "2006-01-02"

// Record is one period (a UTC calendar day) of aggregated usage for a user.
// Records are keyed by (UserID, ID).
type Record struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	Date                 time.Time `json:"date"`
	TotalUsageMinutes    float64   `json:"total_usage_minutes"`
	DeliveryUsageMinutes float64   `json:"delivery_usage_minutes"`
	StorageUsageMinutes  float64   `json:"storage_usage_minutes"`
}

// Aggregate returns the record's usage in metering form.
func (r Record) Aggregate() metering.Aggregate {
	return metering.Aggregate{
		TotalUsageMins:    r.TotalUsageMinutes,
		DeliveryUsageMins: r.DeliveryUsageMinutes,
		StorageUsageMins:  r.StorageUsageMinutes,
	}
}

// PeriodStart truncates t to the start of its UTC day.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PeriodID returns the stable record ID for the period containing t.
func PeriodID(t time.Time) string {
	return PeriodStart(t).Format(periodLayout)
}

// NewRecord builds the record for a fetched period.
func NewRecord(userID string, p metering.Period) Record {
	return Record{
		ID:                   PeriodID(p.Date.Time),
		UserID:               userID,
		Date:                 PeriodStart(p.Date.Time),
		TotalUsageMinutes:    p.TotalUsageMins,
		DeliveryUsageMinutes: p.DeliveryUsageMins,
		StorageUsageMinutes:  p.StorageUsageMins,
	}
}

// Sum adds up the usage of all records.
func Sum(records []Record) metering.Aggregate {
	var total metering.Aggregate
	for _, r := range records {
		total = total.Add(r.Aggregate())
	}
	return total
}

// Order is the sort direction of Find results by period date.
type Order int

const (
	OrderAsc Order = iota
	OrderDesc
)

// Filter selects records for a user. Zero From/To leave that side unbounded;
// both bounds are inclusive.
type Filter struct {
	UserID string
	From   time.Time
	To     time.Time
}

// FindOptions controls ordering, limiting and replica routing of Find.
type FindOptions struct {
	Limit      int
	Order      Order
	UseReplica bool
}
