package metering

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Window is a closed time range [From, To] used for both metering queries and
// cache lookups.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Valid reports whether From is not after To.
func (w Window) Valid() bool {
	return !w.From.After(w.To)
}

// Empty reports whether the window covers a single instant.
func (w Window) Empty() bool {
	return w.From.Equal(w.To)
}

// MonthToDate fills unset bounds with the start of now's UTC month and now.
func (w Window) MonthToDate(now time.Time) Window {
	now = now.UTC()
	if w.From.IsZero() {
		w.From = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	if w.To.IsZero() {
		w.To = now
	}
	return w
}

// ParseTime parses a window bound given as RFC3339 or YYYY-MM-DD. The result
// is in UTC. An empty string yields the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use YYYY-MM-DD or RFC3339", s)
	}
	return t, nil
}

// Aggregate is the aggregated usage returned by the metering service. Absent
// fields decode as zero.
type Aggregate struct {
	TotalUsageMins    float64 `json:"TotalUsageMins"`
	DeliveryUsageMins float64 `json:"DeliveryUsageMins"`
	StorageUsageMins  float64 `json:"StorageUsageMins"`
}

// Add returns the element-wise sum of a and b.
func (a Aggregate) Add(b Aggregate) Aggregate {
	return Aggregate{
		TotalUsageMins:    a.TotalUsageMins + b.TotalUsageMins,
		DeliveryUsageMins: a.DeliveryUsageMins + b.DeliveryUsageMins,
		StorageUsageMins:  a.StorageUsageMins + b.StorageUsageMins,
	}
}

// Period is one entry of the bulk usage-history response.
type Period struct {
	Date Timestamp `json:"date"`
	Aggregate
}

// Timestamp decodes either an RFC3339 string or epoch milliseconds.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts "2024-01-02T00:00:00Z", "2024-01-02" or 1704153600000.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("timestamp is null")
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			return fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}

	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parsing epoch timestamp: %w", err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

// MarshalJSON encodes the timestamp as RFC3339.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339))
}
