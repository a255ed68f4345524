package plan

import "errors"

// ErrNotFound is returned when a referenced plan does not exist.
var ErrNotFound = errors.New("plan: not found")

// Plan is a subscription product plan with its limit line items.
type Plan struct {
	ID     string     `json:"id" yaml:"id"`
	Name   string     `json:"name" yaml:"name"`
	Limits []LineItem `json:"limits" yaml:"limits"`
}

// LineItem is a single named limit on a plan, in minutes.
type LineItem struct {
	Name  string  `json:"name" yaml:"name"`
	Limit float64 `json:"limit" yaml:"limit"`
}

// Kind identifies one of the recognised limit categories.
type Kind int

const (
	KindTranscoding Kind = iota
	KindDelivery
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindTranscoding:
		return "transcoding"
	case KindDelivery:
		return "delivery"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Limits holds the normalized limits of a plan. A nil field means the plan
// declares no limit for that metric, which is distinct from a zero limit.
type Limits struct {
	Transcoding *float64 `json:"transcoding_limit,omitempty"`
	Delivery    *float64 `json:"delivery_limit,omitempty"`
	Storage     *float64 `json:"storage_limit,omitempty"`
}

// Overage is usage in excess of plan limits, in minutes.
type Overage struct {
	TotalUsageOverage    float64 `json:"total_usage_overage"`
	DeliveryUsageOverage float64 `json:"delivery_usage_overage"`
	StorageUsageOverage  float64 `json:"storage_usage_overage"`
}

// Percentage is usage as a percentage of each plan limit.
type Percentage struct {
	TotalUsagePercent    float64 `json:"total_usage_percent"`
	DeliveryUsagePercent float64 `json:"delivery_usage_percent"`
	StorageUsagePercent  float64 `json:"storage_usage_percent"`
}
