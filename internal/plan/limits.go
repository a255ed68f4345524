// Package plan resolves subscription plan limits and reconciles usage
// against them.
package plan

import (
	"math"
	"strings"

	"github.com/alecgard/meterline/internal/metering"
)

// MissingLimitDefault is the limit applied by ComputeOverage when a plan
// declares no limit for a metric. Zero means all usage of that metric counts
// as overage.
const MissingLimitDefault = 0.0

// limitNames maps lower-cased line-item names to their limit category.
var limitNames = map[string]Kind{
	"transcoding": KindTranscoding,
	"delivery":    KindDelivery,
	"storage":     KindStorage,
}

// ParseKind returns the limit category for a line-item name, ignoring case.
func ParseKind(name string) (Kind, bool) {
	k, ok := limitNames[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// ResolveLimits maps a plan's line items to normalized limits. Items are
// applied in order, so a later duplicate overrides an earlier one. Unknown
// names are ignored.
func ResolveLimits(p Plan) Limits {
	var l Limits
	for _, item := range p.Limits {
		kind, ok := ParseKind(item.Name)
		if !ok {
			continue
		}
		v := item.Limit
		switch kind {
		case KindTranscoding:
			l.Transcoding = &v
		case KindDelivery:
			l.Delivery = &v
		case KindStorage:
			l.Storage = &v
		}
	}
	return l
}

// Get returns the limit for kind and whether the plan declares one.
func (l Limits) Get(kind Kind) (float64, bool) {
	var p *float64
	switch kind {
	case KindTranscoding:
		p = l.Transcoding
	case KindDelivery:
		p = l.Delivery
	case KindStorage:
		p = l.Storage
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// ComputeOverage returns usage above each limit. Missing limits fall back to
// MissingLimitDefault. Results are never negative.
func ComputeOverage(usage metering.Aggregate, limits Limits) Overage {
	return Overage{
		TotalUsageOverage:    overage(usage.TotalUsageMins, limits, KindTranscoding),
		DeliveryUsageOverage: overage(usage.DeliveryUsageMins, limits, KindDelivery),
		StorageUsageOverage:  overage(usage.StorageUsageMins, limits, KindStorage),
	}
}

// ComputePercentage returns usage as a percentage of each limit. A missing or
// zero limit yields 0.
func ComputePercentage(usage metering.Aggregate, limits Limits) Percentage {
	return Percentage{
		TotalUsagePercent:    percent(usage.TotalUsageMins, limits, KindTranscoding),
		DeliveryUsagePercent: percent(usage.DeliveryUsageMins, limits, KindDelivery),
		StorageUsagePercent:  percent(usage.StorageUsageMins, limits, KindStorage),
	}
}

func overage(used float64, limits Limits, kind Kind) float64 {
	limit, ok := limits.Get(kind)
	if !ok {
		limit = MissingLimitDefault
	}
	return math.Max(finite(used)-limit, 0)
}

func percent(used float64, limits Limits, kind Kind) float64 {
	limit, ok := limits.Get(kind)
	if !ok || limit == 0 {
		return 0
	}
	return math.Max(finite(used)*100/limit, 0)
}

// finite treats NaN usage from a malformed upstream value as zero.
func finite(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
