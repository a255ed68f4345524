package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the admin metrics endpoint.
type Summary struct {
	HTTP     httpSummary     `json:"http"`
	Sync     syncSummary     `json:"sync"`
	Metering meteringSummary `json:"metering"`
	Reports  reportSummary   `json:"reports"`
	DB       dbInfo          `json:"db"`
	Server   serverInfo      `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
}

type syncSummary struct {
	Runs            float64 `json:"runs"`
	Failures        float64 `json:"failures"`
	PeriodsCreated  float64 `json:"periodsCreated"`
	PeriodsReplaced float64 `json:"periodsReplaced"`
	PeriodsSkipped  float64 `json:"periodsSkipped"`
	P50Duration     float64 `json:"p50Duration"`
	P95Duration     float64 `json:"p95Duration"`
}

type meteringSummary struct {
	Requests   float64            `json:"requests"`
	Errors     float64            `json:"errors"`
	ErrorKinds map[string]float64 `json:"errorKinds"`
	P95Latency float64            `json:"p95Latency"`
}

type reportSummary struct {
	Sent   float64 `json:"sent"`
	Failed float64 `json:"failed"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Handler returns an http.HandlerFunc that serves a JSON summary of the
// registry.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := m.Summarize()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

// Summarize gathers the registry into a Summary.
func (m *Metrics) Summarize() (*Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	start := gaugeValue(fam["meterline_server_start_time_seconds"])
	return &Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["meterline_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["meterline_http_requests_total"]),
			P50Latency:    histogramPercentile(fam["meterline_http_request_duration_seconds"], 0.50),
			P95Latency:    histogramPercentile(fam["meterline_http_request_duration_seconds"], 0.95),
		},
		Sync: syncSummary{
			Runs:            sumCounter(fam["meterline_sync_runs_total"]),
			Failures:        counterWithLabel(fam["meterline_sync_runs_total"], "status", "error"),
			PeriodsCreated:  counterWithLabel(fam["meterline_sync_periods_total"], "action", "created"),
			PeriodsReplaced: counterWithLabel(fam["meterline_sync_periods_total"], "action", "replaced"),
			PeriodsSkipped:  counterWithLabel(fam["meterline_sync_periods_total"], "action", "skipped"),
			P50Duration:     histogramPercentile(fam["meterline_sync_duration_seconds"], 0.50),
			P95Duration:     histogramPercentile(fam["meterline_sync_duration_seconds"], 0.95),
		},
		Metering: meteringSummary{
			Requests:   histogramCount(fam["meterline_metering_fetch_duration_seconds"]),
			Errors:     sumCounter(fam["meterline_metering_fetch_errors_total"]),
			ErrorKinds: countersByLabel(fam["meterline_metering_fetch_errors_total"], "kind"),
			P95Latency: histogramPercentile(fam["meterline_metering_fetch_duration_seconds"], 0.95),
		},
		Reports: reportSummary{
			Sent:   counterWithLabel(fam["meterline_reports_total"], "status", "ok"),
			Failed: counterWithLabel(fam["meterline_reports_total"], "status", "error"),
		},
		DB: dbInfo{
			TotalConns:    sumGauge(fam["meterline_db_pool_total_conns"]),
			IdleConns:     sumGauge(fam["meterline_db_pool_idle_conns"]),
			AcquiredConns: sumGauge(fam["meterline_db_pool_acquired_conns"]),
		},
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(time.Now().Unix()) - start,
		},
	}, nil
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func sumGauge(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetGauge() != nil {
			total += m.GetGauge().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 || ms[0].GetGauge() == nil {
		return 0
	}
	return ms[0].GetGauge().GetValue()
}

func counterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if hasLabel(m, labelName, labelValue) && m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// countersByLabel sums counter values grouped by the value of labelName.
func countersByLabel(f *dto.MetricFamily, labelName string) map[string]float64 {
	out := make(map[string]float64)
	if f == nil {
		return out
	}
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labelName {
				out[lp.GetValue()] += m.GetCounter().GetValue()
			}
		}
	}
	return out
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

// computeErrorRate is the share of requests with a 4xx or 5xx status_code.
func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '4' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

func histogramCount(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total uint64
	for _, m := range f.GetMetric() {
		if h := m.GetHistogram(); h != nil {
			total += h.GetSampleCount()
		}
	}
	return float64(total)
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// Everything landed in +Inf: report the largest finite bound.
	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
