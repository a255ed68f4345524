package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for meterline.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Sync metrics.
	SyncRunsTotal    *prometheus.CounterVec
	SyncPeriodsTotal *prometheus.CounterVec
	SyncDuration     prometheus.Histogram

	// Metering client metrics.
	FetchDuration    *prometheus.HistogramVec
	FetchErrorsTotal *prometheus.CounterVec

	// Billing report metrics.
	ReportsTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterline_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meterline_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		SyncRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterline_sync_runs_total",
			Help: "Total number of usage sync runs.",
		}, []string{"status"}),

		SyncPeriodsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterline_sync_periods_total",
			Help: "Total number of usage periods written by sync.",
		}, []string{"action"}),

		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meterline_sync_duration_seconds",
			Help:    "Duration of usage sync runs in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meterline_metering_fetch_duration_seconds",
			Help:    "Metering service request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		FetchErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterline_metering_fetch_errors_total",
			Help: "Total number of failed metering requests by error kind.",
		}, []string{"kind"}),

		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterline_reports_total",
			Help: "Total number of billing usage reports.",
		}, []string{"status"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meterline_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SyncRunsTotal,
		m.SyncPeriodsTotal,
		m.SyncDuration,
		m.FetchDuration,
		m.FetchErrorsTotal,
		m.ReportsTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers connection gauges for a named pool.
func (m *Metrics) RegisterDBPoolCollector(pool string, statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(pool, statFunc))
}

// ObserveHTTPRequest records one served HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, pathPattern string, statusCode int, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(seconds)
}

// IncSyncRun increments the sync run counter for the given status.
func (m *Metrics) IncSyncRun(status string) {
	m.SyncRunsTotal.WithLabelValues(status).Inc()
}

// IncSyncPeriod increments the written period counter ("created" or "replaced").
func (m *Metrics) IncSyncPeriod(action string) {
	m.SyncPeriodsTotal.WithLabelValues(action).Inc()
}

// ObserveSyncDuration records the duration of a sync run.
func (m *Metrics) ObserveSyncDuration(seconds float64) {
	m.SyncDuration.Observe(seconds)
}

// ObserveFetchDuration records the duration of a metering request.
func (m *Metrics) ObserveFetchDuration(endpoint string, seconds float64) {
	m.FetchDuration.WithLabelValues(endpoint).Observe(seconds)
}

// IncFetchError increments the metering error counter.
func (m *Metrics) IncFetchError(kind string) {
	m.FetchErrorsTotal.WithLabelValues(kind).Inc()
}

// IncReport increments the billing report counter.
func (m *Metrics) IncReport(status string) {
	m.ReportsTotal.WithLabelValues(status).Inc()
}
