package metrics

import "github.com/prometheus/client_golang/prometheus"

// DBPoolStatFunc returns database pool statistics without importing pgxpool
// or database/sql.
type DBPoolStatFunc func() (total, idle, acquired int32)

// dbPoolCollector exposes connection gauges for one named pool.
type dbPoolCollector struct {
	statFunc DBPoolStatFunc

	totalDesc    *prometheus.Desc
	idleDesc     *prometheus.Desc
	acquiredDesc *prometheus.Desc
}

// NewDBPoolCollector creates a collector for the pool named pool ("primary"
// or "replica"), reported as a constant label.
func NewDBPoolCollector(pool string, statFunc DBPoolStatFunc) prometheus.Collector {
	labels := prometheus.Labels{"pool": pool}
	return &dbPoolCollector{
		statFunc: statFunc,
		totalDesc: prometheus.NewDesc(
			"meterline_db_pool_total_conns",
			"Total number of connections in the DB pool.",
			nil, labels,
		),
		idleDesc: prometheus.NewDesc(
			"meterline_db_pool_idle_conns",
			"Number of idle connections in the DB pool.",
			nil, labels,
		),
		acquiredDesc: prometheus.NewDesc(
			"meterline_db_pool_acquired_conns",
			"Number of in-use connections in the DB pool.",
			nil, labels,
		),
	}
}

func (c *dbPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalDesc
	ch <- c.idleDesc
	ch <- c.acquiredDesc
}

func (c *dbPoolCollector) Collect(ch chan<- prometheus.Metric) {
	total, idle, acquired := c.statFunc()
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(total))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(idle))
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(acquired))
}
