package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/saranga-ayurveda/backend/internal/database"
)

// PoolCollector exports database pool stats at scrape time.
type PoolCollector struct {
	stats func() database.Stats

	state         *prometheus.Desc
	connections   *prometheus.Desc
	maxConns      *prometheus.Desc
	constructions *prometheus.Desc
	attempts      *prometheus.Desc
}

var _ prometheus.Collector = (*PoolCollector)(nil)

// NewPoolCollector returns a collector reading from stats.
func NewPoolCollector(stats func() database.Stats) *PoolCollector {
	return &PoolCollector{
		stats: stats,
		state: prometheus.NewDesc(
			"db_pool_state",
			"Pool lifecycle state (0 uninitialized, 1 connecting, 2 ready, 3 failed, 4 closed)",
			nil, nil,
		),
		connections: prometheus.NewDesc(
			"db_pool_connections",
			"Pool connections by status",
			[]string{"status"}, nil,
		),
		maxConns: prometheus.NewDesc(
			"db_pool_max_connections",
			"Maximum pool size",
			nil, nil,
		),
		constructions: prometheus.NewDesc(
			"db_pool_constructions_total",
			"Total number of physical pool constructions",
			nil, nil,
		),
		attempts: prometheus.NewDesc(
			"db_pool_connect_attempts_total",
			"Total number of connectivity probes",
			nil, nil,
		),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.connections
	ch <- c.maxConns
	ch <- c.constructions
	ch <- c.attempts
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(s.State))
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.Total), "total")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.Idle), "idle")
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.Leased), "leased")
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(s.Max))
	ch <- prometheus.MustNewConstMetric(c.constructions, prometheus.CounterValue, float64(s.Constructions))
	ch <- prometheus.MustNewConstMetric(c.attempts, prometheus.CounterValue, float64(s.ConnectAttempts))
}
