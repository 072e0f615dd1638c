package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a pool's observability counters as Prometheus metrics.
// Register one per pool:
//
//	prometheus.MustRegister(pool.NewCollector(p, "journal"))
type Collector struct {
	pool *Pool

	open     *prometheus.Desc
	borrowed *prometheus.Desc
	capacity *prometheus.Desc
	waits    *prometheus.Desc
	timeouts *prometheus.Desc
	borrows  *prometheus.Desc
}

// NewCollector builds a Collector for p. name labels every metric so
// multiple pools can register side by side.
func NewCollector(p *Pool, name string) *Collector {
	labels := prometheus.Labels{"pool": name}
	return &Collector{
		pool: p,
		open: prometheus.NewDesc("sqlite_pool_open_connections",
			"Open connections, borrowed and idle.", nil, labels),
		borrowed: prometheus.NewDesc("sqlite_pool_borrowed_connections",
			"Connections currently borrowed.", nil, labels),
		capacity: prometheus.NewDesc("sqlite_pool_capacity",
			"Configured connection ceiling.", nil, labels),
		waits: prometheus.NewDesc("sqlite_pool_borrow_waits_total",
			"Borrows that had to block for a slot.", nil, labels),
		timeouts: prometheus.NewDesc("sqlite_pool_borrow_timeouts_total",
			"Borrows cancelled by their context.", nil, labels),
		borrows: prometheus.NewDesc("sqlite_pool_borrows_total",
			"Successful borrows.", nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.open
	ch <- c.borrowed
	ch <- c.capacity
	ch <- c.waits
	ch <- c.timeouts
	ch <- c.borrows
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(c.pool.OpenCount()))
	ch <- prometheus.MustNewConstMetric(c.borrowed, prometheus.GaugeValue, float64(c.pool.BorrowedCount()))
	ch <- prometheus.MustNewConstMetric(c.capacity, prometheus.GaugeValue, float64(c.pool.Capacity()))
	ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(c.pool.waits.Load()))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(c.pool.timeouts.Load()))
	ch <- prometheus.MustNewConstMetric(c.borrows, prometheus.CounterValue, float64(c.pool.borrows.Load()))
}
