package db

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatsCollector exposes pgx pool counters as Prometheus gauges. It
// reads pool.Stat() on every scrape, so the values are current rather than
// sampled.
type PoolStatsCollector struct {
	pool *pgxpool.Pool

	totalConns    *prometheus.Desc
	idleConns     *prometheus.Desc
	acquiredConns *prometheus.Desc
	maxConns      *prometheus.Desc
}

// NewPoolStatsCollector builds a collector for one pool. serviceName
// becomes a constant "service" label so the ingest CLI and the enrichment
// worker can share a namespace without colliding.
func NewPoolStatsCollector(pool *pgxpool.Pool, namespace, serviceName string) *PoolStatsCollector {
	constLabels := prometheus.Labels{"service": serviceName}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", name),
			help,
			nil,
			constLabels,
		)
	}

	return &PoolStatsCollector{
		pool:          pool,
		totalConns:    desc("total_conns", "Total number of connections currently open in the pool"),
		idleConns:     desc("idle_conns", "Number of idle connections in the pool"),
		acquiredConns: desc("acquired_conns", "Number of connections currently acquired from the pool"),
		maxConns:      desc("max_conns", "Maximum number of connections allowed in the pool"),
	}
}

// Describe implements prometheus.Collector.
func (c *PoolStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalConns
	ch <- c.idleConns
	ch <- c.acquiredConns
	ch <- c.maxConns
}

// Collect implements prometheus.Collector. A nil pool emits nothing.
func (c *PoolStatsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}

	stats := c.pool.Stat()

	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(stats.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(stats.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.acquiredConns, prometheus.GaugeValue, float64(stats.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(stats.MaxConns()))
}

// RegisterPoolStatsCollector registers a collector with the default
// registry. Re-registration is tolerated so the worker can restart its
// pool without tearing down metrics.
func RegisterPoolStatsCollector(pool *pgxpool.Pool, namespace, serviceName string) (*PoolStatsCollector, error) {
	collector := NewPoolStatsCollector(pool, namespace, serviceName)
	if err := prometheus.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return nil, err
		}
	}
	return collector, nil
}

// RegisterPoolStatsCollectorWithRegistry registers against a caller-owned
// registry.
func RegisterPoolStatsCollectorWithRegistry(pool *pgxpool.Pool, namespace, serviceName string, reg *prometheus.Registry) (*PoolStatsCollector, error) {
	collector := NewPoolStatsCollector(pool, namespace, serviceName)
	if err := reg.Register(collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return nil, err
		}
	}
	return collector, nil
}
