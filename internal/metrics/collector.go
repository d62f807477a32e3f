package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"tpool/internal/worker"
)

// StatsProvider はプールの統計を返す。*worker.Pool が満たす
type StatsProvider interface {
	Stats() worker.Stats
}

// Collector はプールとジョブのメトリクスを Prometheus に公開する
type Collector struct {
	pool    StatsProvider
	metrics *Metrics

	size       *prometheus.Desc
	submitted  *prometheus.Desc
	completed  *prometheus.Desc
	panicked   *prometheus.Desc
	busy       *prometheus.Desc
	queued     *prometheus.Desc
	avgLatency *prometheus.Desc
	p99Latency *prometheus.Desc
}

// NewCollector は Collector を作成する。m が nil ならレイテンシは公開しない
func NewCollector(namespace string, pool StatsProvider, m *Metrics) *Collector {
	return &Collector{
		pool:    pool,
		metrics: m,
		size: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "size"),
			"Number of workers in the pool.",
			nil, nil,
		),
		submitted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "submitted_total"),
			"Total number of jobs submitted to the pool.",
			nil, nil,
		),
		completed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "completed_total"),
			"Total number of jobs that returned normally.",
			nil, nil,
		),
		panicked: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "panicked_total"),
			"Total number of jobs that panicked and were recovered.",
			nil, nil,
		),
		busy: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "workers_busy"),
			"Number of workers currently running a job.",
			nil, nil,
		),
		queued: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "queue_length"),
			"Number of messages waiting in the queue.",
			nil, nil,
		),
		avgLatency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "latency_avg_seconds"),
			"Average job execution time.",
			nil, nil,
		),
		p99Latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobs", "latency_p99_seconds"),
			"Sampled 99th percentile job execution time.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.size
	ch <- c.submitted
	ch <- c.completed
	ch <- c.panicked
	ch <- c.busy
	ch <- c.queued
	if c.metrics != nil {
		ch <- c.avgLatency
		ch <- c.p99Latency
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.pool.Stats()

	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(stats.Size))
	ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(stats.Submitted))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(stats.Completed))
	ch <- prometheus.MustNewConstMetric(c.panicked, prometheus.CounterValue, float64(stats.Panicked))
	ch <- prometheus.MustNewConstMetric(c.busy, prometheus.GaugeValue, float64(stats.Busy))
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(stats.Queued))

	if c.metrics != nil {
		ch <- prometheus.MustNewConstMetric(c.avgLatency, prometheus.GaugeValue, c.metrics.AverageLatency().Seconds())
		ch <- prometheus.MustNewConstMetric(c.p99Latency, prometheus.GaugeValue, c.metrics.P99Latency().Seconds())
	}
}
