// Package metrics provides job and request metrics collection and reporting.
//
// Metrics collects statistics about latency, success/failure rates and
// throughput. It satisfies worker.Observer, so a pool can report every
// finished job to it directly. The load client uses the same type to record
// request round trips.
//
// # Basic Usage
//
//	m := metrics.New()
//	pool := worker.NewPoolWithConfig(worker.PoolConfig{Size: 4, Observer: m})
//
//	// Or record by hand
//	start := time.Now()
//	// ... do work ...
//	m.RecordSuccess(time.Since(start))
//
//	snap := m.Snapshot()
//	fmt.Println(snap.Report())
//
// # Prometheus
//
// Collector exposes pool statistics and job latency as Prometheus metrics:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(metrics.NewCollector("tpool", pool, m))
//
// # Thread Safety
//
// Counters are atomic and latency samples are guarded by a RWMutex; all
// operations are safe for concurrent access.
package metrics
