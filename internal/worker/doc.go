// Package worker provides a fixed-size goroutine pool for concurrent job execution.
//
// The Pool starts a fixed number of worker goroutines that share one
// unbounded FIFO queue. Each worker takes one job at a time and runs it to
// completion before taking the next. Receiving from the queue is serialized;
// running a job is not, so a slow job never keeps other workers from
// dequeuing.
//
// # Basic Usage
//
//	pool := worker.NewPool(4) // 4 workers, started immediately
//	defer pool.Close()
//
//	for i := 0; i < 100; i++ {
//	    pool.Execute(func() {
//	        // do work
//	    })
//	}
//
// # Configuration
//
// Use NewPoolWithConfig to attach a logger, an event bus and a job observer:
//
//	pool := worker.NewPoolWithConfig(worker.PoolConfig{
//	    Size:     8,
//	    Logger:   log,
//	    Bus:      bus,
//	    Observer: m, // *metrics.Metrics
//	})
//
// # Shutdown
//
// Close sends exactly one terminate message per worker behind every job
// already queued, then joins the workers in id order. It returns only after
// all submitted jobs have finished. Execute after Close is a lifecycle bug
// and panics with ErrPoolClosed. A size below 1 panics with ErrInvalidSize.
//
// Close must not be called from inside a job. The calling worker would wait
// for its own terminate message and Close would never return.
//
// # Failures
//
// A job that panics is recovered inside the worker: the panic is logged,
// counted and published as events.EventJobPanicked, and the worker goes back
// to waiting for work. The pool never loses capacity to a bad job.
package worker
