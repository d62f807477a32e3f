// Package api serves the admin HTTP surface of a running pool.
//
// Routes:
//   - GET /api/status  pool statistics as JSON (worker.Stats)
//   - GET /api/workers per-worker state as JSON
//   - GET /metrics     Prometheus exposition of the given gatherer
//   - /ws              websocket stream of pool events and a status tick every second
package api
