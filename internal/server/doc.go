// Package server accepts TCP connections and hands each one to a worker pool.
//
// The accept loop runs on the caller's goroutine and submits one job per
// connection. The job reads the first request bytes, matches the request
// line against "GET / HTTP/1.1" and "GET /sleep HTTP/1.1", and writes a
// canned page. It is not an HTTP implementation.
//
// # Basic Usage
//
//	pool := worker.NewPool(4)
//	srv := server.New(server.DefaultConfig(), pool)
//
//	err := srv.Serve(ctx) // returns when ctx is canceled
//	pool.Close()          // waits for in-flight connections
//
// # Admission
//
// Config.MaxConns bounds connections that are accepted but not yet finished.
// When the limit is reached the accept loop waits on a weighted semaphore
// before accepting again. The pool queue itself stays unbounded.
package server
