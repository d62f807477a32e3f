// Package client provides a load generator for the connection server.
//
// The Client opens one TCP connection per request, sends a GET request line
// and reads the response until the server closes the connection. Requests are
// dispatched through a worker.Pool sized by Concurrency, so the generator
// exercises the same pool it is measuring.
//
// # Basic Usage
//
//	config := client.DefaultConfig()
//	config.Target = "127.0.0.1:7878"
//	config.Requests = 1000
//	config.Concurrency = 16
//
//	snap, err := client.New(config).Run(ctx)
//	fmt.Println(snap.Report())
//
// # Configuration
//
// The Config struct allows tuning:
//   - Target: server address (host:port)
//   - Path: request path ("/" or "/sleep")
//   - Concurrency: parallel connections (default 4)
//   - Requests: total requests to send
//   - Timeout: per-request deadline
package client
