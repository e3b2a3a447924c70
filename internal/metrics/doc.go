// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Frames received by kind and push notifications delivered by method
//   - RPC call outcomes and pending waiter count
//   - Connection terminations by reason
//   - Router, writer, buffer and database pool stats, sampled at scrape time
package metrics
