// Package metrics exposes Prometheus metrics for connections, turns, audio
// throughput and the status API.
package metrics
