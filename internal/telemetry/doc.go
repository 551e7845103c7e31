// Package telemetry records per-turn client timings reported to the service
// on the telemetry path.
package telemetry
