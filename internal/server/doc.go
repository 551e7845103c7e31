// Package server implements the status HTTP server of the speech session engine.
// It reports recognizer health and session statistics and serves Prometheus metrics.
package server
