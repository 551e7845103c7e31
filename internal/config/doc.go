// Package config provides configuration loading and validation for the speech session engine.
// It reads YAML over built-in defaults, validates every section and exposes
// timeouts as time.Duration getters.
package config
