package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Audio       AudioConfig       `yaml:"audio"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Retry       RetryConfig       `yaml:"retry"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
	// Properties are passed to the service as query parameters
	Properties map[string]string `yaml:"properties"`
}

// ServiceConfig locates and authenticates against the speech service
type ServiceConfig struct {
	Endpoint         string `yaml:"endpoint"`
	Host             string `yaml:"host"`
	Region           string `yaml:"region"`
	SubscriptionKey  string `yaml:"subscription_key"`
	AuthToken        string `yaml:"auth_token"`
	TokenEndpoint    string `yaml:"token_endpoint"`
	HandshakeTimeout int    `yaml:"handshake_timeout"` // seconds
	WriteTimeout     int    `yaml:"write_timeout"`     // seconds
	PingInterval     int    `yaml:"ping_interval"`     // seconds
}

// AudioConfig describes the PCM format sent to the service
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
}

// RecognitionConfig selects the scenario and its parameters
type RecognitionConfig struct {
	Scenario           string   `yaml:"scenario"`
	Mode               string   `yaml:"mode"`
	Language           string   `yaml:"language"`
	OutputFormat       string   `yaml:"output_format"`
	Profanity          string   `yaml:"profanity"`
	TargetLanguages    []string `yaml:"target_languages"`
	Voice              string   `yaml:"voice"`
	InteractiveTimeout int      `yaml:"interactive_timeout"` // seconds
	ContinuousTimeout  int      `yaml:"continuous_timeout"`  // seconds
	FastLane           int      `yaml:"fast_lane"`           // seconds
	PacingFactor       float64  `yaml:"pacing_factor"`
}

// RetryConfig controls reconnects after a lost connection
type RetryConfig struct {
	MaxRetries int `yaml:"max_retries"`
	BaseDelay  int `yaml:"base_delay_ms"`
	MaxDelay   int `yaml:"max_delay_ms"`
}

// MetricsConfig contains the status HTTP server configuration
type MetricsConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that only lacks credentials
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Region:           "westus",
			HandshakeTimeout: 10,
			WriteTimeout:     5,
			PingInterval:     20,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			BitDepth:   16,
		},
		Recognition: RecognitionConfig{
			Scenario:           "speech",
			Mode:               "interactive",
			Language:           "en-US",
			OutputFormat:       "simple",
			InteractiveTimeout: 8,
			ContinuousTimeout:  25,
			FastLane:           5,
			PacingFactor:       2,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  250,
			MaxDelay:   5000,
		},
		Metrics: MetricsConfig{
			Port:    9090,
			Address: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads the configuration file over the defaults. The subscription key
// may also come from SPEECH_KEY.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if config.Service.SubscriptionKey == "" {
		config.Service.SubscriptionKey = os.Getenv("SPEECH_KEY")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Service.Validate(); err != nil {
		return fmt.Errorf("service config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition config: %w", err)
	}

	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates service configuration
func (s *ServiceConfig) Validate() error {
	if s.Endpoint == "" && s.Host == "" && s.Region == "" {
		return fmt.Errorf("one of endpoint, host or region is required")
	}

	if s.SubscriptionKey == "" && s.AuthToken == "" {
		return fmt.Errorf("subscription_key or auth_token is required")
	}

	if s.HandshakeTimeout < 1 {
		return fmt.Errorf("handshake_timeout must be at least 1 second, got %d", s.HandshakeTimeout)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	if s.PingInterval < 0 {
		return fmt.Errorf("ping_interval cannot be negative, got %d", s.PingInterval)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	validRates := map[int]bool{8000: true, 16000: true, 22050: true, 24000: true, 44100: true, 48000: true}
	if !validRates[a.SampleRate] {
		return fmt.Errorf("sample_rate %d is not supported", a.SampleRate)
	}

	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}

	if a.BitDepth != 8 && a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 8 or 16, got %d", a.BitDepth)
	}

	return nil
}

// Validate validates recognition configuration
func (r *RecognitionConfig) Validate() error {
	switch r.Scenario {
	case "speech":
	case "translation":
		if len(r.TargetLanguages) == 0 {
			return fmt.Errorf("target_languages cannot be empty for translation")
		}
	default:
		return fmt.Errorf("scenario must be 'speech' or 'translation', got '%s'", r.Scenario)
	}

	validModes := map[string]bool{"interactive": true, "conversation": true, "dictation": true}
	if !validModes[strings.ToLower(r.Mode)] {
		return fmt.Errorf("mode must be one of [interactive, conversation, dictation], got '%s'", r.Mode)
	}

	if r.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	validFormats := map[string]bool{"simple": true, "detailed": true}
	if !validFormats[strings.ToLower(r.OutputFormat)] {
		return fmt.Errorf("output_format must be 'simple' or 'detailed', got '%s'", r.OutputFormat)
	}

	validProfanity := map[string]bool{"": true, "masked": true, "removed": true, "raw": true}
	if !validProfanity[strings.ToLower(r.Profanity)] {
		return fmt.Errorf("profanity must be one of [masked, removed, raw], got '%s'", r.Profanity)
	}

	if r.InteractiveTimeout < 1 {
		return fmt.Errorf("interactive_timeout must be at least 1 second, got %d", r.InteractiveTimeout)
	}

	if r.ContinuousTimeout < 1 {
		return fmt.Errorf("continuous_timeout must be at least 1 second, got %d", r.ContinuousTimeout)
	}

	if r.FastLane < 0 {
		return fmt.Errorf("fast_lane cannot be negative, got %d", r.FastLane)
	}

	if r.PacingFactor < 1 {
		return fmt.Errorf("pacing_factor must be at least 1, got %f", r.PacingFactor)
	}

	return nil
}

// Validate validates retry configuration
func (r *RetryConfig) Validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", r.MaxRetries)
	}

	if r.BaseDelay < 1 {
		return fmt.Errorf("base_delay_ms must be positive, got %d", r.BaseDelay)
	}

	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("max_delay_ms (%d) must not be less than base_delay_ms (%d)", r.MaxDelay, r.BaseDelay)
	}

	return nil
}

// Validate validates the status server configuration
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("metrics port must be between 1 and 65535, got %d", m.Port)
		}

		if m.Address == "" {
			return fmt.Errorf("metrics address cannot be empty when the status server is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// any other output is a file path
	return nil
}

// GetHandshakeTimeout returns the handshake timeout as a time.Duration
func (s *ServiceConfig) GetHandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeout) * time.Second
}

// GetWriteTimeout returns the write timeout as a time.Duration
func (s *ServiceConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetPingInterval returns the keep-alive interval as a time.Duration
func (s *ServiceConfig) GetPingInterval() time.Duration {
	return time.Duration(s.PingInterval) * time.Second
}

// GetInteractiveTimeout returns the interactive activity timeout
func (r *RecognitionConfig) GetInteractiveTimeout() time.Duration {
	return time.Duration(r.InteractiveTimeout) * time.Second
}

// GetContinuousTimeout returns the continuous activity timeout
func (r *RecognitionConfig) GetContinuousTimeout() time.Duration {
	return time.Duration(r.ContinuousTimeout) * time.Second
}

// GetFastLane returns the unpaced audio budget per connection
func (r *RecognitionConfig) GetFastLane() time.Duration {
	return time.Duration(r.FastLane) * time.Second
}

// GetBaseDelay returns the first reconnect delay
func (r *RetryConfig) GetBaseDelay() time.Duration {
	return time.Duration(r.BaseDelay) * time.Millisecond
}

// GetMaxDelay returns the reconnect delay cap
func (r *RetryConfig) GetMaxDelay() time.Duration {
	return time.Duration(r.MaxDelay) * time.Millisecond
}
