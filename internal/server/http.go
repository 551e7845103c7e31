package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/speech-session-engine/internal/config"
	"github.com/skypro1111/speech-session-engine/internal/metrics"
	"github.com/skypro1111/speech-session-engine/internal/recognizer"
)

// StatsProvider reports the state of a running recognizer
type StatsProvider interface {
	Stats() recognizer.Stats
}

// HTTPServer exposes health, statistics and Prometheus metrics for a recognizer
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	stats    StatsProvider
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates the status server. A nil gatherer serves the default registry.
func NewHTTPServer(cfg config.MetricsConfig, logger *slog.Logger, appConfig *config.Config,
	stats StatsProvider, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		stats:     stats,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// no metrics needed for the metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))

	return mux
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		if h.metrics != nil {
			h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), time.Since(startTime))
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting status server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.Error("Status server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping status server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := h.stats.Stats()
	status := "idle"
	if st.Running {
		status = "recognizing"
	}

	writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "speech-session-engine",
			"version": recognizer.Version,
		},
		"recognizer": map[string]any{
			"status":   status,
			"scenario": st.Scenario,
			"state":    st.Session.StateName,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]any{
		"uptime":     time.Since(h.startTime).String(),
		"timestamp":  time.Now().UTC(),
		"recognizer": h.stats.Stats(),
	})
}

// handleConfig implements the /config endpoint. Credentials are never returned.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config == nil {
		http.Error(w, "Configuration unavailable", http.StatusNotFound)
		return
	}

	c := h.config
	writeJSON(w, map[string]any{
		"service": map[string]any{
			"endpoint":          c.Service.Endpoint,
			"host":              c.Service.Host,
			"region":            c.Service.Region,
			"handshake_timeout": c.Service.HandshakeTimeout,
			"write_timeout":     c.Service.WriteTimeout,
			"ping_interval":     c.Service.PingInterval,
		},
		"audio": map[string]any{
			"sample_rate": c.Audio.SampleRate,
			"channels":    c.Audio.Channels,
			"bit_depth":   c.Audio.BitDepth,
		},
		"recognition": map[string]any{
			"scenario":         c.Recognition.Scenario,
			"mode":             c.Recognition.Mode,
			"language":         c.Recognition.Language,
			"output_format":    c.Recognition.OutputFormat,
			"target_languages": c.Recognition.TargetLanguages,
			"voice":            c.Recognition.Voice,
		},
		"retry": map[string]any{
			"max_retries":   c.Retry.MaxRetries,
			"base_delay_ms": c.Retry.BaseDelay,
			"max_delay_ms":  c.Retry.MaxDelay,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, map[string]any{
		"service": "Speech Session Engine",
		"version": recognizer.Version,
		"endpoints": map[string]any{
			"GET /":        "API documentation",
			"GET /health":  "Recognizer health check",
			"GET /stats":   "Session and replay statistics",
			"GET /config":  "Configuration without credentials",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
