package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/speech-session-engine/internal/audio"
	"github.com/skypro1111/speech-session-engine/internal/config"
	"github.com/skypro1111/speech-session-engine/internal/metrics"
	"github.com/skypro1111/speech-session-engine/internal/recognizer"
	"github.com/skypro1111/speech-session-engine/internal/server"
	"github.com/skypro1111/speech-session-engine/internal/session"
	"github.com/skypro1111/speech-session-engine/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func run(ctx context.Context, continuous bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if language != "" {
		cfg.Recognition.Language = language
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Engine starting",
		slog.String("service", serviceName),
		slog.String("version", recognizer.Version),
		slog.String("config_path", configPath),
		slog.String("scenario", cfg.Recognition.Scenario),
		slog.String("mode", cfg.Recognition.Mode),
		slog.String("language", cfg.Recognition.Language),
		slog.Bool("continuous", continuous),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(reg)

	recoConfig, err := recognizerConfig(cfg)
	if err != nil {
		return err
	}

	source, feed, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	out := newPrinter(os.Stdout, jsonOutput)
	if voiceOut != "" {
		f, err := os.Create(voiceOut)
		if err != nil {
			return fmt.Errorf("failed to create voice output: %w", err)
		}
		defer f.Close()
		out.voice = f
	}

	scenario, factory, err := buildScenario(cfg, out, logger)
	if err != nil {
		return err
	}

	reco, err := recognizer.New(recoConfig, source, factory, authenticator(cfg), scenario, recognizer.Options{
		Logger:  logger,
		Metrics: appMetrics,
		Observer: session.ObserverFunc(func(e session.Event) {
			logger.Debug("Session event",
				slog.String("event", e.Type.String()),
				slog.String("request_id", e.RequestID),
				slog.Int("status_code", e.StatusCode),
			)
		}),
		Handlers: recognizer.Handlers{
			Canceled: out.canceled,
			SpeechStartDetected: func(ev recognizer.RecognitionEvent) {
				logger.Debug("Speech start detected", slog.Int64("offset", ev.Offset))
			},
			SpeechEndDetected: func(ev recognizer.RecognitionEvent) {
				logger.Debug("Speech end detected", slog.Int64("offset", ev.Offset))
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create recognizer: %w", err)
	}
	defer reco.Close()

	if cfg.Metrics.Enabled {
		httpServer := server.NewHTTPServer(cfg.Metrics, logger, cfg, reco, appMetrics, reg)
		if err := httpServer.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error("Error stopping status server", slog.String("error", err.Error()))
			}
		}()
	}

	if feed != nil {
		go func() {
			if err := feed(); err != nil {
				logger.Error("Audio input failed", slog.String("error", err.Error()))
			}
		}()
	}

	if !continuous {
		res, err := reco.RecognizeOnce(ctx)
		if err != nil {
			return err
		}
		out.result(res)
		return nil
	}

	// a signal stops the audio and lets the service finish the last turn
	if err := reco.StartContinuous(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if err := reco.Wait(ctx); err != nil {
		logger.Info("Interrupted, finishing the last turn")
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := reco.StopContinuous(stopCtx); err != nil && !errors.Is(err, recognizer.ErrNotRunning) {
			return err
		}
	}

	stats := reco.Stats()
	logger.Info("Recognition finished",
		slog.String("session_id", stats.Session.SessionID),
		slog.Int64("bytes_sent", stats.Session.BytesSent),
		slog.Int("connection_attempts", stats.Session.ConnectionAttempts),
	)
	return out.err()
}

func recognizerConfig(cfg *config.Config) (recognizer.Config, error) {
	tc, err := transportConfig(cfg)
	if err != nil {
		return recognizer.Config{}, err
	}

	return recognizer.Config{
		Transport:          tc,
		MaxRetries:         cfg.Retry.MaxRetries,
		RetryBaseDelay:     cfg.Retry.GetBaseDelay(),
		RetryMaxDelay:      cfg.Retry.GetMaxDelay(),
		InteractiveTimeout: cfg.Recognition.GetInteractiveTimeout(),
		ContinuousTimeout:  cfg.Recognition.GetContinuousTimeout(),
		FastLane:           cfg.Recognition.GetFastLane(),
		PacingFactor:       cfg.Recognition.PacingFactor,
	}, nil
}

func transportConfig(cfg *config.Config) (transport.Config, error) {
	mode, err := transport.ParseRecognitionMode(cfg.Recognition.Mode)
	if err != nil {
		return transport.Config{}, err
	}

	ws := transport.DefaultWebsocketConfig()
	ws.HandshakeTimeout = cfg.Service.GetHandshakeTimeout()
	ws.WriteTimeout = cfg.Service.GetWriteTimeout()
	ws.PingInterval = cfg.Service.GetPingInterval()

	return transport.Config{
		Endpoint:        cfg.Service.Endpoint,
		Host:            cfg.Service.Host,
		Region:          cfg.Service.Region,
		Mode:            mode,
		Language:        cfg.Recognition.Language,
		OutputFormat:    strings.ToLower(cfg.Recognition.OutputFormat),
		Profanity:       strings.ToLower(cfg.Recognition.Profanity),
		TargetLanguages: cfg.Recognition.TargetLanguages,
		Voice:           cfg.Recognition.Voice,
		Properties:      cfg.Properties,
		Websocket:       ws,
	}, nil
}

// authenticator prefers a token. A token endpoint with a key makes the
// token refreshable.
func authenticator(cfg *config.Config) transport.Authenticator {
	s := cfg.Service

	var refresh transport.TokenRefresher
	if s.TokenEndpoint != "" && s.SubscriptionKey != "" {
		refresh = transport.IssueTokenRefresher(nil, s.TokenEndpoint, s.SubscriptionKey)
	}

	if s.AuthToken != "" || refresh != nil {
		return transport.NewTokenAuth(s.AuthToken, refresh)
	}
	return transport.SubscriptionKeyAuth{Key: s.SubscriptionKey}
}

// openSource returns the audio source and, for stdin, the function feeding it
func openSource(cfg *config.Config) (audio.Source, func() error, error) {
	if inputPath != "-" {
		src, err := audio.NewFileSource(inputPath)
		if err != nil {
			return nil, nil, err
		}
		return src, nil, nil
	}

	format := audio.Format{
		SamplesPerSec: cfg.Audio.SampleRate,
		BitsPerSample: cfg.Audio.BitDepth,
		Channels:      cfg.Audio.Channels,
	}
	if err := format.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid audio format: %w", err)
	}

	if captureRate > 0 {
		src := audio.NewFloatSource(captureRate, format)
		return src, func() error { return feedFloat(os.Stdin, src) }, nil
	}

	src := audio.NewPushStreamSource(format)
	return src, func() error { return feedPCM(os.Stdin, src) }, nil
}

type pcmWriter interface {
	Write(pcm []byte) error
	Close() error
}

// feedPCM copies r into the source and closes it at EOF
func feedPCM(r io.Reader, src pcmWriter) error {
	defer src.Close()

	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := src.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read audio input: %w", err)
		}
	}
}

type frameWriter interface {
	WriteFrame(samples []float32) error
	Close() error
}

// feedFloat decodes little-endian float32 samples from r. A trailing
// partial sample is dropped.
func feedFloat(r io.Reader, src frameWriter) error {
	defer src.Close()

	buf := make([]byte, 4*1024)
	samples := make([]float32, 0, 1024)
	for {
		n, err := io.ReadFull(r, buf)
		samples = samples[:0]
		for i := 0; i+4 <= n; i += 4 {
			samples = append(samples, math.Float32frombits(binary.LittleEndian.Uint32(buf[i:])))
		}
		if len(samples) > 0 {
			if werr := src.WriteFrame(samples); werr != nil {
				return werr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read audio input: %w", err)
		}
	}
}

func buildScenario(cfg *config.Config, out *printer, logger *slog.Logger) (recognizer.Scenario, transport.Factory, error) {
	recognizing := func(ev recognizer.ResultEvent) {
		logger.Debug("Recognizing", slog.String("text", ev.Result.Text))
	}

	switch cfg.Recognition.Scenario {
	case "translation":
		s, err := recognizer.NewTranslationScenario(cfg.Recognition.TargetLanguages)
		if err != nil {
			return nil, nil, err
		}
		s.Recognizing = recognizing
		s.Recognized = out.recognized
		s.Synthesizing = out.synthesizing
		return s, transport.TranslationFactory{Logger: logger}, nil
	default:
		format, err := recognizer.ParseOutputFormat(cfg.Recognition.OutputFormat)
		if err != nil {
			return nil, nil, err
		}
		s := &recognizer.SpeechScenario{
			Format:      format,
			Recognizing: recognizing,
			Recognized:  out.recognized,
		}
		return s, transport.SpeechFactory{Logger: logger}, nil
	}
}

// printer writes final results, one per line
type printer struct {
	mu    sync.Mutex
	w     io.Writer
	json  bool
	voice io.Writer
	fail  error
}

type resultLine struct {
	ResultID     string            `json:"result_id"`
	Reason       string            `json:"reason"`
	Text         string            `json:"text"`
	Offset       string            `json:"offset"`
	Language     string            `json:"language,omitempty"`
	Translations map[string]string `json:"translations,omitempty"`
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	return &printer{w: w, json: asJSON}
}

func (p *printer) recognized(ev recognizer.ResultEvent) {
	p.result(ev.Result)
}

func (p *printer) result(res recognizer.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		json.NewEncoder(p.w).Encode(resultLine{
			ResultID:     res.ResultID,
			Reason:       res.Reason.String(),
			Text:         res.Text,
			Offset:       res.OffsetDuration().String(),
			Language:     res.Language,
			Translations: res.Translations,
		})
		return
	}

	if res.Reason == recognizer.ReasonNoMatch {
		fmt.Fprintf(p.w, "[%s] (no match)\n", res.OffsetDuration())
		return
	}
	fmt.Fprintf(p.w, "[%s] %s\n", res.OffsetDuration(), res.Text)
	for _, lang := range sortedKeys(res.Translations) {
		fmt.Fprintf(p.w, "  %s: %s\n", lang, res.Translations[lang])
	}
}

func (p *printer) synthesizing(ev recognizer.ResultEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.voice == nil || len(ev.Result.Audio) == 0 {
		return
	}
	if _, err := p.voice.Write(ev.Result.Audio); err != nil && p.fail == nil {
		p.fail = fmt.Errorf("failed to write voice output: %w", err)
	}
}

// canceled records errors; end of stream is the normal end of a continuous run
func (p *printer) canceled(ev recognizer.CanceledEvent) {
	if ev.Reason == recognizer.ReasonEndOfStream {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail == nil {
		p.fail = fmt.Errorf("recognition canceled: %s: %s", ev.Code, ev.Detail)
	}
}

func (p *printer) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fail
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
