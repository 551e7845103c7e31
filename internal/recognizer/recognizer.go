package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/speech-session-engine/internal/audio"
	"github.com/skypro1111/speech-session-engine/internal/metrics"
	"github.com/skypro1111/speech-session-engine/internal/protocol"
	"github.com/skypro1111/speech-session-engine/internal/session"
	"github.com/skypro1111/speech-session-engine/internal/telemetry"
	"github.com/skypro1111/speech-session-engine/internal/transport"
)

var (
	// ErrAlreadyRunning is returned when a recognition is already in progress
	ErrAlreadyRunning = errors.New("recognition already running")
	// ErrNotRunning is returned by StopContinuous without a continuous recognition
	ErrNotRunning = errors.New("no continuous recognition running")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("recognizer closed")
)

// Config holds the recognizer settings
type Config struct {
	Transport transport.Config

	// MaxRetries bounds consecutive reconnects without a recognized phrase
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Activity timeouts: no service message for this long cancels
	InteractiveTimeout time.Duration
	ContinuousTimeout  time.Duration

	// FastLane is the audio sent per connection without pacing
	FastLane time.Duration
	// PacingFactor is the send rate relative to real time after the fast lane
	PacingFactor float64
}

// DefaultConfig returns the default recognizer settings
func DefaultConfig() Config {
	return Config{
		MaxRetries:         3,
		RetryBaseDelay:     250 * time.Millisecond,
		RetryMaxDelay:      5 * time.Second,
		InteractiveTimeout: 8 * time.Second,
		ContinuousTimeout:  25 * time.Second,
		FastLane:           5 * time.Second,
		PacingFactor:       2,
	}
}

// Handlers are the scenario-independent event callbacks. Any may be nil.
type Handlers struct {
	Canceled            func(CanceledEvent)
	SessionStarted      func(SessionEvent)
	SessionStopped      func(SessionEvent)
	SpeechStartDetected func(RecognitionEvent)
	SpeechEndDetected   func(RecognitionEvent)
}

// Options are optional collaborators
type Options struct {
	Logger *slog.Logger
	// Metrics defaults to a private registry
	Metrics      *metrics.Metrics
	Observer     session.Observer
	NewTelemetry func(requestID, audioNodeID string) telemetry.Listener
	Handlers     Handlers
}

// Stats is a point-in-time view for the status server
type Stats struct {
	Running    bool               `json:"running"`
	Continuous bool               `json:"continuous"`
	Scenario   string             `json:"scenario"`
	Session    session.Stats      `json:"session"`
	Replay     *audio.ReplayStats `json:"replay,omitempty"`
}

// Recognizer drives recognitions of one audio source against the service
type Recognizer struct {
	cfg      Config
	source   audio.Source
	factory  transport.Factory
	auth     transport.Authenticator
	scenario Scenario
	handlers Handlers
	logger   *slog.Logger
	metrics  *metrics.Metrics
	session  *session.RequestSession

	mu      sync.Mutex
	current *run
	node    *audio.ReplayableNode
	closed  bool
}

// New creates a recognizer. Zero durations in cfg take their defaults.
func New(cfg Config, source audio.Source, factory transport.Factory, auth transport.Authenticator, scenario Scenario, opts Options) (*Recognizer, error) {
	if source == nil {
		return nil, errors.New("audio source is required")
	}
	if factory == nil {
		return nil, errors.New("connection factory is required")
	}
	if auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if scenario == nil {
		return nil, errors.New("scenario is required")
	}
	if err := source.Format().Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio source format: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewMetrics(prometheus.NewRegistry())
	}

	return &Recognizer{
		cfg:      withDefaults(cfg),
		source:   source,
		factory:  factory,
		auth:     auth,
		scenario: scenario,
		handlers: opts.Handlers,
		logger:   logger.With(slog.String("scenario", scenario.Name())),
		metrics:  m,
		session: session.New(source.ID(), session.Options{
			Logger:       logger,
			Observer:     opts.Observer,
			NewTelemetry: opts.NewTelemetry,
		}),
	}, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	if cfg.InteractiveTimeout <= 0 {
		cfg.InteractiveTimeout = def.InteractiveTimeout
	}
	if cfg.ContinuousTimeout <= 0 {
		cfg.ContinuousTimeout = def.ContinuousTimeout
	}
	if cfg.FastLane <= 0 {
		cfg.FastLane = def.FastLane
	}
	if cfg.PacingFactor <= 0 {
		cfg.PacingFactor = def.PacingFactor
	}
	return cfg
}

// Session exposes the underlying request session
func (r *Recognizer) Session() *session.RequestSession {
	return r.session
}

// RecognizeOnce recognizes a single utterance and returns its final result.
// A turn that ends without a phrase yields a NoMatch result. When the
// recognition is canceled the result has ReasonCanceled and the error is a
// *CancellationError.
func (r *Recognizer) RecognizeOnce(ctx context.Context) (Result, error) {
	rn, err := r.begin(ctx, false)
	if err != nil {
		return Result{}, err
	}

	if err := r.execute(rn); err != nil {
		return Result{ResultID: rn.resultID, Reason: ReasonCanceled}, err
	}
	if res, ok := rn.finalResult(); ok {
		return res, nil
	}
	return Result{ResultID: rn.resultID, Reason: ReasonNoMatch, Status: StatusNoMatch}, nil
}

// StartContinuous starts recognizing until the input ends, StopContinuous is
// called, or ctx is done. Results arrive through the scenario handlers.
func (r *Recognizer) StartContinuous(ctx context.Context) error {
	rn, err := r.begin(ctx, true)
	if err != nil {
		return err
	}

	go func() {
		if err := r.execute(rn); err != nil && !isExpected(err) {
			r.logger.Warn("Continuous recognition ended with error",
				slog.String("error", err.Error()))
		}
	}()
	return nil
}

// StopContinuous ends the audio input and waits for the service to finish
// the last turn. When ctx expires first the recognition is aborted.
func (r *Recognizer) StopContinuous(ctx context.Context) error {
	r.mu.Lock()
	rn := r.current
	r.mu.Unlock()
	if rn == nil || !rn.continuous {
		return ErrNotRunning
	}

	r.logger.Info("Stopping continuous recognition",
		slog.String("session_id", r.session.SessionID()))
	rn.stopAudio()

	select {
	case <-rn.done:
		return nil
	case <-ctx.Done():
		rn.cancel()
		<-rn.done
		return ctx.Err()
	}
}

// Wait blocks until the running recognition, if any, has finished
func (r *Recognizer) Wait(ctx context.Context) error {
	r.mu.Lock()
	rn := r.current
	r.mu.Unlock()
	if rn == nil {
		return nil
	}

	select {
	case <-rn.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close aborts any running recognition and disposes the session
func (r *Recognizer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	rn := r.current
	r.mu.Unlock()

	if rn != nil {
		rn.cancel()
		<-rn.done
	}
	r.session.Dispose()
	return nil
}

// Stats returns the recognizer state for monitoring
func (r *Recognizer) Stats() Stats {
	r.mu.Lock()
	rn := r.current
	node := r.node
	r.mu.Unlock()

	st := Stats{
		Running:  rn != nil,
		Scenario: r.scenario.Name(),
		Session:  r.session.Stats(),
	}
	if rn != nil {
		st.Continuous = rn.continuous
	}
	if node != nil {
		replay := node.Stats()
		st.Replay = &replay
	}
	return st
}

// begin registers a new run. Only one run may be active at a time.
func (r *Recognizer) begin(ctx context.Context, continuous bool) (*run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if r.current != nil {
		return nil, ErrAlreadyRunning
	}
	rn := newRun(ctx, r, continuous)
	r.current = rn
	return rn, nil
}

// execute runs one recognition to completion and fires the terminal
// callbacks exactly once
func (r *Recognizer) execute(rn *run) (err error) {
	defer func() {
		r.finish(rn, err)
	}()

	if err := r.session.StartNewRecognition(); err != nil {
		return err
	}
	r.metrics.RecognitionStarted()
	defer r.metrics.RecognitionEnded()

	r.logger.Info("Recognition started",
		slog.Bool("continuous", rn.continuous),
		slog.String("request_id", r.session.RequestID()))

	r.session.OnAudioSourceAttaching()
	live, err := r.source.Attach(rn.ctx, r.session.AudioNodeID())
	if err != nil {
		r.session.OnAudioSourceAttachCompleted(nil, err)
		if rn.ctx.Err() != nil {
			return r.abort(rn)
		}
		return r.cancelWith(rn, NewCancellation(RuntimeError, err.Error(), err))
	}
	node := audio.NewReplayableNode(live, r.source.Format())
	r.mu.Lock()
	r.node = node
	r.mu.Unlock()
	r.session.OnAudioSourceAttachCompleted(node, nil)

	return r.connectLoop(rn, node)
}

// finish releases the run and delivers SessionStopped
func (r *Recognizer) finish(rn *run, err error) {
	rn.terminal.Do(func() {
		if r.session.IsRecognizing() {
			r.session.OnStopRecognizing()
		}
		rn.cancel()

		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()

		attrs := []any{slog.String("session_id", r.session.SessionID())}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		r.logger.Info("Recognition stopped", attrs...)

		if rn.started && r.handlers.SessionStopped != nil {
			r.handlers.SessionStopped(SessionEvent{SessionID: r.session.SessionID()})
		}
		close(rn.done)
	})
}

// cancelWith completes the session and delivers the Canceled event
func (r *Recognizer) cancelWith(rn *run, cerr *CancellationError) *CancellationError {
	r.session.OnStopRecognizing()
	r.metrics.RecordCancellation(cerr.Code.String())
	r.logger.Warn("Recognition canceled",
		slog.String("reason", cerr.Reason.String()),
		slog.String("code", cerr.Code.String()),
		slog.String("detail", cerr.Detail))

	rn.emitCanceled(CanceledEvent{
		Reason: cerr.Reason,
		Code:   cerr.Code,
		Detail: cerr.Detail,
	})
	return cerr
}

// isExpected reports errors that end a run without being a failure
func isExpected(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	cerr, ok := AsCancellation(err)
	return ok && cerr.Reason == ReasonEndOfStream
}

// run is the state of one RecognizeOnce or StartContinuous call. It is the
// MessageContext handed to the scenario.
type run struct {
	r          *Recognizer
	ctx        context.Context
	cancel     context.CancelFunc
	continuous bool
	resultID   string
	startedAt  time.Time

	// audioCtx is canceled by StopContinuous to end the input
	audioCtx  context.Context
	stopAudio context.CancelFunc

	done     chan struct{}
	terminal sync.Once
	canceled sync.Once

	// owned by the connect loop
	started bool

	mu          sync.Mutex
	result      Result
	haveResult  bool
	firstHypSet bool
}

func newRun(parent context.Context, r *Recognizer, continuous bool) *run {
	ctx, cancel := context.WithCancel(parent)
	audioCtx, stopAudio := context.WithCancel(ctx)
	return &run{
		r:          r,
		ctx:        ctx,
		cancel:     cancel,
		continuous: continuous,
		resultID:   protocol.NewID(),
		startedAt:  time.Now(),
		audioCtx:   audioCtx,
		stopAudio:  stopAudio,
		done:       make(chan struct{}),
	}
}

func (rn *run) emitCanceled(ev CanceledEvent) {
	rn.canceled.Do(func() {
		ev.SessionID = rn.r.session.SessionID()
		ev.Result.ResultID = rn.resultID
		ev = rn.r.scenario.BuildCancelEvent(ev)
		if h := rn.r.handlers.Canceled; h != nil {
			h(ev)
		}
	})
}

func (rn *run) finalResult() (Result, bool) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.result, rn.haveResult
}

func (rn *run) SessionID() string {
	return rn.r.session.SessionID()
}

func (rn *run) TurnOffset() int64 {
	return rn.r.session.CurrentTurnAudioOffset()
}

func (rn *run) IsSpeechEnded() bool {
	return rn.r.session.IsSpeechEnded()
}

func (rn *run) OnHypothesis(offset int64) {
	rn.mu.Lock()
	first := !rn.firstHypSet
	rn.firstHypSet = true
	rn.mu.Unlock()

	if first {
		rn.r.metrics.RecordFirstHypothesis(time.Since(rn.startedAt))
	}
	rn.r.session.OnHypothesis(offset)
}

func (rn *run) OnPhraseRecognized(offset int64) {
	rn.r.session.OnPhraseRecognized(offset)
}

func (rn *run) Recognizing(res Result) {
	rn.r.scenario.OnRecognizing(ResultEvent{SessionID: rn.SessionID(), Result: res})
}

func (rn *run) Recognized(res Result) {
	rn.mu.Lock()
	if !rn.continuous && !rn.haveResult {
		rn.result = res
		rn.haveResult = true
	}
	rn.mu.Unlock()

	rn.r.metrics.RecordResult(res.Reason.String())
	rn.r.logger.Debug("Phrase recognized",
		slog.String("reason", res.Reason.String()),
		slog.Int64("offset", res.Offset),
		slog.Int64("duration", res.Duration))
	rn.r.scenario.OnRecognized(ResultEvent{SessionID: rn.SessionID(), Result: res})
}

var _ MessageContext = (*run)(nil)
