package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/speech-session-engine/internal/audio"
	"github.com/skypro1111/speech-session-engine/internal/protocol"
	"github.com/skypro1111/speech-session-engine/internal/session"
	"github.com/skypro1111/speech-session-engine/internal/transport"
)

// errRunComplete ends an attempt after the final turn.end
var errRunComplete = errors.New("recognition complete")

// errAuthExpired asks the connect loop to refresh credentials and reconnect
var errAuthExpired = errors.New("authorization expired")

// attempt is the state of one connection
type attempt struct {
	conn     transport.Connection
	node     *audio.ReplayableNode
	run      *run
	openedAt time.Time

	// sendMu orders audio against turn rearming: the request id stamped on
	// audio and the speech.context that introduces it never interleave
	sendMu         sync.Mutex
	audioRequestID string

	turnStartedAt  time.Time
	replayedBefore int
}

// connectLoop runs attempts until the recognition completes, is canceled or
// runs out of retries
func (r *Recognizer) connectLoop(rn *run, node *audio.ReplayableNode) error {
	refresh := false
	for {
		err := r.attempt(rn, node, refresh)
		refresh = false

		switch {
		case err == nil:
			return nil
		case rn.ctx.Err() != nil:
			return r.abort(rn)
		}
		if cerr, ok := AsCancellation(err); ok {
			return r.cancelWith(rn, cerr)
		}
		if errors.Is(err, errAuthExpired) {
			r.logger.Info("Authorization expired, refreshing credentials")
			refresh = true
			continue
		}

		n := r.session.OnRetryConnection()
		r.metrics.RecordRetry()
		if n > r.cfg.MaxRetries {
			return r.cancelWith(rn, NewCancellation(ConnectionFailure, err.Error(), err))
		}

		delay := backoff(n, r.cfg.RetryBaseDelay, r.cfg.RetryMaxDelay)
		r.logger.Warn("Connection lost, reconnecting",
			slog.Int("attempt", n),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))
		if err := sleep(rn.ctx, delay); err != nil {
			return r.abort(rn)
		}
	}
}

// abort ends a run whose context was canceled by the caller or Close
func (r *Recognizer) abort(rn *run) *CancellationError {
	return r.cancelWith(rn, NewCancellation(RuntimeError, "Recognition aborted.", rn.ctx.Err()))
}

// attempt authenticates, opens one connection and runs the send loop,
// receive loop and activity watchdog on it. A nil return means the
// recognition completed.
func (r *Recognizer) attempt(rn *run, node *audio.ReplayableNode, refresh bool) error {
	ctx := rn.ctx
	authID, connID := protocol.NewID(), protocol.NewID()
	r.session.OnPreConnectionStart(authID, connID)

	fetch := r.auth.Fetch
	if refresh {
		fetch = r.auth.FetchOnExpiry
	}
	info, err := fetch(ctx, authID)
	if err != nil {
		r.session.OnAuthCompleted(err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewCancellation(AuthenticationFailure, err.Error(), err)
	}
	r.session.OnAuthCompleted(nil)

	conn, err := r.factory.Create(ctx, r.transportConfig(rn), info, connID)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		r.watchConnectionEvents(conn)
	}()
	defer func() {
		conn.Close()
		<-watched
	}()

	resp, err := conn.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open connection: %w", err)
	}
	r.metrics.RecordConnectionOpened(resp.StatusCode)
	if resp.StatusCode != transport.StatusOK {
		r.session.OnConnectionEstablishCompleted(resp.StatusCode, resp.Reason)
		if resp.StatusCode == http.StatusUnauthorized && !refresh {
			return errAuthExpired
		}
		if !retryableStatus(resp.StatusCode) {
			return NewCancellation(CodeForStatus(resp.StatusCode), resp.Reason, nil)
		}
		return fmt.Errorf("connection rejected with status %d: %s", resp.StatusCode, resp.Reason)
	}

	a := &attempt{
		conn:           conn,
		node:           node,
		run:            rn,
		openedAt:       time.Now(),
		replayedBefore: node.Stats().ReplayedChunks,
	}
	defer r.closeAttempt(a)

	r.session.OnConnectionEstablishCompleted(resp.StatusCode, "")
	r.logger.Info("Connection established",
		slog.String("connection_id", connID),
		slog.Int64("replay_from", r.session.LastRecoOffset()))
	if !rn.started {
		rn.started = true
		if h := r.handlers.SessionStarted; h != nil {
			h(SessionEvent{SessionID: r.session.SessionID()})
		}
	}

	if err := r.sendSpeechConfig(ctx, a); err != nil {
		return err
	}
	if err := r.sendSpeechContext(ctx, a); err != nil {
		return err
	}

	timeout := r.cfg.InteractiveTimeout
	if rn.continuous {
		timeout = r.cfg.ContinuousTimeout
	}
	activity := make(chan struct{}, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.sendLoop(gctx, a) })
	g.Go(func() error { return r.receiveLoop(gctx, a, activity) })
	g.Go(func() error { return watchdog(gctx, timeout, activity) })

	err = g.Wait()
	if errors.Is(err, errRunComplete) {
		return nil
	}
	return err
}

// watchConnectionEvents drains conn's events until Close ends the stream
func (r *Recognizer) watchConnectionEvents(conn transport.Connection) {
	for ev := range conn.Events() {
		r.metrics.RecordConnectionEvent(ev.Type.String())
		switch ev.Type {
		case transport.EventMessageSent, transport.EventMessageReceived:
			continue
		}
		r.logger.Debug("Connection event",
			slog.String("connection_id", ev.ConnectionID),
			slog.String("event", ev.Type.String()),
			slog.Int("status_code", ev.StatusCode),
			slog.String("reason", ev.Reason))
	}
}

func (r *Recognizer) closeAttempt(a *attempt) {
	r.metrics.RecordConnectionClosed(time.Since(a.openedAt))
	st := a.node.Stats()
	r.metrics.RecordReplay(st.ReplayedChunks-a.replayedBefore, st.RetainedBytes)
}

// transportConfig switches interactive mode to conversation for continuous runs
func (r *Recognizer) transportConfig(rn *run) transport.Config {
	cfg := r.cfg.Transport
	if rn.continuous && cfg.Mode == transport.ModeInteractive {
		cfg.Mode = transport.ModeConversation
	}
	return cfg
}

func (r *Recognizer) send(ctx context.Context, a *attempt, m *protocol.Message) error {
	if err := a.conn.Send(ctx, m); err != nil {
		return fmt.Errorf("failed to send %s: %w", m.Path(), err)
	}
	audioBytes := 0
	if m.Type == protocol.MessageTypeBinary {
		audioBytes = len(m.BinaryBody)
	}
	r.metrics.RecordMessageSent(m.Path(), audioBytes)
	return nil
}

func (r *Recognizer) sendSpeechConfig(ctx context.Context, a *attempt) error {
	body, err := speechConfigBody(r.source.DeviceInfo())
	if err != nil {
		return NewCancellation(RuntimeError, err.Error(), err)
	}
	msg := protocol.NewTextMessage(protocol.PathSpeechConfig, r.session.RequestID(), protocol.ContentTypeJSON, body)
	return r.send(ctx, a, msg)
}

// sendSpeechContext starts a request id for the next turn. Callers past the
// handshake must hold a.sendMu.
func (r *Recognizer) sendSpeechContext(ctx context.Context, a *attempt) error {
	body, err := speechContextBody(r.scenario)
	if err != nil {
		return NewCancellation(RuntimeError, err.Error(), err)
	}
	requestID := r.session.OnSpeechContext()
	msg := protocol.NewTextMessage(protocol.PathSpeechContext, requestID, protocol.ContentTypeJSON, body)
	return r.send(ctx, a, msg)
}

// sendLoop pulls audio through the replay node and writes it in capture
// order. The first audio of every request id is preceded by the RIFF header.
func (r *Recognizer) sendLoop(ctx context.Context, a *attempt) error {
	format := r.source.Format()
	fastLane := int64(float64(format.AvgBytesPerSec()) * r.cfg.FastLane.Seconds())
	var next time.Time

	for {
		chunk, gen, err := r.readChunk(ctx, a)
		if err != nil {
			if errors.Is(err, audio.ErrReadEnded) {
				chunk = audio.Chunk{IsEnd: true}
			} else {
				return err
			}
		}

		if chunk.IsEnd {
			sent, err := r.sendAudio(ctx, a, gen, nil)
			if err != nil {
				return err
			}
			if !sent {
				continue
			}
			r.logger.Debug("Audio input ended",
				slog.Int64("bytes_sent", r.session.RecognitionBytesSent()))
			return nil
		}

		if r.session.BytesSent() > fastLane {
			if err := sleep(ctx, time.Until(next)); err != nil {
				return err
			}
		}
		sent, err := r.sendAudio(ctx, a, gen, chunk.Buffer)
		if err != nil {
			return err
		}
		if !sent {
			continue
		}
		r.session.OnAudioSent(len(chunk.Buffer))

		pace := time.Duration(float64(format.Duration(int64(len(chunk.Buffer)))) / r.cfg.PacingFactor)
		next = time.Now().Add(pace)
	}
}

// readChunk reads the next chunk and its replay generation, turning
// StopContinuous into end of input
func (r *Recognizer) readChunk(ctx context.Context, a *attempt) (audio.Chunk, int, error) {
	stopped := a.run.audioCtx
	if stopped.Err() != nil && ctx.Err() == nil {
		return audio.Chunk{IsEnd: true, TimeReceived: time.Now()}, a.node.Generation(), nil
	}

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unregister := context.AfterFunc(stopped, cancel)
	defer unregister()

	chunk, gen, err := a.node.ReadGeneration(readCtx)
	if err != nil && ctx.Err() == nil && stopped.Err() != nil {
		return audio.Chunk{IsEnd: true, TimeReceived: time.Now()}, gen, nil
	}
	return chunk, gen, err
}

// sendAudio writes one audio frame; a nil buf is the end-of-input frame. It
// reports false without sending when the node rewound after the chunk was
// read; the replay delivers that audio again after the retained backlog.
func (r *Recognizer) sendAudio(ctx context.Context, a *attempt, gen int, buf []byte) (bool, error) {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	if a.node.Generation() != gen {
		return false, nil
	}
	requestID := r.session.RequestID()
	if requestID != a.audioRequestID {
		header := protocol.NewBinaryMessage(protocol.PathAudio, requestID, protocol.ContentTypeWAV, r.source.Format().Header())
		if err := r.send(ctx, a, header); err != nil {
			return false, err
		}
		a.audioRequestID = requestID
	}
	msg := protocol.NewBinaryMessage(protocol.PathAudio, requestID, "", buf)
	if err := r.send(ctx, a, msg); err != nil {
		return false, err
	}
	if buf == nil {
		r.session.OnSpeechEnded()
	}
	return true, nil
}

// receiveLoop dispatches service messages strictly in receipt order
func (r *Recognizer) receiveLoop(ctx context.Context, a *attempt, activity chan<- struct{}) error {
	for {
		msg, err := a.conn.Read(ctx)
		if err != nil {
			return err
		}
		select {
		case activity <- struct{}{}:
		default:
		}
		r.metrics.RecordMessageReceived(msg.Path())

		if !strings.EqualFold(msg.RequestID(), r.session.RequestID()) {
			r.logger.Debug("Ignoring message for another request",
				slog.String("path", msg.Path()),
				slog.String("request_id", msg.RequestID()))
			continue
		}
		if err := r.dispatch(ctx, a, msg); err != nil {
			return err
		}
	}
}

func (r *Recognizer) dispatch(ctx context.Context, a *attempt, msg *protocol.Message) error {
	switch msg.Path() {
	case strings.ToLower(protocol.PathTurnStart):
		turn, err := r.session.OnServiceTurnStartResponse()
		reentrant := errors.Is(err, session.ErrTurnReentrant)
		r.metrics.RecordTurnStarted(reentrant)
		if reentrant {
			return NewCancellation(RuntimeError, "turn started before previous turn completed", err)
		}
		if err != nil {
			return NewCancellation(RuntimeError, err.Error(), err)
		}
		a.turnStartedAt = time.Now()
		r.logger.Debug("Turn started", slog.Int("turn", turn.Seq))

	case strings.ToLower(protocol.PathSpeechStartDetected):
		r.speechDetected(msg, r.handlers.SpeechStartDetected)

	case strings.ToLower(protocol.PathSpeechEndDetected):
		r.speechDetected(msg, r.handlers.SpeechEndDetected)

	case strings.ToLower(protocol.PathTurnEnd):
		return r.turnEnd(ctx, a)

	default:
		handled, err := r.scenario.ProcessMessage(ctx, msg, a.run)
		if err != nil {
			if cerr, ok := AsCancellation(err); ok {
				return cerr
			}
			return NewCancellation(RuntimeError, err.Error(), err)
		}
		if !handled {
			r.logger.Debug("Unhandled message", slog.String("path", msg.Path()))
		}
	}
	return nil
}

func (r *Recognizer) speechDetected(msg *protocol.Message, h func(RecognitionEvent)) {
	var d speechDetected
	if err := parsePayload(msg.BodyText(), &d); err != nil {
		r.logger.Warn("Invalid speech detection payload", slog.String("error", err.Error()))
		return
	}
	if h != nil {
		h(RecognitionEvent{
			SessionID: r.session.SessionID(),
			Offset:    d.Offset + r.session.CurrentTurnAudioOffset(),
		})
	}
}

// turnEnd flushes telemetry and either completes the recognition or rearms
// the session for the next turn
func (r *Recognizer) turnEnd(ctx context.Context, a *attempt) error {
	if payload, ok := r.session.Telemetry(); ok {
		msg := protocol.NewTextMessage(protocol.PathTelemetry, r.session.RequestID(), protocol.ContentTypeJSON, string(payload))
		if err := r.send(ctx, a, msg); err != nil {
			return err
		}
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	if !a.turnStartedAt.IsZero() {
		r.metrics.RecordTurnEnded(time.Since(a.turnStartedAt))
	}
	if r.session.OnServiceTurnEndResponse(a.run.continuous) {
		if a.run.continuous && r.session.IsSpeechEnded() {
			a.run.emitCanceled(CanceledEvent{Reason: ReasonEndOfStream, Code: NoError})
		}
		return errRunComplete
	}
	return r.sendSpeechContext(ctx, a)
}

// watchdog cancels when the service stays silent for timeout
func watchdog(ctx context.Context, timeout time.Duration, activity <-chan struct{}) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
		case <-timer.C:
			return NewCancellation(ServiceTimeout, "", nil)
		}
	}
}
