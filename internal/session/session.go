package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/speech-session-engine/internal/protocol"
	"github.com/skypro1111/speech-session-engine/internal/telemetry"
)

// ErrDisposed is returned by operations on a disposed session
var ErrDisposed = errors.New("session disposed")

// StatusForbidden is the connection status treated as fatal
const StatusForbidden = 403

// AudioNode is the replay-capable audio the session acknowledges and rewinds
type AudioNode interface {
	Replay()
	ShrinkBuffers(offset int64)
	FindTimeAtOffset(offset int64) time.Time
	Detach() error
}

// Options configure a RequestSession
type Options struct {
	Logger   *slog.Logger
	Observer Observer
	// NewTelemetry is called on every StartNewRecognition. Nil records
	// telemetry with telemetry.NewRecorder.
	NewTelemetry func(requestID, audioNodeID string) telemetry.Listener
}

// Stats is a point-in-time view of the session counters
type Stats struct {
	State                State  `json:"-"`
	StateName            string `json:"state"`
	RequestID            string `json:"request_id"`
	SessionID            string `json:"session_id"`
	RecogNumber          int    `json:"recog_number"`
	TurnSeq              int    `json:"turn_seq"`
	BytesSent            int64  `json:"bytes_sent"`
	RecognitionBytesSent int64  `json:"recognition_bytes_sent"`
	TurnStartAudioOffset int64  `json:"turn_start_audio_offset"`
	LastRecoOffset       int64  `json:"last_reco_offset"`
	ConnectionAttempts   int    `json:"connection_attempts"`
	IsSpeechEnded        bool   `json:"is_speech_ended"`
}

// RequestSession tracks one recognizer's request across connections and turns
type RequestSession struct {
	logger       *slog.Logger
	observer     Observer
	newTelemetry func(requestID, audioNodeID string) telemetry.Listener

	mu                   sync.Mutex
	state                State
	audioSourceID        string
	audioNodeID          string
	requestID            string
	sessionID            string
	authFetchEventID     string
	audioNode            AudioNode
	audioNodeDetached    bool
	isRecognizing        bool
	isSpeechEnded        bool
	hypothesisReceived   bool
	turnStartAudioOffset int64
	lastRecoOffset       int64
	bytesSent            int64
	recognitionBytesSent int64
	recogNumber          int
	connectionAttempts   int
	turnSeq              int
	inTurn               bool
	turn                 *Turn
	telemetry            telemetry.Listener
	disposed             bool
}

// New creates a session for audioSourceID
func New(audioSourceID string, opts Options) *RequestSession {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newTelemetry := opts.NewTelemetry
	if newTelemetry == nil {
		newTelemetry = func(requestID, audioNodeID string) telemetry.Listener {
			return telemetry.NewRecorder(requestID, audioNodeID)
		}
	}

	s := &RequestSession{
		logger:        logger,
		observer:      opts.Observer,
		newTelemetry:  newTelemetry,
		audioSourceID: audioSourceID,
		audioNodeID:   protocol.NewID(),
		requestID:     protocol.NewID(),
		telemetry:     telemetry.Discard{},
	}

	// no turn is pending before the first turn.start
	s.turn = newTurn(0, s.requestID)
	s.turn.resolve(nil)
	return s
}

// StartNewRecognition resets per-utterance state. It must be called exactly
// once per utterance or restart.
func (s *RequestSession) StartNewRecognition() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.recognitionBytesSent = 0
	s.isSpeechEnded = false
	s.isRecognizing = true
	s.turnStartAudioOffset = 0
	s.lastRecoOffset = 0
	s.recogNumber++
	s.state = StateTriggered
	s.telemetry = s.newTelemetry(s.requestID, s.audioNodeID)
	s.telemetry.RecognitionTriggered(time.Now())
	ev := s.eventLocked(EventRecognitionTriggered)
	recog := s.recogNumber
	s.mu.Unlock()

	s.logger.Debug("Recognition triggered",
		slog.String("request_id", ev.RequestID),
		slog.Int("recog_number", recog))
	s.notify(ev)
	return nil
}

// OnAudioSourceAttaching marks the start of audio attach for telemetry
func (s *RequestSession) OnAudioSourceAttaching() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry.AudioAttaching(time.Now())
}

// OnAudioSourceAttachCompleted records the attached node. An attach error
// completes the session.
func (s *RequestSession) OnAudioSourceAttachCompleted(node AudioNode, attachErr error) {
	s.mu.Lock()
	s.audioNode = node
	s.audioNodeDetached = false
	s.telemetry.AudioAttached(time.Now(), attachErr)
	if attachErr != nil {
		detach := s.completeLocked()
		s.mu.Unlock()
		s.detach(detach)
		return
	}
	s.state = StateListeningStarted
	ev := s.eventLocked(EventListeningStarted)
	s.mu.Unlock()

	s.notify(ev)
}

// OnPreConnectionStart records the ids of a new connection attempt
func (s *RequestSession) OnPreConnectionStart(authFetchEventID, connectionID string) {
	s.mu.Lock()
	s.authFetchEventID = authFetchEventID
	s.sessionID = connectionID
	s.state = StateConnectingToService
	s.telemetry.ConnectionStarting(connectionID, time.Now())
	ev := s.eventLocked(EventConnectingToService)
	s.mu.Unlock()

	s.notify(ev)
}

// OnAuthCompleted completes the session when authentication failed
func (s *RequestSession) OnAuthCompleted(authErr error) {
	if authErr == nil {
		return
	}
	s.mu.Lock()
	detach := s.completeLocked()
	s.mu.Unlock()
	s.detach(detach)
}

// OnConnectionEstablishCompleted handles the handshake outcome. 200 starts
// recognition and replays unacknowledged audio; a turn left open by the
// previous connection resolves with ErrTurnInterrupted. 403 completes the
// session.
// Other codes leave the session connecting for the caller to retry or cancel.
func (s *RequestSession) OnConnectionEstablishCompleted(statusCode int, reason string) {
	s.mu.Lock()
	now := time.Now()

	switch statusCode {
	case 200:
		s.telemetry.ConnectionEstablished(now)
		s.state = StateRecognitionStarted
		ev := s.eventLocked(EventRecognitionStarted)
		ev.StatusCode = statusCode
		node := s.audioNode
		s.turnStartAudioOffset = s.lastRecoOffset
		s.bytesSent = 0
		if s.inTurn {
			s.turn.resolve(ErrTurnInterrupted)
			s.inTurn = false
		}
		s.mu.Unlock()

		s.notify(ev)
		if node != nil {
			node.Replay()
		}
		return

	case StatusForbidden:
		s.telemetry.ConnectionFailed(now, statusCode, reason)
		ev := s.eventLocked(EventConnectionRejected)
		ev.StatusCode, ev.Reason = statusCode, reason
		detach := s.completeLocked()
		s.mu.Unlock()

		s.notify(ev)
		s.detach(detach)
		return

	default:
		s.telemetry.ConnectionFailed(now, statusCode, reason)
		ev := s.eventLocked(EventConnectionRejected)
		ev.StatusCode, ev.Reason = statusCode, reason
		s.mu.Unlock()

		s.notify(ev)
	}
}

// OnServiceTurnStartResponse opens a new turn. If the previous turn is still
// open it is resolved with ErrTurnSuperseded and ErrTurnReentrant is
// returned alongside the new turn.
func (s *RequestSession) OnServiceTurnStartResponse() (*Turn, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrDisposed
	}

	var err error
	if s.inTurn && !s.turn.resolved() {
		s.turn.resolve(ErrTurnSuperseded)
		err = ErrTurnReentrant
	}
	s.turnSeq++
	s.inTurn = true
	s.turn = newTurn(s.turnSeq, s.requestID)
	s.state = StateInTurn
	turn := s.turn
	ev := s.eventLocked(EventTurnStarted)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("Turn started before previous turn completed",
			slog.String("request_id", turn.RequestID),
			slog.Int("turn", turn.Seq))
	}
	s.notify(ev)
	return turn, err
}

// OnServiceTurnEndResponse resolves the open turn. Outside continuous
// recognition, or once input ended, the session completes and true is
// returned. Otherwise the session rearms for another turn from the last
// recognized offset.
func (s *RequestSession) OnServiceTurnEndResponse(continuous bool) bool {
	s.mu.Lock()
	s.turn.resolve(nil)
	s.inTurn = false
	ev := s.eventLocked(EventTurnEnded)

	if !continuous || s.isSpeechEnded {
		detach := s.completeLocked()
		s.mu.Unlock()

		s.notify(ev)
		s.detach(detach)
		return true
	}

	s.turnStartAudioOffset = s.lastRecoOffset
	s.state = StateRecognitionStarted
	node := s.audioNode
	s.mu.Unlock()

	s.notify(ev)
	if node != nil {
		node.Replay()
	}
	return false
}

// OnSpeechContext allocates a fresh request id for the next turn
func (s *RequestSession) OnSpeechContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestID = protocol.NewID()
	return s.requestID
}

// OnHypothesis reports the first hypothesis of a turn to telemetry
func (s *RequestSession) OnHypothesis(offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hypothesisReceived {
		return
	}
	s.hypothesisReceived = true
	s.telemetry.HypothesisReceived(s.findTimeLocked(offset))
}

// OnPhraseRecognized reports a final phrase ending at offset
func (s *RequestSession) OnPhraseRecognized(offset int64) {
	s.mu.Lock()
	s.telemetry.PhraseReceived(s.findTimeLocked(offset))
	s.mu.Unlock()

	s.OnServiceRecognized(offset)
}

// OnServiceRecognized acknowledges audio up to offset: the replay buffer
// shrinks and the retry counter resets
func (s *RequestSession) OnServiceRecognized(offset int64) {
	s.mu.Lock()
	s.lastRecoOffset = offset
	s.hypothesisReceived = false
	s.connectionAttempts = 0
	node := s.audioNode
	s.mu.Unlock()

	if node != nil {
		node.ShrinkBuffers(offset)
	}
}

// OnAudioSent counts bytes written to the current connection
func (s *RequestSession) OnAudioSent(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesSent += int64(n)
	s.recognitionBytesSent += int64(n)
}

// OnRetryConnection counts a reconnect attempt
func (s *RequestSession) OnRetryConnection() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectionAttempts++
	return s.connectionAttempts
}

// OnSpeechEnded marks the end of input
func (s *RequestSession) OnSpeechEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isSpeechEnded = true
}

// OnStopRecognizing completes the session
func (s *RequestSession) OnStopRecognizing() {
	s.mu.Lock()
	detach := s.completeLocked()
	s.mu.Unlock()
	s.detach(detach)
}

// Dispose completes the session and releases the audio node. It is idempotent.
func (s *RequestSession) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	detach := s.completeLocked()
	if s.audioNode != nil && !s.audioNodeDetached {
		s.audioNodeDetached = true
		detach = s.audioNode
	}
	s.disposed = true
	s.isRecognizing = false
	s.state = StateDisposed
	s.telemetry = telemetry.Discard{}
	s.mu.Unlock()

	s.detach(detach)
}

// completeLocked ends recognition and returns the node to detach, if any.
// An open turn is resolved with ErrSessionCompleted.
func (s *RequestSession) completeLocked() AudioNode {
	if !s.turn.resolved() {
		s.turn.resolve(ErrSessionCompleted)
	}
	s.inTurn = false
	if !s.isRecognizing {
		return nil
	}
	s.isRecognizing = false
	if !s.disposed {
		s.state = StateCompleted
	}
	if s.audioNodeDetached || s.audioNode == nil {
		return nil
	}
	s.audioNodeDetached = true
	return s.audioNode
}

func (s *RequestSession) detach(node AudioNode) {
	if node == nil {
		return
	}
	if err := node.Detach(); err != nil {
		s.logger.Warn("Failed to detach audio node", slog.String("error", err.Error()))
	}
}

func (s *RequestSession) findTimeLocked(offset int64) time.Time {
	if s.audioNode == nil {
		return time.Time{}
	}
	return s.audioNode.FindTimeAtOffset(offset)
}

func (s *RequestSession) eventLocked(t EventType) Event {
	return Event{
		Type:          t,
		Time:          time.Now(),
		RequestID:     s.requestID,
		SessionID:     s.sessionID,
		AudioSourceID: s.audioSourceID,
		AudioNodeID:   s.audioNodeID,
	}
}

func (s *RequestSession) notify(ev Event) {
	if s.observer != nil {
		s.observer.OnSessionEvent(ev)
	}
}

// RequestID returns the id of the current request
func (s *RequestSession) RequestID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestID
}

// SessionID returns the id of the current connection
func (s *RequestSession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *RequestSession) AudioNodeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioNodeID
}

func (s *RequestSession) AudioSourceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioSourceID
}

func (s *RequestSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *RequestSession) IsRecognizing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRecognizing
}

func (s *RequestSession) IsSpeechEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSpeechEnded
}

func (s *RequestSession) IsDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// HypothesisReceived reports whether a hypothesis arrived since the last phrase
func (s *RequestSession) HypothesisReceived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hypothesisReceived
}

// CurrentTurnAudioOffset is the audio offset the current turn started at.
// Service offsets within a turn are relative to it.
func (s *RequestSession) CurrentTurnAudioOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnStartAudioOffset
}

func (s *RequestSession) LastRecoOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRecoOffset
}

func (s *RequestSession) BytesSent() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent
}

func (s *RequestSession) RecognitionBytesSent() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recognitionBytesSent
}

func (s *RequestSession) RecogNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recogNumber
}

func (s *RequestSession) ConnectionAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionAttempts
}

// CurrentTurn returns the most recent turn. Before the first turn.start it
// is an already resolved placeholder.
func (s *RequestSession) CurrentTurn() *Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// Telemetry returns the pending telemetry payload, if any result timings
// were recorded since the last call
func (s *RequestSession) Telemetry() ([]byte, bool) {
	s.mu.Lock()
	rec := s.telemetry
	s.mu.Unlock()

	if !rec.HasTelemetry() {
		return nil, false
	}
	data, err := rec.Flush()
	if err != nil {
		s.logger.Warn("Failed to render telemetry", slog.String("error", err.Error()))
		return nil, false
	}
	return data, true
}

// Stats returns the session counters
func (s *RequestSession) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		State:                s.state,
		StateName:            s.state.String(),
		RequestID:            s.requestID,
		SessionID:            s.sessionID,
		RecogNumber:          s.recogNumber,
		TurnSeq:              s.turnSeq,
		BytesSent:            s.bytesSent,
		RecognitionBytesSent: s.recognitionBytesSent,
		TurnStartAudioOffset: s.turnStartAudioOffset,
		LastRecoOffset:       s.lastRecoOffset,
		ConnectionAttempts:   s.connectionAttempts,
		IsSpeechEnded:        s.isSpeechEnded,
	}
}
