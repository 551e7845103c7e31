package recognizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/skypro1111/speech-session-engine/internal/protocol"
)

// SessionEvent is delivered when a recognition session starts or stops
type SessionEvent struct {
	SessionID string
}

// RecognitionEvent carries a service-detected speech boundary
type RecognitionEvent struct {
	SessionID string
	Offset    int64
}

// ResultEvent carries an intermediate or final result
type ResultEvent struct {
	SessionID string
	Result    Result
}

// CanceledEvent is delivered once when recognition ends early or the input
// ends in continuous mode
type CanceledEvent struct {
	SessionID string
	Result    Result
	Reason    CancellationReason
	Code      CancellationErrorCode
	Detail    string
}

// MessageContext is the view of the running recognition a Scenario needs to
// turn service messages into results
type MessageContext interface {
	SessionID() string
	// TurnOffset is the audio offset, in ticks, of the current turn start
	TurnOffset() int64
	IsSpeechEnded() bool
	OnHypothesis(offset int64)
	// OnPhraseRecognized acknowledges audio up to offset
	OnPhraseRecognized(offset int64)
	Recognizing(r Result)
	Recognized(r Result)
}

// Scenario interprets the scenario-specific part of the protocol. The
// recognizer handles turn and speech-boundary messages and hands everything
// else to ProcessMessage.
type Scenario interface {
	Name() string
	// ConfigureContext adds scenario fields to the speech.context payload
	ConfigureContext(ctx map[string]any)
	// ProcessMessage handles msg and reports whether it was understood. A
	// *CancellationError ends the recognition.
	ProcessMessage(ctx context.Context, msg *protocol.Message, mc MessageContext) (bool, error)
	BuildCancelEvent(ev CanceledEvent) CanceledEvent
	OnRecognizing(ev ResultEvent)
	OnRecognized(ev ResultEvent)
}

// OutputFormat selects the phrase payload shape requested from the service
type OutputFormat int

const (
	OutputSimple OutputFormat = iota
	OutputDetailed
)

// String returns the query parameter value
func (f OutputFormat) String() string {
	if f == OutputDetailed {
		return "detailed"
	}
	return "simple"
}

// ParseOutputFormat parses "simple" or "detailed"
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "", "simple":
		return OutputSimple, nil
	case "detailed":
		return OutputDetailed, nil
	default:
		return 0, fmt.Errorf("unknown output format %q", s)
	}
}

// SpeechScenario handles speech-to-text results
type SpeechScenario struct {
	Format      OutputFormat
	Recognizing func(ResultEvent)
	Recognized  func(ResultEvent)
}

func (s *SpeechScenario) Name() string {
	return "speech"
}

func (s *SpeechScenario) ConfigureContext(ctx map[string]any) {
	format := "Simple"
	if s.Format == OutputDetailed {
		format = "Detailed"
	}
	ctx["phraseOutput"] = map[string]any{"format": format}
}

func (s *SpeechScenario) ProcessMessage(ctx context.Context, msg *protocol.Message, mc MessageContext) (bool, error) {
	switch msg.Path() {
	case strings.ToLower(protocol.PathSpeechHypothesis), strings.ToLower(protocol.PathSpeechFragment):
		var h speechHypothesis
		if err := parsePayload(msg.BodyText(), &h); err != nil {
			return true, err
		}
		offset := h.Offset + mc.TurnOffset()
		mc.OnHypothesis(offset)
		mc.Recognizing(Result{
			ResultID: protocol.NewID(),
			Reason:   ReasonRecognizingSpeech,
			Text:     h.Text,
			Offset:   offset,
			Duration: h.Duration,
			Language: language(h.PrimaryLanguage),
			JSON:     msg.BodyText(),
		})
		return true, nil

	case strings.ToLower(protocol.PathSpeechPhrase):
		var p speechPhrase
		if err := parsePayload(msg.BodyText(), &p); err != nil {
			return true, err
		}
		return true, handlePhrase(mc, p.RecognitionStatus, p.Offset, p.Duration, func(r *Result) {
			r.Reason = ReasonRecognizedSpeech
			r.Text = p.text()
			r.Language = language(p.PrimaryLanguage)
			r.JSON = msg.BodyText()
		})
	}
	return false, nil
}

// handlePhrase applies the status rules shared by speech and translation
// phrases. fill completes a successful result.
func handlePhrase(mc MessageContext, status RecognitionStatus, offset, duration int64, fill func(*Result)) error {
	if status == StatusEndOfDictation {
		return nil
	}
	start := mc.TurnOffset() + offset
	mc.OnPhraseRecognized(start + duration)

	if code, cancel := CodeForRecognitionStatus(status); cancel {
		return NewCancellation(code, "", nil)
	}

	r := Result{
		ResultID: protocol.NewID(),
		Status:   status,
		Offset:   start,
		Duration: duration,
	}
	switch status {
	case StatusSuccess:
		fill(&r)
	default:
		// the trailing NoMatch after the input ended is not a result
		if mc.IsSpeechEnded() && status == StatusNoMatch {
			return nil
		}
		r.Reason = ReasonNoMatch
	}
	mc.Recognized(r)
	return nil
}

func (s *SpeechScenario) BuildCancelEvent(ev CanceledEvent) CanceledEvent {
	ev.Result.Reason = ReasonCanceled
	return ev
}

func (s *SpeechScenario) OnRecognizing(ev ResultEvent) {
	if s.Recognizing != nil {
		s.Recognizing(ev)
	}
}

func (s *SpeechScenario) OnRecognized(ev ResultEvent) {
	if s.Recognized != nil {
		s.Recognized(ev)
	}
}
