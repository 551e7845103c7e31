package recognizer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/skypro1111/speech-session-engine/internal/audio"
)

// RecognitionStatus is the status reported on a final phrase
type RecognitionStatus int

const (
	StatusSuccess RecognitionStatus = iota
	StatusNoMatch
	StatusInitialSilenceTimeout
	StatusBabbleTimeout
	StatusError
	StatusEndOfDictation
	StatusTooManyRequests
	StatusBadRequest
	StatusForbidden
)

var recognitionStatusNames = map[string]RecognitionStatus{
	"success":               StatusSuccess,
	"nomatch":               StatusNoMatch,
	"initialsilencetimeout": StatusInitialSilenceTimeout,
	"babbletimeout":         StatusBabbleTimeout,
	"error":                 StatusError,
	"endofdictation":        StatusEndOfDictation,
	"toomanyrequests":       StatusTooManyRequests,
	"badrequest":            StatusBadRequest,
	"forbidden":             StatusForbidden,
}

// UnmarshalJSON accepts the service's status names case-insensitively.
// Unknown names decode as StatusError.
func (s *RecognitionStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("recognition status: %w", err)
	}
	status, ok := recognitionStatusNames[strings.ToLower(name)]
	if !ok {
		status = StatusError
	}
	*s = status
	return nil
}

// String returns the service name of the status
func (s RecognitionStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusNoMatch:
		return "NoMatch"
	case StatusInitialSilenceTimeout:
		return "InitialSilenceTimeout"
	case StatusBabbleTimeout:
		return "BabbleTimeout"
	case StatusError:
		return "Error"
	case StatusEndOfDictation:
		return "EndOfDictation"
	case StatusTooManyRequests:
		return "TooManyRequests"
	case StatusBadRequest:
		return "BadRequest"
	case StatusForbidden:
		return "Forbidden"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// ResultReason says what a Result carries
type ResultReason int

const (
	ReasonNoMatch ResultReason = iota
	ReasonCanceled
	ReasonRecognizingSpeech
	ReasonRecognizedSpeech
	ReasonTranslatingSpeech
	ReasonTranslatedSpeech
	ReasonSynthesizingAudio
	ReasonSynthesizingAudioCompleted
)

// String returns a human-readable reason
func (r ResultReason) String() string {
	switch r {
	case ReasonNoMatch:
		return "NoMatch"
	case ReasonCanceled:
		return "Canceled"
	case ReasonRecognizingSpeech:
		return "RecognizingSpeech"
	case ReasonRecognizedSpeech:
		return "RecognizedSpeech"
	case ReasonTranslatingSpeech:
		return "TranslatingSpeech"
	case ReasonTranslatedSpeech:
		return "TranslatedSpeech"
	case ReasonSynthesizingAudio:
		return "SynthesizingAudio"
	case ReasonSynthesizingAudioCompleted:
		return "SynthesizingAudioCompleted"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// Result is one recognition or translation result. Offset and Duration are
// in 100 ns ticks from the start of the audio.
type Result struct {
	ResultID     string            `json:"result_id"`
	Reason       ResultReason      `json:"reason"`
	Status       RecognitionStatus `json:"-"`
	Text         string            `json:"text"`
	Offset       int64             `json:"offset"`
	Duration     int64             `json:"duration"`
	Language     string            `json:"language,omitempty"`
	Translations map[string]string `json:"translations,omitempty"`
	Audio        []byte            `json:"-"`
	JSON         string            `json:"-"`
}

// OffsetDuration returns Offset as a time.Duration
func (r Result) OffsetDuration() time.Duration {
	return time.Duration(r.Offset) * (time.Second / audio.TicksPerSecond)
}

// Service payloads

type primaryLanguage struct {
	Language string `json:"Language"`
}

type speechHypothesis struct {
	Text            string           `json:"Text"`
	Offset          int64            `json:"Offset"`
	Duration        int64            `json:"Duration"`
	PrimaryLanguage *primaryLanguage `json:"PrimaryLanguage,omitempty"`
}

type nBest struct {
	Confidence float64 `json:"Confidence"`
	Lexical    string  `json:"Lexical"`
	ITN        string  `json:"ITN"`
	MaskedITN  string  `json:"MaskedITN"`
	Display    string  `json:"Display"`
}

type speechPhrase struct {
	RecognitionStatus RecognitionStatus `json:"RecognitionStatus"`
	DisplayText       string            `json:"DisplayText"`
	Offset            int64             `json:"Offset"`
	Duration          int64             `json:"Duration"`
	NBest             []nBest           `json:"NBest"`
	PrimaryLanguage   *primaryLanguage  `json:"PrimaryLanguage,omitempty"`
}

// text returns the display text of a simple or detailed phrase
func (p speechPhrase) text() string {
	if p.DisplayText != "" {
		return p.DisplayText
	}
	if len(p.NBest) > 0 {
		return p.NBest[0].Display
	}
	return ""
}

type speechDetected struct {
	Offset int64 `json:"Offset"`
}

type turnStartPayload struct {
	Context struct {
		ServiceTag string `json:"serviceTag"`
	} `json:"context"`
}

func parsePayload(body string, v any) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("invalid %T payload: %w", v, err)
	}
	return nil
}

func language(p *primaryLanguage) string {
	if p == nil {
		return ""
	}
	return p.Language
}
