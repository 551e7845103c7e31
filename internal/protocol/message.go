package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Well-known header names
const (
	HeaderPath         = "Path"
	HeaderRequestID    = "X-RequestId"
	HeaderTimestamp    = "X-Timestamp"
	HeaderContentType  = "Content-Type"
	HeaderConnectionID = "X-ConnectionId"
)

// Service paths
const (
	PathSpeechConfig            = "speech.config"
	PathSpeechContext           = "speech.context"
	PathAudio                   = "audio"
	PathTelemetry               = "telemetry"
	PathTurnStart               = "turn.start"
	PathTurnEnd                 = "turn.end"
	PathSpeechStartDetected     = "speech.startDetected"
	PathSpeechEndDetected       = "speech.endDetected"
	PathSpeechHypothesis        = "speech.hypothesis"
	PathSpeechPhrase            = "speech.phrase"
	PathSpeechFragment          = "speech.fragment"
	PathTranslationHypothesis   = "translation.hypothesis"
	PathTranslationPhrase       = "translation.phrase"
	PathTranslationSynthesis    = "translation.synthesis"
	PathTranslationSynthesisEnd = "translation.synthesis.end"
)

// Content types
const (
	ContentTypeJSON  = "application/json"
	ContentTypeWAV   = "audio/x-wav"
	ContentTypeAudio = "audio/x-pcm"
)

// MessageType distinguishes text frames from binary frames
type MessageType uint8

const (
	MessageTypeText MessageType = iota
	MessageTypeBinary
)

// String returns a human-readable message type
func (t MessageType) String() string {
	switch t {
	case MessageTypeText:
		return "Text"
	case MessageTypeBinary:
		return "Binary"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Message is a structured wire message: headers plus a text or binary body
type Message struct {
	ID         string
	Type       MessageType
	Headers    Headers
	TextBody   string
	BinaryBody []byte
}

// NewTextMessage builds a text message stamped with path, request id and timestamp
func NewTextMessage(path, requestID, contentType, body string) *Message {
	m := &Message{
		ID:       NewID(),
		Type:     MessageTypeText,
		TextBody: body,
	}
	m.stamp(path, requestID, contentType)
	return m
}

// NewBinaryMessage builds a binary message stamped with path, request id and timestamp.
// A nil body is valid and marks end of audio for the audio path.
func NewBinaryMessage(path, requestID, contentType string, body []byte) *Message {
	m := &Message{
		ID:         NewID(),
		Type:       MessageTypeBinary,
		BinaryBody: body,
	}
	m.stamp(path, requestID, contentType)
	return m
}

func (m *Message) stamp(path, requestID, contentType string) {
	m.Headers.Set(HeaderPath, path)
	m.Headers.Set(HeaderRequestID, requestID)
	m.Headers.Set(HeaderTimestamp, Timestamp(time.Now()))
	if contentType != "" {
		m.Headers.Set(HeaderContentType, contentType)
	}
}

// Path returns the service path header, lower-cased
func (m *Message) Path() string {
	return strings.ToLower(m.Headers.Value(HeaderPath))
}

// RequestID returns the request id header
func (m *Message) RequestID() string {
	return m.Headers.Value(HeaderRequestID)
}

// ContentType returns the content type header
func (m *Message) ContentType() string {
	return m.Headers.Value(HeaderContentType)
}

// BodyText returns the body as text regardless of frame type
func (m *Message) BodyText() string {
	if m.Type == MessageTypeBinary {
		return string(m.BinaryBody)
	}
	return m.TextBody
}

// BodyLen returns the body size in bytes
func (m *Message) BodyLen() int {
	if m.Type == MessageTypeBinary {
		return len(m.BinaryBody)
	}
	return len(m.TextBody)
}

// String returns a human-readable representation of the message
func (m *Message) String() string {
	return fmt.Sprintf("Message{Type:%s, Path:%q, RequestID:%q, Headers:%d, BodyLen:%d}",
		m.Type, m.Path(), m.RequestID(), m.Headers.Len(), m.BodyLen())
}

// NewID returns a dash-free random id, the form the service expects for
// request and connection ids
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Timestamp formats t the way the service expects in X-Timestamp
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
