package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/skypro1111/speech-session-engine/internal/protocol"
)

var (
	// ErrConnectionClosed is returned by Send and Read after Close
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotOpen is returned by Send and Read before a successful Open
	ErrNotOpen = errors.New("connection not open")
)

// StatusOK is the status reported for an established connection
const StatusOK = 200

// ConnectionState represents the lifecycle of one Connection
type ConnectionState int

const (
	StateNone ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

// String returns a human-readable connection state
func (s ConnectionState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// OpenResponse is the outcome of a connection handshake
type OpenResponse struct {
	StatusCode int
	Reason     string
}

// EventType identifies a connection event
type EventType int

const (
	EventConnectionStart EventType = iota
	EventConnectionEstablished
	EventConnectionEstablishError
	EventConnectionClosed
	EventMessageSent
	EventMessageReceived
)

// String returns a human-readable event type
func (t EventType) String() string {
	switch t {
	case EventConnectionStart:
		return "ConnectionStart"
	case EventConnectionEstablished:
		return "ConnectionEstablished"
	case EventConnectionEstablishError:
		return "ConnectionEstablishError"
	case EventConnectionClosed:
		return "ConnectionClosed"
	case EventMessageSent:
		return "MessageSent"
	case EventMessageReceived:
		return "MessageReceived"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// ConnectionEvent is emitted on a Connection's event channel
type ConnectionEvent struct {
	ConnectionID string
	Type         EventType
	Time         time.Time
	StatusCode   int
	Reason       string
	Path         string
}

// Connection is one physical duplex channel bound to a resolved endpoint.
// It is never reopened; reconnecting means creating a new Connection.
type Connection interface {
	ID() string
	State() ConnectionState
	Open(ctx context.Context) (OpenResponse, error)
	Send(ctx context.Context, m *protocol.Message) error
	Read(ctx context.Context) (*protocol.Message, error)
	// Events is closed by Close
	Events() <-chan ConnectionEvent
	Close() error
}
