package session

import (
	"fmt"
	"time"
)

// State represents the session lifecycle
type State int

const (
	StateIdle State = iota
	StateTriggered
	StateListeningStarted
	StateConnectingToService
	StateRecognitionStarted
	StateInTurn
	StateCompleted
	StateDisposed
)

// String returns a human-readable state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateTriggered:
		return "Triggered"
	case StateListeningStarted:
		return "ListeningStarted"
	case StateConnectingToService:
		return "ConnectingToService"
	case StateRecognitionStarted:
		return "RecognitionStarted"
	case StateInTurn:
		return "InTurn"
	case StateCompleted:
		return "Completed"
	case StateDisposed:
		return "Disposed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// EventType identifies a session event
type EventType int

const (
	EventRecognitionTriggered EventType = iota
	EventListeningStarted
	EventConnectingToService
	EventRecognitionStarted
	EventConnectionRejected
	EventTurnStarted
	EventTurnEnded
	EventRecognitionEnded
)

// String returns a human-readable event type
func (t EventType) String() string {
	switch t {
	case EventRecognitionTriggered:
		return "RecognitionTriggered"
	case EventListeningStarted:
		return "ListeningStarted"
	case EventConnectingToService:
		return "ConnectingToService"
	case EventRecognitionStarted:
		return "RecognitionStarted"
	case EventConnectionRejected:
		return "ConnectionRejected"
	case EventTurnStarted:
		return "TurnStarted"
	case EventTurnEnded:
		return "TurnEnded"
	case EventRecognitionEnded:
		return "RecognitionEnded"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Event is published to the session Observer
type Event struct {
	Type          EventType
	Time          time.Time
	RequestID     string
	SessionID     string
	AudioSourceID string
	AudioNodeID   string
	StatusCode    int
	Reason        string
}

// Observer receives session events. Calls are made without the session lock
// held, in the order the events happened.
type Observer interface {
	OnSessionEvent(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) OnSessionEvent(e Event) { f(e) }
