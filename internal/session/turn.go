package session

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrTurnSuperseded completes a turn that was still open when the
	// service started another one
	ErrTurnSuperseded = errors.New("turn superseded by a new turn start")

	// ErrTurnReentrant is returned by OnServiceTurnStartResponse when a turn
	// starts before the previous one completed
	ErrTurnReentrant = errors.New("turn started before previous turn completed")

	// ErrSessionCompleted resolves a turn cut short by session completion
	ErrSessionCompleted = errors.New("session completed before turn end")

	// ErrTurnInterrupted resolves a turn left open by a lost connection
	ErrTurnInterrupted = errors.New("turn interrupted by reconnect")
)

// Turn is one request/response cycle bounded by turn.start and turn.end
type Turn struct {
	Seq       int
	RequestID string

	done chan struct{}
	once sync.Once
	err  error
}

func newTurn(seq int, requestID string) *Turn {
	return &Turn{Seq: seq, RequestID: requestID, done: make(chan struct{})}
}

// Done is closed when the turn resolves
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Err returns nil for a turn that ended normally. It is only meaningful
// after Done is closed.
func (t *Turn) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the turn resolves or ctx is done
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.err
	}
}

// resolve completes the turn once; later calls are ignored
func (t *Turn) resolve(err error) bool {
	resolved := false
	t.once.Do(func() {
		t.err = err
		close(t.done)
		resolved = true
	})
	return resolved
}

func (t *Turn) resolved() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
