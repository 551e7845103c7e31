package audio

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrStreamClosed is returned by Write after Close
	ErrStreamClosed = errors.New("stream closed")

	// ErrReadEnded is returned by Read once the terminal chunk has been consumed
	ErrReadEnded = errors.New("stream read after end")
)

// Chunk is one unit of captured audio. A chunk with IsEnd set is the
// terminal sentinel and carries no buffer.
type Chunk struct {
	IsEnd        bool
	Buffer       []byte
	TimeReceived time.Time
}

// chunkQueue is an unbounded FIFO with a single blocking reader
type chunkQueue struct {
	mu     sync.Mutex
	items  []Chunk
	notify chan struct{}
	ended  bool
}

func newChunkQueue() *chunkQueue {
	return &chunkQueue{notify: make(chan struct{}, 1)}
}

func (q *chunkQueue) push(c Chunk) {
	q.mu.Lock()
	if q.ended {
		// detached or drained; drop silently
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, c)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *chunkQueue) pop(ctx context.Context) (Chunk, error) {
	for {
		q.mu.Lock()
		if q.ended {
			q.mu.Unlock()
			return Chunk{}, ErrReadEnded
		}
		if len(q.items) > 0 {
			c := q.items[0]
			q.items[0] = Chunk{}
			q.items = q.items[1:]
			if c.IsEnd {
				q.ended = true
				q.items = nil
			}
			q.mu.Unlock()
			return c, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Chunk{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// end turns the queue into a sink and wakes any blocked reader
func (q *chunkQueue) end() {
	q.mu.Lock()
	q.ended = true
	q.items = nil
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Stream is a single-producer, single-consumer queue of audio chunks closed
// by exactly one terminal chunk
type Stream struct {
	id string

	mu     sync.Mutex
	queue  *chunkQueue
	closed bool
}

// NewStream creates an open stream
func NewStream() *Stream {
	return &Stream{
		id:    uuid.NewString(),
		queue: newChunkQueue(),
	}
}

// ID returns the stream id
func (s *Stream) ID() string {
	return s.id
}

// Write enqueues a copy of buf
func (s *Stream) Write(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}

	data := make([]byte, len(buf))
	copy(data, buf)
	s.queue.push(Chunk{Buffer: data, TimeReceived: time.Now()})
	return nil
}

// Close enqueues the terminal chunk. Calling Close again is a no-op.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.queue.push(Chunk{IsEnd: true, TimeReceived: time.Now()})
}

// IsClosed reports whether Close was called
func (s *Stream) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Read blocks until the next chunk is available or ctx is done. Once the
// terminal chunk has been returned every later Read fails with ErrReadEnded.
func (s *Stream) Read(ctx context.Context) (Chunk, error) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()

	return q.pop(ctx)
}

// ReadEnded detaches the current reader. Pending chunks are discarded, a
// blocked Read returns ErrReadEnded, and later writes go to a fresh queue.
func (s *Stream) ReadEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue.end()
	s.queue = newChunkQueue()
	if s.closed {
		s.queue.push(Chunk{IsEnd: true, TimeReceived: time.Now()})
	}
}
