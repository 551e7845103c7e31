package audio

import "sync"

// ChunkedStream re-cuts arbitrary writes into chunks of a fixed size. The
// remainder is flushed as a short chunk on Close.
type ChunkedStream struct {
	*Stream

	chunkSize int
	mu        sync.Mutex
	pending   []byte
}

// NewChunkedStream creates a stream emitting chunkSize-byte chunks
func NewChunkedStream(chunkSize int) *ChunkedStream {
	if chunkSize <= 0 {
		chunkSize = DefaultFormat().ChunkSize()
	}
	return &ChunkedStream{
		Stream:    NewStream(),
		chunkSize: chunkSize,
		pending:   make([]byte, 0, chunkSize),
	}
}

// ChunkSize returns the configured chunk size in bytes
func (c *ChunkedStream) ChunkSize() int {
	return c.chunkSize
}

// Write buffers buf and emits every complete chunk
func (c *ChunkedStream) Write(buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Stream.IsClosed() {
		return ErrStreamClosed
	}

	c.pending = append(c.pending, buf...)
	for len(c.pending) >= c.chunkSize {
		if err := c.Stream.Write(c.pending[:c.chunkSize]); err != nil {
			return err
		}
		c.pending = c.pending[c.chunkSize:]
	}

	// compact so the backing array does not grow without bound
	if cap(c.pending)-len(c.pending) < c.chunkSize {
		rest := make([]byte, len(c.pending), c.chunkSize*2)
		copy(rest, c.pending)
		c.pending = rest
	}
	return nil
}

// Close flushes the partial chunk and closes the stream
func (c *ChunkedStream) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Stream.IsClosed() {
		return
	}
	if len(c.pending) > 0 {
		_ = c.Stream.Write(c.pending)
		c.pending = c.pending[:0]
	}
	c.Stream.Close()
}
