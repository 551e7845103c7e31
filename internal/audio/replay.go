package audio

import (
	"context"
	"sync"
	"time"
)

// AudioNode is an attached reader over a source's chunk stream
type AudioNode interface {
	ID() string
	Read(ctx context.Context) (Chunk, error)
	Detach() error
}

type retainedChunk struct {
	chunk  Chunk
	offset int64 // byte position of the first byte of chunk
}

// ReplayStats describes the retained audio for monitoring
type ReplayStats struct {
	RetainedChunks int   `json:"retained_chunks"`
	RetainedBytes  int64 `json:"retained_bytes"`
	AckedBytes     int64 `json:"acked_bytes"`
	ReadBytes      int64 `json:"read_bytes"`
	ReplayedChunks int   `json:"replayed_chunks"`
	Replaying      bool  `json:"replaying"`
}

// ReplayableNode wraps a live AudioNode and retains every chunk read from it
// until the service acknowledges the audio. After Replay, reads re-emit the
// retained audio from the acknowledged position before resuming live reads.
type ReplayableNode struct {
	node   AudioNode
	format Format

	mu             sync.Mutex
	buffers        []retainedChunk
	readBytes      int64 // total bytes read from the live node
	ackedBytes     int64
	replaying      bool
	replayPos      int64
	replayedChunks int
	ended          bool
	// generation counts rewinds
	generation int
}

// NewReplayableNode wraps node. format is used to convert service offsets to bytes.
func NewReplayableNode(node AudioNode, format Format) *ReplayableNode {
	return &ReplayableNode{
		node:   node,
		format: format,
	}
}

// ID returns the wrapped node id
func (r *ReplayableNode) ID() string {
	return r.node.ID()
}

// Format returns the format used for offset conversion
func (r *ReplayableNode) Format() Format {
	return r.format
}

// Read returns the next retained chunk while replaying, then live chunks.
// The live read happens without holding the lock so Shrink and Replay are
// never blocked behind a slow source.
func (r *ReplayableNode) Read(ctx context.Context) (Chunk, error) {
	c, _, err := r.ReadGeneration(ctx)
	return c, err
}

// ReadGeneration is Read that also returns the generation the chunk belongs
// to. A chunk whose generation is older than Generation was read before a
// Replay and will be delivered again.
func (r *ReplayableNode) ReadGeneration(ctx context.Context) (Chunk, int, error) {
	r.mu.Lock()
	gen := r.generation
	if c, ok := r.nextReplayLocked(); ok {
		r.mu.Unlock()
		return c, gen, nil
	}
	if r.ended {
		r.mu.Unlock()
		return Chunk{IsEnd: true, TimeReceived: time.Now()}, gen, nil
	}
	r.mu.Unlock()

	c, err := r.node.Read(ctx)
	if err != nil {
		return Chunk{}, gen, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c.IsEnd {
		r.ended = true
		return c, gen, nil
	}
	r.buffers = append(r.buffers, retainedChunk{chunk: c, offset: r.readBytes})
	r.readBytes += int64(len(c.Buffer))
	return c, gen, nil
}

// Generation returns the number of rewinds so far
func (r *ReplayableNode) Generation() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

func (r *ReplayableNode) nextReplayLocked() (Chunk, bool) {
	if !r.replaying {
		return Chunk{}, false
	}
	for _, rc := range r.buffers {
		end := rc.offset + int64(len(rc.chunk.Buffer))
		if r.replayPos >= end {
			continue
		}
		start := r.replayPos - rc.offset
		if start < 0 {
			start = 0
		}
		r.replayPos = end
		r.replayedChunks++
		return Chunk{
			Buffer:       rc.chunk.Buffer[start:],
			TimeReceived: rc.chunk.TimeReceived,
		}, true
	}
	r.replaying = false
	return Chunk{}, false
}

// Replay rewinds reads to the last acknowledged position. It is a no-op when
// nothing is retained.
func (r *ReplayableNode) Replay() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buffers) == 0 {
		return
	}
	r.replaying = true
	r.generation++
	r.replayPos = r.ackedBytes
	if first := r.buffers[0].offset; r.replayPos < first {
		r.replayPos = first
	}
}

// ShrinkBuffers drops every chunk that lies entirely before offset, given in
// 100 ns ticks since the start of the audio
func (r *ReplayableNode) ShrinkBuffers(offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acked := r.format.TicksToBytes(offset)
	if acked > r.ackedBytes {
		r.ackedBytes = acked
	}

	drop := 0
	for drop < len(r.buffers) {
		rc := r.buffers[drop]
		if rc.offset+int64(len(rc.chunk.Buffer)) > r.ackedBytes {
			break
		}
		r.buffers[drop] = retainedChunk{}
		drop++
	}
	r.buffers = r.buffers[drop:]
}

// FindTimeAtOffset returns when the chunk holding offset (in ticks) was
// captured, or the zero time if that audio is not retained
func (r *ReplayableNode) FindTimeAtOffset(offset int64) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos := r.format.TicksToBytes(offset)
	for _, rc := range r.buffers {
		if pos >= rc.offset && pos < rc.offset+int64(len(rc.chunk.Buffer)) {
			return rc.chunk.TimeReceived
		}
	}
	return time.Time{}
}

// Stats returns current replay statistics
func (r *ReplayableNode) Stats() ReplayStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var retained int64
	for _, rc := range r.buffers {
		retained += int64(len(rc.chunk.Buffer))
	}
	return ReplayStats{
		RetainedChunks: len(r.buffers),
		RetainedBytes:  retained,
		AckedBytes:     r.ackedBytes,
		ReadBytes:      r.readBytes,
		ReplayedChunks: r.replayedChunks,
		Replaying:      r.replaying,
	}
}

// Detach releases the live node and drops retained audio
func (r *ReplayableNode) Detach() error {
	r.mu.Lock()
	r.buffers = nil
	r.replaying = false
	r.mu.Unlock()

	return r.node.Detach()
}
