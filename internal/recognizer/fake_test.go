package recognizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/speech-session-engine/internal/audio"
	"github.com/skypro1111/speech-session-engine/internal/protocol"
	"github.com/skypro1111/speech-session-engine/internal/transport"
)

var errDropped = errors.New("connection dropped")

type readItem struct {
	msg *protocol.Message
	err error
}

// fakeConn is an in-memory Connection. The service side is scripted through
// onSend, which sees every message the recognizer writes.
type fakeConn struct {
	id       string
	status   int
	openErr  error
	onSend   func(c *fakeConn, m *protocol.Message)
	incoming chan readItem
	events   chan transport.ConnectionEvent

	mu     sync.Mutex
	sent   []*protocol.Message
	closed bool
	done   chan struct{}
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:       id,
		status:   200,
		incoming: make(chan readItem, 256),
		events:   make(chan transport.ConnectionEvent, 8),
		done:     make(chan struct{}),
	}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) State() transport.ConnectionState { return transport.StateConnected }

func (c *fakeConn) Open(ctx context.Context) (transport.OpenResponse, error) {
	if c.openErr != nil {
		return transport.OpenResponse{}, c.openErr
	}
	c.emit(transport.ConnectionEvent{ConnectionID: c.id, Type: transport.EventConnectionEstablished, StatusCode: c.status})
	return transport.OpenResponse{StatusCode: c.status, Reason: fmt.Sprintf("status %d", c.status)}, nil
}

func (c *fakeConn) Send(ctx context.Context, m *protocol.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrConnectionClosed
	}
	c.sent = append(c.sent, m)
	c.mu.Unlock()

	if c.onSend != nil {
		c.onSend(c, m)
	}
	return nil
}

func (c *fakeConn) Read(ctx context.Context) (*protocol.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, transport.ErrConnectionClosed
	case item := <-c.incoming:
		return item.msg, item.err
	}
}

func (c *fakeConn) Events() <-chan transport.ConnectionEvent { return c.events }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
		close(c.events)
	}
	return nil
}

func (c *fakeConn) emit(ev transport.ConnectionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

// reply queues a service message for the recognizer to read
func (c *fakeConn) reply(path, requestID, body string) {
	c.incoming <- readItem{msg: protocol.NewTextMessage(path, requestID, protocol.ContentTypeJSON, body)}
}

// drop fails the next read after everything already queued
func (c *fakeConn) drop() {
	c.incoming <- readItem{err: errDropped}
}

func (c *fakeConn) messages() []*protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*protocol.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

// audioPayloads returns the bodies of audio frames after the RIFF header
func (c *fakeConn) audioPayloads() [][]byte {
	var out [][]byte
	for _, m := range c.messages() {
		if m.Path() != protocol.PathAudio || m.ContentType() == protocol.ContentTypeWAV {
			continue
		}
		out = append(out, m.BinaryBody)
	}
	return out
}

type fakeFactory struct {
	mu      sync.Mutex
	conns   []*fakeConn
	configs []transport.Config
	auths   []transport.AuthInfo
	script  func(n int, c *fakeConn)
}

func (f *fakeFactory) Create(ctx context.Context, cfg transport.Config, auth transport.AuthInfo, connectionID string) (transport.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := newFakeConn(connectionID)
	if f.script != nil {
		f.script(len(f.conns), c)
	}
	f.conns = append(f.conns, c)
	f.configs = append(f.configs, cfg)
	f.auths = append(f.auths, auth)
	return c, nil
}

func (f *fakeFactory) conn(n int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n >= len(f.conns) {
		return nil
	}
	return f.conns[n]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

type fakeAuth struct {
	mu        sync.Mutex
	fetches   int
	refreshes int
	err       error
}

func (a *fakeAuth) Fetch(ctx context.Context, id string) (transport.AuthInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches++
	if a.err != nil {
		return transport.AuthInfo{}, a.err
	}
	return transport.AuthInfo{HeaderName: transport.HeaderSubscriptionKey, Token: "key"}, nil
}

func (a *fakeAuth) FetchOnExpiry(ctx context.Context, id string) (transport.AuthInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshes++
	return transport.AuthInfo{HeaderName: transport.HeaderAuthorization, Token: "Bearer fresh"}, nil
}

// testConfig keeps retries and timeouts short
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.InteractiveTimeout = 2 * time.Second
	cfg.ContinuousTimeout = 2 * time.Second
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pushChunks writes n chunks of one chunk size each, chunk i filled with
// byte i+1, and optionally closes the source
func pushChunks(t *testing.T, src *audio.PushStreamSource, n int, closeSource bool) {
	t.Helper()
	size := src.Format().ChunkSize()
	for i := 0; i < n; i++ {
		buf := make([]byte, size)
		for j := range buf {
			buf[j] = byte(i + 1)
		}
		if err := src.Write(buf); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if closeSource {
		if err := src.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}
}

// chunkTicks is the duration of one default-format chunk in 100 ns ticks
func chunkTicks() int64 {
	f := audio.DefaultFormat()
	return f.BytesToTicks(int64(f.ChunkSize()))
}

func phrase(status string, text string, offset, duration int64) string {
	return fmt.Sprintf(`{"RecognitionStatus":%q,"DisplayText":%q,"Offset":%d,"Duration":%d}`, status, text, offset, duration)
}

func isEndFrame(m *protocol.Message) bool {
	return m.Path() == protocol.PathAudio && m.ContentType() != protocol.ContentTypeWAV && len(m.BinaryBody) == 0
}

func isDataFrame(m *protocol.Message) bool {
	return m.Path() == protocol.PathAudio && m.ContentType() != protocol.ContentTypeWAV && len(m.BinaryBody) > 0
}
