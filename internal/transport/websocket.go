package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/speech-session-engine/internal/protocol"
)

// WebsocketConfig tunes the websocket transport
type WebsocketConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	MaxRedirects     int
}

// DefaultWebsocketConfig returns the default transport settings
func DefaultWebsocketConfig() WebsocketConfig {
	return WebsocketConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     20 * time.Second,
		MaxRedirects:     3,
	}
}

// wsConn is the subset of *websocket.Conn the connection uses
type wsConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type readResult struct {
	msg *protocol.Message
	err error
}

// WebsocketConnection implements Connection over gorilla/websocket
type WebsocketConnection struct {
	id     string
	url    string
	header http.Header
	cfg    WebsocketConfig
	logger *slog.Logger

	mu           sync.Mutex
	state        ConnectionState
	conn         wsConn
	eventsClosed bool

	writeMu  sync.Mutex
	events   chan ConnectionEvent
	incoming chan readResult
	done     chan struct{}
	closeErr error
	once     sync.Once
}

// NewWebsocketConnection binds a connection to endpoint and header. Nothing
// is dialed until Open.
func NewWebsocketConnection(id, endpoint string, header http.Header, cfg WebsocketConfig, logger *slog.Logger) *WebsocketConnection {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultWebsocketConfig().HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWebsocketConfig().WriteTimeout
	}
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = 0
	}

	return &WebsocketConnection{
		id:       id,
		url:      endpoint,
		header:   header.Clone(),
		cfg:      cfg,
		logger:   logger.With(slog.String("connection_id", id)),
		events:   make(chan ConnectionEvent, 64),
		incoming: make(chan readResult, 16),
		done:     make(chan struct{}),
	}
}

// ID returns the connection id sent as X-ConnectionId
func (c *WebsocketConnection) ID() string {
	return c.id
}

// URL returns the endpoint the connection is bound to
func (c *WebsocketConnection) URL() string {
	return c.url
}

// State returns the current connection state
func (c *WebsocketConnection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Events returns the connection event channel. It is closed by Close.
func (c *WebsocketConnection) Events() <-chan ConnectionEvent {
	return c.events
}

// Open dials the endpoint, following redirects. A handshake rejected with an
// HTTP status is reported through OpenResponse with a nil error; a transport
// failure is returned as an error.
func (c *WebsocketConnection) Open(ctx context.Context) (OpenResponse, error) {
	c.mu.Lock()
	if c.state != StateNone {
		state := c.state
		c.mu.Unlock()
		return OpenResponse{}, fmt.Errorf("connection already used (state %s)", state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.emit(ConnectionEvent{Type: EventConnectionStart})

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	target := c.url
	for redirects := 0; ; redirects++ {
		conn, resp, err := dialer.DialContext(ctx, target, c.header)
		if err == nil {
			c.logger.Info("Connection established", slog.String("url", redactQuery(target)))
			return c.established(conn), nil
		}

		if resp == nil {
			c.setState(StateDisconnected)
			c.emit(ConnectionEvent{Type: EventConnectionEstablishError, Reason: err.Error()})
			return OpenResponse{}, fmt.Errorf("dial %s: %w", redactQuery(target), err)
		}
		resp.Body.Close()

		location := resp.Header.Get("Location")
		if isRedirect(resp.StatusCode) && location != "" && redirects < c.cfg.MaxRedirects {
			next, rerr := resolveRedirect(target, location)
			if rerr != nil {
				c.setState(StateDisconnected)
				return OpenResponse{}, rerr
			}
			c.logger.Debug("Following redirect",
				slog.Int("status", resp.StatusCode),
				slog.String("location", redactQuery(next)))
			target = next
			continue
		}

		c.setState(StateDisconnected)
		open := OpenResponse{StatusCode: resp.StatusCode, Reason: resp.Status}
		c.emit(ConnectionEvent{Type: EventConnectionEstablishError, StatusCode: open.StatusCode, Reason: open.Reason})
		c.logger.Warn("Connection rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("reason", resp.Status))
		return open, nil
	}
}

func (c *WebsocketConnection) established(conn *websocket.Conn) OpenResponse {
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		c.logger.Debug("Pong received")
		return nil
	})

	go c.readLoop(conn)
	if c.cfg.PingInterval > 0 {
		go c.keepAlive()
	}

	open := OpenResponse{StatusCode: StatusOK, Reason: "Connected"}
	c.emit(ConnectionEvent{Type: EventConnectionEstablished, StatusCode: open.StatusCode})
	return open
}

// Send encodes m by its type and writes it as one websocket frame
func (c *WebsocketConnection) Send(ctx context.Context, m *protocol.Message) error {
	conn, err := c.activeConn()
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		frameType int
		payload   []byte
	)
	switch m.Type {
	case protocol.MessageTypeBinary:
		frameType = websocket.BinaryMessage
		payload, err = protocol.EncodeBinary(m)
	default:
		frameType = websocket.TextMessage
		var text string
		text, err = protocol.EncodeText(m)
		payload = []byte(text)
	}
	if err != nil {
		return fmt.Errorf("encode %s message: %w", m.Path(), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(frameType, payload); err != nil {
		return fmt.Errorf("write %s message: %w", m.Path(), err)
	}

	c.emit(ConnectionEvent{Type: EventMessageSent, Path: m.Path()})
	return nil
}

// Read returns the next decoded inbound message
func (c *WebsocketConnection) Read(ctx context.Context) (*protocol.Message, error) {
	if _, err := c.activeConn(); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnectionClosed
	case res := <-c.incoming:
		return res.msg, res.err
	}
}

// Close sends a close frame and releases the socket. It is idempotent.
func (c *WebsocketConnection) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.state = StateDisconnected
		c.mu.Unlock()

		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.cfg.WriteTimeout))
			c.closeErr = conn.Close()
			c.writeMu.Unlock()
		}
		close(c.done)

		c.emit(ConnectionEvent{Type: EventConnectionClosed})
		c.mu.Lock()
		c.eventsClosed = true
		close(c.events)
		c.mu.Unlock()

		c.logger.Debug("Connection closed")
	})
	return c.closeErr
}

func (c *WebsocketConnection) activeConn() (wsConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == StateDisconnected:
		return nil, ErrConnectionClosed
	case c.conn == nil:
		return nil, ErrNotOpen
	}
	return c.conn, nil
}

func (c *WebsocketConnection) readLoop(conn wsConn) {
	for {
		frameType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Debug("Read loop ended", slog.String("error", err.Error()))
			}
			c.deliver(readResult{err: fmt.Errorf("%w: %v", ErrConnectionClosed, err)})
			return
		}

		var msg *protocol.Message
		switch frameType {
		case websocket.BinaryMessage:
			msg, err = protocol.DecodeBinary(data)
		default:
			msg, err = protocol.DecodeText(string(data))
		}
		if err != nil {
			c.logger.Warn("Malformed frame from service", slog.String("error", err.Error()))
			c.deliver(readResult{err: fmt.Errorf("read frame: %w", err)})
			return
		}

		c.emit(ConnectionEvent{Type: EventMessageReceived, Path: msg.Path()})
		if !c.deliver(readResult{msg: msg}) {
			return
		}
	}
}

func (c *WebsocketConnection) deliver(res readResult) bool {
	select {
	case c.incoming <- res:
		return true
	case <-c.done:
		return false
	}
}

func (c *WebsocketConnection) keepAlive() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			conn, err := c.activeConn()
			if err != nil {
				return
			}
			c.writeMu.Lock()
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("Ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (c *WebsocketConnection) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// emit never blocks; events are dropped when nobody drains the channel
func (c *WebsocketConnection) emit(ev ConnectionEvent) {
	ev.ConnectionID = c.id
	ev.Time = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// resolveRedirect resolves location against current and maps http(s) to ws(s)
func resolveRedirect(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse redirect location %q: %w", location, err)
	}

	next := base.ResolveReference(ref)
	switch next.Scheme {
	case "http":
		next.Scheme = "ws"
	case "https":
		next.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported redirect scheme %q", next.Scheme)
	}
	return next.String(), nil
}

func redactQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}

var _ Connection = (*WebsocketConnection)(nil)

// IsClosed reports whether err came from a closed connection
func IsClosed(err error) bool {
	return errors.Is(err, ErrConnectionClosed)
}
