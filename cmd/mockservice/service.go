package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/speech-session-engine/internal/audio"
	"github.com/skypro1111/speech-session-engine/internal/protocol"
	"github.com/skypro1111/speech-session-engine/internal/transport"
)

// mockService answers the speech protocol without recognizing anything.
// Every phrase describes how much audio it covers.
type mockService struct {
	logger *slog.Logger
	// key, when set, must be presented as subscription key or bearer token
	key string
	// segment splits a turn into several phrases; zero means one per turn
	segment time.Duration

	upgrader websocket.Upgrader
}

func (s *mockService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	c := &mockConn{
		svc:     s,
		ws:      conn,
		format:  audio.DefaultFormat(),
		targets: splitTargets(r.URL.Query().Get("to")),
		logger:  s.logger.With(slog.String("connection_id", r.Header.Get(protocol.HeaderConnectionID))),
	}
	c.logger.Info("Client connected", slog.String("path", r.URL.Path))

	if err := c.serve(); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Debug("Connection ended", slog.String("error", err.Error()))
	}
}

func (s *mockService) authorized(r *http.Request) bool {
	if s.key == "" {
		return true
	}
	if r.Header.Get(transport.HeaderSubscriptionKey) == s.key {
		return true
	}
	return r.Header.Get(transport.HeaderAuthorization) == "Bearer "+s.key
}

func splitTargets(to string) []string {
	if to == "" {
		return nil
	}
	return strings.Split(to, ",")
}

// mockConn is the state of one client connection
type mockConn struct {
	svc     *mockService
	ws      *websocket.Conn
	logger  *slog.Logger
	format  audio.Format
	targets []string

	requestID  string
	turnActive bool
	turnBytes  int64
	segStart   int64
}

func (c *mockConn) serve() error {
	for {
		frameType, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}

		var m *protocol.Message
		if frameType == websocket.BinaryMessage {
			m, err = protocol.DecodeBinary(data)
		} else {
			m, err = protocol.DecodeText(string(data))
		}
		if err != nil {
			return fmt.Errorf("decode frame: %w", err)
		}

		if err := c.handle(m); err != nil {
			return err
		}
	}
}

func (c *mockConn) handle(m *protocol.Message) error {
	switch m.Path() {
	case protocol.PathSpeechContext:
		c.requestID = m.RequestID()
		c.turnActive = true
		c.turnBytes, c.segStart = 0, 0
		return c.reply(protocol.PathTurnStart, map[string]any{
			"context": map[string]string{"serviceTag": "mock"},
		})
	case protocol.PathAudio:
		return c.handleAudio(m)
	default:
		c.logger.Debug("Message ignored", slog.String("path", m.Path()))
		return nil
	}
}

func (c *mockConn) handleAudio(m *protocol.Message) error {
	if m.ContentType() == protocol.ContentTypeWAV {
		format, _, err := audio.ParseWAVHeader(bytes.NewReader(m.BinaryBody))
		if err != nil {
			return fmt.Errorf("parse audio header: %w", err)
		}
		c.format = format
		return nil
	}
	if !c.turnActive {
		return nil
	}

	if len(m.BinaryBody) == 0 {
		return c.endTurn()
	}

	if c.turnBytes == 0 {
		if err := c.reply(protocol.PathSpeechStartDetected, map[string]int64{"Offset": 0}); err != nil {
			return err
		}
	}
	c.turnBytes += int64(len(m.BinaryBody))

	if err := c.hypothesis(); err != nil {
		return err
	}
	if c.svc.segment > 0 && c.format.Duration(c.turnBytes-c.segStart) >= c.svc.segment {
		return c.phrase()
	}
	return nil
}

func (c *mockConn) endTurn() error {
	if c.turnBytes > c.segStart {
		if err := c.phrase(); err != nil {
			return err
		}
	}
	if err := c.reply(protocol.PathSpeechEndDetected, map[string]int64{"Offset": c.format.BytesToTicks(c.turnBytes)}); err != nil {
		return err
	}
	c.turnActive = false
	return c.reply(protocol.PathTurnEnd, map[string]any{})
}

func (c *mockConn) describe(n int64) string {
	return fmt.Sprintf("%.1f seconds of audio", c.format.Duration(n).Seconds())
}

func (c *mockConn) translations(text string) map[string]any {
	entries := make([]map[string]string, 0, len(c.targets))
	for _, lang := range c.targets {
		entries = append(entries, map[string]string{"Language": lang, "Text": "[" + lang + "] " + text})
	}
	return map[string]any{"TranslationStatus": "Success", "Translations": entries}
}

func (c *mockConn) hypothesis() error {
	n := c.turnBytes - c.segStart
	body := map[string]any{
		"Text":     c.describe(n),
		"Offset":   c.format.BytesToTicks(c.segStart),
		"Duration": c.format.BytesToTicks(n),
	}
	if c.targets != nil {
		body["Translation"] = c.translations(c.describe(n))
		return c.reply(protocol.PathTranslationHypothesis, body)
	}
	return c.reply(protocol.PathSpeechHypothesis, body)
}

func (c *mockConn) phrase() error {
	n := c.turnBytes - c.segStart
	text := c.describe(n)
	body := map[string]any{
		"RecognitionStatus": "Success",
		"Offset":            c.format.BytesToTicks(c.segStart),
		"Duration":          c.format.BytesToTicks(n),
	}
	c.segStart = c.turnBytes

	if c.targets != nil {
		body["Text"] = text
		body["Translation"] = c.translations(text)
		return c.reply(protocol.PathTranslationPhrase, body)
	}
	body["DisplayText"] = text
	return c.reply(protocol.PathSpeechPhrase, body)
}

func (c *mockConn) reply(path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	frame, err := protocol.EncodeText(protocol.NewTextMessage(path, c.requestID, protocol.ContentTypeJSON, string(payload)))
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}
