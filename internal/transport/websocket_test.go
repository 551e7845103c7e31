package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/speech-session-engine/internal/protocol"
)

var upgrader = websocket.Upgrader{}

// echoService answers every text frame with a turn.start carrying the same
// request id and every binary frame with its body length in a text frame
func echoService(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/speech", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderSubscriptionKey) != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			frameType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var in *protocol.Message
			if frameType == websocket.BinaryMessage {
				in, err = protocol.DecodeBinary(data)
			} else {
				in, err = protocol.DecodeText(string(data))
			}
			if err != nil {
				return
			}

			reply := protocol.NewTextMessage(protocol.PathTurnStart, in.RequestID(), protocol.ContentTypeJSON, in.BodyText())
			frame, _ := protocol.EncodeText(reply)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/speech", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})

	return httptest.NewServer(mux)
}

func wsURL(s *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + path
}

func authHeader(key string) http.Header {
	h := http.Header{}
	h.Set(HeaderSubscriptionKey, key)
	return h
}

func TestWebsocketConnectionRoundTrip(t *testing.T) {
	server := echoService(t)
	defer server.Close()

	conn := NewWebsocketConnection("c1", wsURL(server, "/speech"), authHeader("secret"), DefaultWebsocketConfig(), nil)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	open, err := conn.Open(ctx)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if open.StatusCode != StatusOK {
		t.Fatalf("Expected status 200, got %d (%s)", open.StatusCode, open.Reason)
	}
	if conn.State() != StateConnected {
		t.Errorf("Expected state connected, got %s", conn.State())
	}

	tests := []struct {
		name string
		msg  *protocol.Message
		body string
	}{
		{name: "text", msg: protocol.NewTextMessage(protocol.PathSpeechContext, "r1", protocol.ContentTypeJSON, `{"a":1}`), body: `{"a":1}`},
		{name: "binary", msg: protocol.NewBinaryMessage(protocol.PathAudio, "r2", protocol.ContentTypeAudio, []byte("pcm")), body: "pcm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.Send(ctx, tt.msg); err != nil {
				t.Fatalf("Send failed: %v", err)
			}
			reply, err := conn.Read(ctx)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if reply.Path() != protocol.PathTurnStart {
				t.Errorf("Expected path %s, got %s", protocol.PathTurnStart, reply.Path())
			}
			if reply.RequestID() != tt.msg.RequestID() {
				t.Errorf("Expected request id %s, got %s", tt.msg.RequestID(), reply.RequestID())
			}
			if reply.TextBody != tt.body {
				t.Errorf("Expected body %q, got %q", tt.body, reply.TextBody)
			}
		})
	}
}

func TestWebsocketConnectionRejected(t *testing.T) {
	server := echoService(t)
	defer server.Close()

	conn := NewWebsocketConnection("c2", wsURL(server, "/speech"), authHeader("wrong"), DefaultWebsocketConfig(), nil)
	defer conn.Close()

	open, err := conn.Open(context.Background())
	if err != nil {
		t.Fatalf("Expected rejection as a status, got error %v", err)
	}
	if open.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", open.StatusCode)
	}
	if _, err := conn.Read(context.Background()); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed on rejected connection, got %v", err)
	}
}

func TestWebsocketConnectionFollowsRedirect(t *testing.T) {
	server := echoService(t)
	defer server.Close()

	conn := NewWebsocketConnection("c3", wsURL(server, "/old"), authHeader("secret"), DefaultWebsocketConfig(), nil)
	defer conn.Close()

	open, err := conn.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if open.StatusCode != StatusOK {
		t.Errorf("Expected redirect to be followed, got status %d", open.StatusCode)
	}
}

func TestWebsocketConnectionRedirectLimit(t *testing.T) {
	server := echoService(t)
	defer server.Close()

	conn := NewWebsocketConnection("c4", wsURL(server, "/loop"), authHeader("secret"), DefaultWebsocketConfig(), nil)
	defer conn.Close()

	open, err := conn.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if open.StatusCode != http.StatusFound {
		t.Errorf("Expected final status 302 after redirect limit, got %d", open.StatusCode)
	}
}

func TestWebsocketConnectionDialError(t *testing.T) {
	server := echoService(t)
	target := wsURL(server, "/speech")
	server.Close()

	conn := NewWebsocketConnection("c5", target, authHeader("secret"), DefaultWebsocketConfig(), nil)
	if _, err := conn.Open(context.Background()); err == nil {
		t.Error("Expected dial error against a closed server")
	}
	if conn.State() != StateDisconnected {
		t.Errorf("Expected disconnected state, got %s", conn.State())
	}
}

func TestWebsocketConnectionCloseIdempotent(t *testing.T) {
	server := echoService(t)
	defer server.Close()

	conn := NewWebsocketConnection("c6", wsURL(server, "/speech"), authHeader("secret"), DefaultWebsocketConfig(), nil)
	if _, err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	conn.Close()
	conn.Close()

	msg := protocol.NewTextMessage(protocol.PathSpeechContext, "r", "", "{}")
	if err := conn.Send(context.Background(), msg); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed from Send, got %v", err)
	}
	if _, err := conn.Open(context.Background()); err == nil {
		t.Error("Expected a closed connection to refuse reopening")
	}

	var sawClosed bool
	for ev := range conn.Events() {
		if ev.Type == EventConnectionClosed {
			sawClosed = true
		}
	}
	if !sawClosed {
		t.Error("Expected a ConnectionClosed event before the channel closed")
	}
}

func TestSendBeforeOpen(t *testing.T) {
	conn := NewWebsocketConnection("c7", "ws://127.0.0.1:1/speech", nil, DefaultWebsocketConfig(), nil)
	msg := protocol.NewTextMessage(protocol.PathSpeechContext, "r", "", "{}")
	if err := conn.Send(context.Background(), msg); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Expected ErrNotOpen, got %v", err)
	}
}

func TestResolveRedirect(t *testing.T) {
	tests := []struct {
		current  string
		location string
		expected string
	}{
		{"wss://a.example/speech?x=1", "/other", "wss://a.example/other"},
		{"ws://a.example/speech", "https://b.example/speech", "wss://b.example/speech"},
		{"ws://a.example/speech", "http://b.example/speech", "ws://b.example/speech"},
	}

	for _, tt := range tests {
		got, err := resolveRedirect(tt.current, tt.location)
		if err != nil {
			t.Errorf("resolveRedirect(%q, %q) failed: %v", tt.current, tt.location, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("resolveRedirect(%q, %q): expected %s, got %s", tt.current, tt.location, tt.expected, got)
		}
	}

	if _, err := resolveRedirect("ws://a.example", "ftp://b.example"); err == nil {
		t.Error("Expected error for unsupported redirect scheme")
	}
}

func TestMalformedFrameFailsRead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// a binary frame whose header length exceeds the frame
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x00, 0x40, 'P'}); err != nil {
			return
		}
		conn.ReadMessage()
	}))
	defer server.Close()

	conn := NewWebsocketConnection("c8", wsURL(server, "/speech"), nil, DefaultWebsocketConfig(), nil)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := conn.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_, err := conn.Read(ctx)
	if !errors.Is(err, protocol.ErrMalformedFrame) {
		t.Errorf("Expected ErrMalformedFrame from Read, got %v", err)
	}
}
