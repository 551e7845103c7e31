package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name        string
		frame       string
		headers     map[string]string
		body        string
		expectError bool
	}{
		{
			name:    "single header with body",
			frame:   "a:b\r\n\r\nbody",
			headers: map[string]string{"a": "b"},
			body:    "body",
		},
		{
			name:    "keys lower-cased and trimmed",
			frame:   "Path : speech.phrase\r\nX-RequestId:  abc \r\n\r\n{}",
			headers: map[string]string{"path": "speech.phrase", "x-requestid": "abc"},
			body:    "{}",
		},
		{
			name:    "value split at first colon only",
			frame:   "X-Timestamp: 2024-01-01T10:00:00.000Z\r\n\r\n",
			headers: map[string]string{"x-timestamp": "2024-01-01T10:00:00.000Z"},
			body:    "",
		},
		{
			name:    "no separator means headers only",
			frame:   "path: turn.start",
			headers: map[string]string{"path": "turn.start"},
			body:    "",
		},
		{
			name:    "body may contain blank lines",
			frame:   "path: x\r\n\r\nline1\r\n\r\nline2",
			headers: map[string]string{"path": "x"},
			body:    "line1\r\n\r\nline2",
		},
		{
			name:    "no headers",
			frame:   "\r\nonly body",
			headers: map[string]string{},
			body:    "only body",
		},
		{
			name:        "line without colon",
			frame:       "path speech.phrase\r\n\r\n{}",
			expectError: true,
		},
		{
			name:        "empty key",
			frame:       ": value\r\n\r\n",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := DecodeText(tt.frame)
			if tt.expectError {
				if err == nil {
					t.Fatalf("Expected error but got none")
				}
				if !errors.Is(err, ErrMalformedFrame) {
					t.Errorf("Expected ErrMalformedFrame, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if m.Type != MessageTypeText {
				t.Errorf("Expected text message, got %s", m.Type)
			}
			if m.Headers.Len() != len(tt.headers) {
				t.Errorf("Expected %d headers, got %d (%v)", len(tt.headers), m.Headers.Len(), m.Headers.Keys())
			}
			for k, v := range tt.headers {
				if got, ok := m.Headers.Get(k); !ok || got != v {
					t.Errorf("Expected header %s=%q, got %q (present=%v)", k, v, got, ok)
				}
			}
			if m.TextBody != tt.body {
				t.Errorf("Expected body %q, got %q", tt.body, m.TextBody)
			}
		})
	}
}

func TestEncodeText(t *testing.T) {
	m := &Message{Type: MessageTypeText, TextBody: "{\"a\":1}"}
	m.Headers.Set(HeaderPath, PathSpeechContext)
	m.Headers.Set(HeaderRequestID, "r1")

	frame, err := EncodeText(m)
	if err != nil {
		t.Fatalf("EncodeText failed: %v", err)
	}

	expected := "Path: speech.context\r\nX-RequestId: r1\r\n\r\n{\"a\":1}"
	if frame != expected {
		t.Errorf("Expected frame %q, got %q", expected, frame)
	}
}

func TestTextRoundTrip(t *testing.T) {
	m := NewTextMessage(PathSpeechConfig, "abc123", ContentTypeJSON, `{"context":{}}`)

	frame, err := EncodeText(m)
	if err != nil {
		t.Fatalf("EncodeText failed: %v", err)
	}
	decoded, err := DecodeText(frame)
	if err != nil {
		t.Fatalf("DecodeText failed: %v", err)
	}

	if !decoded.Headers.Equal(&m.Headers) {
		t.Errorf("Expected headers %v, got %v", m.Headers.Keys(), decoded.Headers.Keys())
	}
	if decoded.TextBody != m.TextBody {
		t.Errorf("Expected body %q, got %q", m.TextBody, decoded.TextBody)
	}
	if decoded.Path() != PathSpeechConfig {
		t.Errorf("Expected path %s, got %s", PathSpeechConfig, decoded.Path())
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{name: "audio payload", body: []byte{1, 2, 3, 0xFF, 0x00}},
		{name: "empty end-of-stream payload", body: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewBinaryMessage(PathAudio, "req", ContentTypeWAV, tt.body)

			frame, err := EncodeBinary(m)
			if err != nil {
				t.Fatalf("EncodeBinary failed: %v", err)
			}

			headerLen := int(binary.BigEndian.Uint16(frame[0:2]))
			if len(frame) != BinaryHeaderPrefixSize+headerLen+len(tt.body) {
				t.Errorf("Expected frame length %d, got %d", BinaryHeaderPrefixSize+headerLen+len(tt.body), len(frame))
			}

			decoded, err := DecodeBinary(frame)
			if err != nil {
				t.Fatalf("DecodeBinary failed: %v", err)
			}
			if decoded.Type != MessageTypeBinary {
				t.Errorf("Expected binary message, got %s", decoded.Type)
			}
			if !decoded.Headers.Equal(&m.Headers) {
				t.Errorf("Expected headers %v, got %v", m.Headers.Keys(), decoded.Headers.Keys())
			}
			if !bytes.Equal(decoded.BinaryBody, tt.body) {
				t.Errorf("Expected body %v, got %v", tt.body, decoded.BinaryBody)
			}
		})
	}
}

func TestDecodeBinaryMalformed(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		errorMsg string
	}{
		{name: "empty", data: []byte{}, errorMsg: "frame too short"},
		{name: "one byte", data: []byte{0x00}, errorMsg: "frame too short"},
		{name: "header length beyond buffer", data: []byte{0x00, 0x10, 'a', ':', 'b'}, errorMsg: "header block truncated"},
		{name: "header line without colon", data: append([]byte{0x00, 0x03}, []byte("abc")...), errorMsg: "without separator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBinary(tt.data)
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("Expected ErrMalformedFrame, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestEncodeRejectsInvalidHeaders(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "colon in key", key: "a:b", value: "v"},
		{name: "line break in value", key: "a", value: "v\r\nInjected: x"},
		{name: "non-ascii key", key: "ключ", value: "v"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Type: MessageTypeBinary}
			m.Headers.Set(tt.key, tt.value)
			if _, err := EncodeBinary(m); !errors.Is(err, ErrInvalidHeader) {
				t.Errorf("Expected ErrInvalidHeader, got %v", err)
			}
			if _, err := EncodeText(m); !errors.Is(err, ErrInvalidHeader) {
				t.Errorf("Expected ErrInvalidHeader from text encoder, got %v", err)
			}
		})
	}
}

func TestEncodeBinaryHeaderTooLarge(t *testing.T) {
	m := &Message{Type: MessageTypeBinary}
	m.Headers.Set("X-Large", strings.Repeat("a", MaxHeaderBlockSize))

	if _, err := EncodeBinary(m); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("Expected ErrInvalidHeader for oversized header block, got %v", err)
	}
}
