package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	crlf = "\r\n"

	// BinaryHeaderPrefixSize is the size of the big-endian header length prefix
	BinaryHeaderPrefixSize = 2

	// MaxHeaderBlockSize is the largest header block a binary frame can carry
	MaxHeaderBlockSize = 0xFFFF
)

var (
	// ErrMalformedFrame is returned when an inbound frame cannot be parsed
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrInvalidHeader is returned when a header cannot be serialized
	ErrInvalidHeader = errors.New("invalid header")
)

// EncodeText serializes m as a text frame: header lines, a blank line, then the body
func EncodeText(m *Message) (string, error) {
	block, err := headerBlock(&m.Headers)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.Grow(len(block) + len(crlf) + len(m.TextBody))
	sb.WriteString(block)
	sb.WriteString(crlf)
	sb.WriteString(m.TextBody)
	return sb.String(), nil
}

// DecodeText parses a text frame. Without a blank-line separator the whole
// frame is treated as headers with an empty body.
func DecodeText(frame string) (*Message, error) {
	m := &Message{
		ID:   NewID(),
		Type: MessageTypeText,
	}

	head, body := frame, ""
	if strings.HasPrefix(frame, crlf) {
		head, body = "", frame[len(crlf):]
	} else if idx := strings.Index(frame, crlf+crlf); idx >= 0 {
		head, body = frame[:idx], frame[idx+2*len(crlf):]
	}

	headers, err := parseHeaders(head)
	if err != nil {
		return nil, err
	}
	m.Headers = headers
	m.TextBody = body
	return m, nil
}

// EncodeBinary serializes m as a binary frame:
// [u16 big-endian header length][header block][body]
func EncodeBinary(m *Message) ([]byte, error) {
	block, err := headerBlock(&m.Headers)
	if err != nil {
		return nil, err
	}
	if len(block) > MaxHeaderBlockSize {
		return nil, fmt.Errorf("%w: header block too large: %d bytes, max %d",
			ErrInvalidHeader, len(block), MaxHeaderBlockSize)
	}

	frame := make([]byte, BinaryHeaderPrefixSize+len(block)+len(m.BinaryBody))
	binary.BigEndian.PutUint16(frame[0:2], uint16(len(block)))
	copy(frame[BinaryHeaderPrefixSize:], block)
	copy(frame[BinaryHeaderPrefixSize+len(block):], m.BinaryBody)
	return frame, nil
}

// DecodeBinary parses a binary frame
func DecodeBinary(frame []byte) (*Message, error) {
	if len(frame) < BinaryHeaderPrefixSize {
		return nil, fmt.Errorf("%w: frame too short: expected at least %d bytes, got %d",
			ErrMalformedFrame, BinaryHeaderPrefixSize, len(frame))
	}

	headerLen := int(binary.BigEndian.Uint16(frame[0:2]))
	if len(frame) < BinaryHeaderPrefixSize+headerLen {
		return nil, fmt.Errorf("%w: header block truncated: expected %d bytes, got %d",
			ErrMalformedFrame, headerLen, len(frame)-BinaryHeaderPrefixSize)
	}

	headers, err := parseHeaders(string(frame[BinaryHeaderPrefixSize : BinaryHeaderPrefixSize+headerLen]))
	if err != nil {
		return nil, err
	}

	m := &Message{
		ID:      NewID(),
		Type:    MessageTypeBinary,
		Headers: headers,
	}
	if rest := frame[BinaryHeaderPrefixSize+headerLen:]; len(rest) > 0 {
		m.BinaryBody = make([]byte, len(rest))
		copy(m.BinaryBody, rest)
	}
	return m, nil
}

func headerBlock(h *Headers) (string, error) {
	var sb strings.Builder
	for _, k := range h.keys {
		v := h.Value(k)
		if k == "" || strings.ContainsAny(k, ":\r\n") {
			return "", fmt.Errorf("%w: key %q", ErrInvalidHeader, k)
		}
		if strings.ContainsAny(v, "\r\n") {
			return "", fmt.Errorf("%w: value for %q contains a line break", ErrInvalidHeader, k)
		}
		for i := 0; i < len(k); i++ {
			if k[i] > 0x7F {
				return "", fmt.Errorf("%w: key %q is not ASCII", ErrInvalidHeader, k)
			}
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(v)
		sb.WriteString(crlf)
	}
	return sb.String(), nil
}

// parseHeaders splits a header block into lines and each line at its first
// colon. Keys are lower-cased and both sides trimmed.
func parseHeaders(block string) (Headers, error) {
	var h Headers
	for _, line := range strings.Split(block, crlf) {
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return Headers{}, fmt.Errorf("%w: header line without separator: %q", ErrMalformedFrame, line)
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		if key == "" {
			return Headers{}, fmt.Errorf("%w: empty header key in %q", ErrMalformedFrame, line)
		}
		h.Set(key, strings.TrimSpace(line[idx+1:]))
	}
	return h, nil
}
