package audio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSourceClosed is returned when attaching to a closed source
var ErrSourceClosed = errors.New("audio source closed")

// DeviceInfo describes the capture device for the speech.config message
type DeviceInfo struct {
	Type          string `json:"type"`
	Manufacturer  string `json:"manufacturer"`
	Model         string `json:"model"`
	Connectivity  string `json:"connectivity"`
	SampleRate    int    `json:"samplerate"`
	Channels      int    `json:"channelcount"`
	BitsPerSample int    `json:"bitspersample"`
}

// Source is a capture collaborator: it reports its format and device and
// hands out attached nodes that read its chunk stream
type Source interface {
	ID() string
	Format() Format
	DeviceInfo() DeviceInfo
	Attach(ctx context.Context, nodeID string) (AudioNode, error)
	Close() error
}

func deviceInfo(typ string, f Format) DeviceInfo {
	return DeviceInfo{
		Type:          typ,
		Manufacturer:  "speech-session-engine",
		Model:         typ,
		Connectivity:  "Unknown",
		SampleRate:    f.SamplesPerSec,
		Channels:      f.Channels,
		BitsPerSample: f.BitsPerSample,
	}
}

// streamNode reads a stream on behalf of one attached consumer
type streamNode struct {
	id     string
	stream *ChunkedStream
	once   sync.Once
}

func (n *streamNode) ID() string { return n.id }

func (n *streamNode) Read(ctx context.Context) (Chunk, error) {
	return n.stream.Read(ctx)
}

func (n *streamNode) Detach() error {
	n.once.Do(n.stream.ReadEnded)
	return nil
}

// PushStreamSource is fed by the application with PCM already in its format
type PushStreamSource struct {
	id     string
	format Format
	stream *ChunkedStream
}

// NewPushStreamSource creates a source for PCM in format
func NewPushStreamSource(format Format) *PushStreamSource {
	return &PushStreamSource{
		id:     uuid.NewString(),
		format: format,
		stream: NewChunkedStream(format.ChunkSize()),
	}
}

func (s *PushStreamSource) ID() string             { return s.id }
func (s *PushStreamSource) Format() Format         { return s.format }
func (s *PushStreamSource) DeviceInfo() DeviceInfo { return deviceInfo("Stream", s.format) }

// Write pushes PCM bytes
func (s *PushStreamSource) Write(pcm []byte) error {
	return s.stream.Write(pcm)
}

// Close ends the audio; readers observe the terminal chunk
func (s *PushStreamSource) Close() error {
	s.stream.Close()
	return nil
}

// Attach returns a node reading the pushed audio
func (s *PushStreamSource) Attach(ctx context.Context, nodeID string) (AudioNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &streamNode{id: nodeID, stream: s.stream}, nil
}

// FloatSource accepts float frames at the capture rate and encodes them to
// 16-bit PCM in the target format
type FloatSource struct {
	*PushStreamSource
	encoder *Encoder
}

// NewFloatSource creates a source resampling from captureRate to format
func NewFloatSource(captureRate int, format Format) *FloatSource {
	format.BitsPerSample = 16
	return &FloatSource{
		PushStreamSource: NewPushStreamSource(format),
		encoder:          NewEncoder(captureRate, format.SamplesPerSec),
	}
}

func (s *FloatSource) DeviceInfo() DeviceInfo { return deviceInfo("Microphones", s.format) }

// WriteFrame encodes and pushes one captured frame
func (s *FloatSource) WriteFrame(samples []float32) error {
	return s.PushStreamSource.Write(s.encoder.Encode(samples))
}

// FileSource streams the PCM payload of a WAV file
type FileSource struct {
	id     string
	path   string
	format Format

	mu     sync.Mutex
	closed bool
	files  []*os.File
}

// NewFileSource opens path and validates its WAV header
func NewFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	format, _, err := ParseWAVHeader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &FileSource{
		id:     uuid.NewString(),
		path:   path,
		format: format,
	}, nil
}

func (s *FileSource) ID() string             { return s.id }
func (s *FileSource) Format() Format         { return s.format }
func (s *FileSource) DeviceInfo() DeviceInfo { return deviceInfo("File", s.format) }

// Attach opens an independent reader positioned at the start of the PCM data
func (s *FileSource) Attach(ctx context.Context, nodeID string) (AudioNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSourceClosed
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	r := bufio.NewReader(f)
	if _, _, err := ParseWAVHeader(r); err != nil {
		f.Close()
		return nil, err
	}
	s.files = append(s.files, f)

	return &fileNode{
		id:        nodeID,
		file:      f,
		reader:    r,
		chunkSize: s.format.ChunkSize(),
	}, nil
}

// Close closes every attached file
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, f := range s.files {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.files = nil
	return errors.Join(errs...)
}

type fileNode struct {
	id        string
	file      *os.File
	reader    io.Reader
	chunkSize int

	mu    sync.Mutex
	ended bool
}

func (n *fileNode) ID() string { return n.id }

func (n *fileNode) Read(ctx context.Context) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ended {
		return Chunk{}, ErrReadEnded
	}

	buf := make([]byte, n.chunkSize)
	read, err := io.ReadFull(n.reader, buf)
	if read > 0 {
		return Chunk{Buffer: buf[:read], TimeReceived: time.Now()}, nil
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		n.ended = true
		return Chunk{IsEnd: true, TimeReceived: time.Now()}, nil
	}
	return Chunk{}, fmt.Errorf("failed to read audio file: %w", err)
}

func (n *fileNode) Detach() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = true
	if err := n.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
