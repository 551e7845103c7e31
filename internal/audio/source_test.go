package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSourceStreamsPCM(t *testing.T) {
	format := Format{SamplesPerSec: 8000, BitsPerSample: 16, Channels: 1}
	pcm := make([]byte, format.ChunkSize()*2+100)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	path := filepath.Join(t.TempDir(), "input.wav")
	if err := os.WriteFile(path, buildWAV(t, format, pcm, true), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	source, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource failed: %v", err)
	}
	defer source.Close()

	if source.Format() != format {
		t.Errorf("Expected format %s, got %s", format, source.Format())
	}
	if info := source.DeviceInfo(); info.SampleRate != 8000 || info.Type != "File" {
		t.Errorf("Unexpected device info %+v", info)
	}

	node, err := source.Attach(context.Background(), "n1")
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	ctx := context.Background()
	sizes := []int{format.ChunkSize(), format.ChunkSize(), 100}
	for i, want := range sizes {
		c, err := node.Read(ctx)
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if len(c.Buffer) != want {
			t.Errorf("Chunk %d: expected %d bytes, got %d", i, want, len(c.Buffer))
		}
	}

	c, err := node.Read(ctx)
	if err != nil || !c.IsEnd {
		t.Fatalf("Expected terminal chunk, got %v, %v", c, err)
	}
	if _, err := node.Read(ctx); !errors.Is(err, ErrReadEnded) {
		t.Errorf("Expected ErrReadEnded, got %v", err)
	}
	if err := node.Detach(); err != nil {
		t.Errorf("Detach failed: %v", err)
	}
}

func TestFileSourceRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.raw")
	if err := os.WriteFile(path, []byte("not a wav file at all"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := NewFileSource(path); err == nil {
		t.Error("Expected error for non-WAV input")
	}
}

func TestFileSourceAttachAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.wav")
	os.WriteFile(path, DefaultFormat().Header(), 0o644)

	source, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource failed: %v", err)
	}
	source.Close()

	if _, err := source.Attach(context.Background(), "n"); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("Expected ErrSourceClosed, got %v", err)
	}
}

func TestFloatSourceEncodes(t *testing.T) {
	source := NewFloatSource(48000, DefaultFormat())
	node, _ := source.Attach(context.Background(), "n")

	// 100 ms at 48 kHz becomes one 3200-byte chunk at 16 kHz
	if err := source.WriteFrame(make([]float32, 4800)); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	source.Close()

	c, err := node.Read(context.Background())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(c.Buffer) != DefaultFormat().ChunkSize() {
		t.Errorf("Expected %d bytes, got %d", DefaultFormat().ChunkSize(), len(c.Buffer))
	}
	if info := source.DeviceInfo(); info.Type != "Microphones" {
		t.Errorf("Expected microphone device type, got %s", info.Type)
	}
}
