package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestEncoderOutputLength(t *testing.T) {
	tests := []struct {
		name     string
		srcRate  int
		dstRate  int
		samples  int
		expected int
	}{
		{name: "48k to 16k", srcRate: 48000, dstRate: 16000, samples: 4800, expected: 1600},
		{name: "44.1k to 16k", srcRate: 44100, dstRate: 16000, samples: 4410, expected: 1600},
		{name: "uneven frame", srcRate: 48000, dstRate: 16000, samples: 1001, expected: 334},
		{name: "passthrough equal", srcRate: 16000, dstRate: 16000, samples: 160, expected: 160},
		{name: "passthrough upsample", srcRate: 8000, dstRate: 16000, samples: 160, expected: 160},
		{name: "empty", srcRate: 48000, dstRate: 16000, samples: 0, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEncoder(tt.srcRate, tt.dstRate)
			out := e.Encode(make([]float32, tt.samples))
			if len(out) != tt.expected*2 {
				t.Errorf("Expected %d bytes, got %d", tt.expected*2, len(out))
			}
		})
	}
}

func TestEncoderQuantize(t *testing.T) {
	e := NewEncoder(16000, 16000)
	out := e.Encode([]float32{0, 1, -1, 2, -2, 0.5})

	expected := []int16{0, 32767, -32768, 32767, -32768, 16383}
	for i, want := range expected {
		got := int16(binary.LittleEndian.Uint16(out[2*i:]))
		if got != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, got)
		}
	}
}

func TestEncoderAveragesWindows(t *testing.T) {
	e := NewEncoder(32000, 16000)
	out := e.Encode([]float32{0.5, 0.5, -0.5, -0.5, 1, 0})

	expected := []int16{16383, -16384, 16383}
	for i, want := range expected {
		got := int16(binary.LittleEndian.Uint16(out[2*i:]))
		if got != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, got)
		}
	}
}

func TestEncoderSineKeepsShape(t *testing.T) {
	const src, dst = 48000, 16000
	samples := make([]float32, src/10)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*100*float64(i)/src))
	}

	out := NewEncoder(src, dst).Encode(samples)
	var peak int16
	for i := 0; i < len(out); i += 2 {
		if v := int16(binary.LittleEndian.Uint16(out[i:])); v > peak {
			peak = v
		}
	}
	if peak < 16000 || peak > 16400 {
		t.Errorf("Expected peak near 16383, got %d", peak)
	}
}

func TestRiffEncoderHeaderOnce(t *testing.T) {
	format := DefaultFormat()
	e := NewRiffEncoder(48000, format)

	first := e.Encode(make([]float32, 480))
	second := e.Encode(make([]float32, 480))

	if len(first) != WAVHeaderSize+160*2 {
		t.Errorf("Expected first output %d bytes, got %d", WAVHeaderSize+160*2, len(first))
	}
	if !bytes.Equal(first[:WAVHeaderSize], format.Header()) {
		t.Error("Expected first output to start with the streaming header")
	}
	if len(second) != 160*2 {
		t.Errorf("Expected second output %d bytes, got %d", 160*2, len(second))
	}
}
