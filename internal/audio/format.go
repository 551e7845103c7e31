package audio

import (
	"fmt"
	"time"
)

// TicksPerSecond is the resolution of service offsets (100 ns units)
const TicksPerSecond = 10_000_000

// Format describes the PCM layout of the audio sent to the service
type Format struct {
	SamplesPerSec int `json:"samples_per_sec" yaml:"samples_per_sec"`
	BitsPerSample int `json:"bits_per_sample" yaml:"bits_per_sample"`
	Channels      int `json:"channels" yaml:"channels"`
}

// DefaultFormat returns 16 kHz, 16-bit, mono PCM
func DefaultFormat() Format {
	return Format{
		SamplesPerSec: 16000,
		BitsPerSample: 16,
		Channels:      1,
	}
}

// Validate checks that the format can be framed as PCM
func (f Format) Validate() error {
	if f.SamplesPerSec <= 0 {
		return fmt.Errorf("samples per second must be positive, got %d", f.SamplesPerSec)
	}
	if f.BitsPerSample != 8 && f.BitsPerSample != 16 && f.BitsPerSample != 32 {
		return fmt.Errorf("unsupported bits per sample: %d", f.BitsPerSample)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", f.Channels)
	}
	return nil
}

// BlockAlign returns the size of one frame across all channels
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// AvgBytesPerSec returns the byte rate of the format
func (f Format) AvgBytesPerSec() int {
	return f.SamplesPerSec * f.BlockAlign()
}

// ChunkSize returns the size of 100 ms of audio
func (f Format) ChunkSize() int {
	return f.AvgBytesPerSec() / 10
}

// Duration returns the playback time of n bytes
func (f Format) Duration(n int64) time.Duration {
	bps := int64(f.AvgBytesPerSec())
	if bps == 0 {
		return 0
	}
	return time.Duration(n * int64(time.Second) / bps)
}

// TicksToBytes converts a service offset to a byte position, rounding down
func (f Format) TicksToBytes(ticks int64) int64 {
	return ticks * int64(f.AvgBytesPerSec()) / TicksPerSecond
}

// BytesToTicks converts a byte position to a service offset
func (f Format) BytesToTicks(n int64) int64 {
	bps := int64(f.AvgBytesPerSec())
	if bps == 0 {
		return 0
	}
	return n * TicksPerSecond / bps
}

// String returns a short description such as "16000Hz/16bit/1ch"
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch", f.SamplesPerSec, f.BitsPerSample, f.Channels)
}
