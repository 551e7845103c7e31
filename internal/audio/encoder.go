package audio

import "math"

// Encoder converts float samples in [-1, 1] captured at srcRate into 16-bit
// little-endian PCM at dstRate. Rates at or above the source are passed
// through without resampling.
type Encoder struct {
	srcRate int
	dstRate int
}

// NewEncoder creates an encoder from srcRate to dstRate
func NewEncoder(srcRate, dstRate int) *Encoder {
	return &Encoder{srcRate: srcRate, dstRate: dstRate}
}

// Encode resamples and quantizes one frame
func (e *Encoder) Encode(samples []float32) []byte {
	return quantize(e.downsample(samples))
}

func (e *Encoder) downsample(samples []float32) []float32 {
	if e.dstRate >= e.srcRate || e.dstRate <= 0 {
		return samples
	}

	ratio := float64(e.srcRate) / float64(e.dstRate)
	n := int(math.Round(float64(len(samples)) / ratio))
	out := make([]float32, n)

	offset := 0
	for i := 0; i < n; i++ {
		next := int(math.Round(float64(i+1) * ratio))
		if next > len(samples) {
			next = len(samples)
		}

		var (
			accum float64
			count int
		)
		for j := offset; j < next; j++ {
			accum += float64(samples[j])
			count++
		}
		if count > 0 {
			out[i] = float32(accum / float64(count))
		}
		offset = next
	}
	return out
}

func quantize(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		var pcm int16
		if v < 0 {
			pcm = int16(v * 0x8000)
		} else {
			pcm = int16(v * 0x7FFF)
		}
		out[2*i] = byte(pcm)
		out[2*i+1] = byte(uint16(pcm) >> 8)
	}
	return out
}

// RiffEncoder is an Encoder whose first output is prefixed with a streaming
// RIFF header for the destination format
type RiffEncoder struct {
	*Encoder
	format        Format
	headerWritten bool
}

// NewRiffEncoder creates an encoder producing a WAV stream in format
func NewRiffEncoder(srcRate int, format Format) *RiffEncoder {
	return &RiffEncoder{
		Encoder: NewEncoder(srcRate, format.SamplesPerSec),
		format:  format,
	}
}

// Encode resamples one frame, prefixing the header on the first call
func (e *RiffEncoder) Encode(samples []float32) []byte {
	pcm := e.Encoder.Encode(samples)
	if e.headerWritten {
		return pcm
	}
	e.headerWritten = true
	return append(e.format.Header(), pcm...)
}
