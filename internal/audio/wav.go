package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// WAVHeaderSize is the size of a canonical PCM RIFF/WAVE header
const WAVHeaderSize = 44

// WAVHeader is the canonical 44-byte RIFF/WAVE header
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8, zero when streaming
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // data size, zero when streaming
}

// Header returns a streaming RIFF header for f. Both length fields are zero
// since the total length is unknown while audio is still being captured.
func (f Format) Header() []byte {
	h := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SamplesPerSec),
		ByteRate:      uint32(f.AvgBytesPerSec()),
		BlockAlign:    uint16(f.BlockAlign()),
		BitsPerSample: uint16(f.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize))
	// writes to a bytes.Buffer cannot fail
	_ = binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// ParseWAVHeader reads RIFF chunks from r up to the start of the data chunk
// and returns the PCM format and the declared data size. Chunks other than
// "fmt " and "data" are skipped.
func ParseWAVHeader(r io.Reader) (Format, uint32, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, 0, fmt.Errorf("WAV data too short: %w", err)
	}
	if string(riff[0:4]) != "RIFF" {
		return Format{}, 0, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(riff[8:12]) != "WAVE" {
		return Format{}, 0, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		format  Format
		haveFmt bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Format{}, 0, fmt.Errorf("invalid WAV file: missing data chunk: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, 0, fmt.Errorf("invalid WAV file: fmt chunk too short: %d bytes", size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, 0, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if audioFormat := binary.LittleEndian.Uint16(body[0:2]); audioFormat != 1 {
				return Format{}, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", audioFormat)
			}
			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(body[2:4])),
				SamplesPerSec: int(binary.LittleEndian.Uint32(body[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Format{}, 0, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			if err := format.Validate(); err != nil {
				return Format{}, 0, fmt.Errorf("invalid WAV format: %w", err)
			}
			return format, size, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return Format{}, 0, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}

// DecodeWAV splits a WAV file into its format and PCM payload. A zero or
// oversized data length (streaming header) takes everything after the header.
func DecodeWAV(data []byte) (Format, []byte, error) {
	r := bytes.NewReader(data)
	format, size, err := ParseWAVHeader(r)
	if err != nil {
		return Format{}, nil, err
	}

	start := len(data) - r.Len()
	end := len(data)
	if size != 0 && int64(size) <= int64(r.Len()) {
		end = start + int(size)
	}
	return format, data[start:end], nil
}
