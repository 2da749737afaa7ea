package testutil

import (
	"encoding/binary"
	"errors"
	"testing"
)

// WAVFormat is the expected header of a PCM WAV file.
type WAVFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// AssertValidWAV checks the RIFF/WAVE markers, a PCM fmt chunk matching
// want and a non-empty data chunk. It returns the number of frames.
func AssertValidWAV(tb testing.TB, data []byte, want WAVFormat) int {
	tb.Helper()

	if len(data) < 44 {
		tb.Fatalf("WAV data too short: %d bytes", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		tb.Fatalf("WAV: missing RIFF header (got %q)", string(data[0:4]))
	}

	if string(data[8:12]) != "WAVE" {
		tb.Fatalf("WAV: missing WAVE marker (got %q)", string(data[8:12]))
	}

	if string(data[12:16]) != "fmt " {
		tb.Fatalf("WAV: missing fmt chunk (got %q)", string(data[12:16]))
	}

	if audioFmt := binary.LittleEndian.Uint16(data[20:22]); audioFmt != 1 {
		tb.Fatalf("WAV: expected PCM format (1), got %d", audioFmt)
	}

	channels := int(binary.LittleEndian.Uint16(data[22:24]))
	if channels != want.Channels {
		tb.Fatalf("WAV: expected %d channels, got %d", want.Channels, channels)
	}

	if rate := int(binary.LittleEndian.Uint32(data[24:28])); rate != want.SampleRate {
		tb.Fatalf("WAV: expected sample rate %d, got %d", want.SampleRate, rate)
	}

	bitDepth := int(binary.LittleEndian.Uint16(data[34:36]))
	if bitDepth != want.BitDepth {
		tb.Fatalf("WAV: expected %d-bit depth, got %d", want.BitDepth, bitDepth)
	}

	dataSize, err := findDataChunkSize(data)
	if err != nil {
		tb.Fatalf("WAV: %v", err)
	}

	if dataSize == 0 {
		tb.Fatal("WAV: data chunk contains zero samples")
	}

	return int(dataSize) / (bitDepth / 8) / channels
}

// findDataChunkSize walks the WAV chunk list to locate the "data" sub-chunk
// and returns its size in bytes.
func findDataChunkSize(data []byte) (uint32, error) {
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])

		size := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		if id == "data" {
			return size, nil
		}

		offset += 8 + int(size)
		// Pad to even boundary.
		if size%2 != 0 {
			offset++
		}
	}

	return 0, errors.New("data chunk not found in WAV")
}
