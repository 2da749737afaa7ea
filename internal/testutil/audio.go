package testutil

import (
	"bytes"
	"testing"

	"github.com/example/go-onnx-bridge/internal/audio"
)

// Silence returns ms milliseconds of zeros at rate.
func Silence(rate, ms int) []float32 {
	return make([]float32, rate*ms/1000)
}

// Utterance renders text for the fake recognizer: every letter holds its
// token level for four frames followed by one silent frame, and a space
// holds the word-boundary level. Other runes are skipped.
func Utterance(text string) []float32 {
	var out []float32
	for _, r := range text {
		var id int
		switch {
		case r == ' ':
			id = 1
		case r >= 'a' && r <= 'z':
			id = int(r-'a') + 2
		default:
			continue
		}

		level := float32(id) * ASRLevel
		for range 4 * ASRFrame {
			out = append(out, level)
		}
		out = append(out, make([]float32, ASRFrame)...)
	}

	return out
}

// PCM16 encodes samples as little-endian 16-bit PCM.
func PCM16(tb testing.TB, samples []float32) []byte {
	tb.Helper()

	var buf bytes.Buffer
	if _, err := audio.WritePCM16Samples(&buf, samples); err != nil {
		tb.Fatalf("encode pcm16: %v", err)
	}

	return buf.Bytes()
}

// WAV encodes mono samples as a 16-bit WAV file.
func WAV(tb testing.TB, samples []float32, rate int) []byte {
	tb.Helper()

	data, err := audio.EncodeWAV(samples, rate, 1, 16)
	if err != nil {
		tb.Fatalf("encode wav: %v", err)
	}

	return data
}
