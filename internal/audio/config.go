// Package audio converts between the byte payloads that cross the bridge and
// the mono float32 sample slices the speech graphs consume and produce.
package audio

import (
	"fmt"
	"strings"

	"github.com/example/go-onnx-bridge/internal/status"
)

// Format identifies the container of an audio payload.
type Format int32

const (
	FormatPCM  Format = 0
	FormatWAV  Format = 1
	FormatMP3  Format = 2
	FormatFLAC Format = 3
	FormatAAC  Format = 4
	FormatOPUS Format = 5
)

func (f Format) String() string {
	switch f {
	case FormatPCM:
		return "pcm"
	case FormatWAV:
		return "wav"
	case FormatMP3:
		return "mp3"
	case FormatFLAC:
		return "flac"
	case FormatAAC:
		return "aac"
	case FormatOPUS:
		return "opus"
	default:
		return fmt.Sprintf("format(%d)", int32(f))
	}
}

// ParseFormat accepts a format name as used on the command line.
func ParseFormat(s string) (Format, error) {
	for f := FormatPCM; f <= FormatOPUS; f++ {
		if strings.EqualFold(strings.TrimSpace(s), f.String()) {
			return f, nil
		}
	}

	return 0, fmt.Errorf("unknown audio format %q: %w", s, ErrInvalidAudio)
}

var (
	ErrInvalidAudio      = fmt.Errorf("invalid audio: %w", status.ErrInvalidParams)
	ErrUnsupportedFormat = fmt.Errorf("unsupported audio format: %w", status.ErrInvalidParams)
)

const maxChannels = 8

// Config describes an audio payload. For WAV input the header wins over
// SampleRate and Channels; zero values are allowed there.
type Config struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Format        Format
}

// Validate rejects configs that cannot be interpreted.
func (c Config) Validate() error {
	switch c.Format {
	case FormatPCM:
		if c.SampleRate <= 0 {
			return fmt.Errorf("sample rate %d: %w", c.SampleRate, ErrInvalidAudio)
		}
		if c.Channels < 1 || c.Channels > maxChannels {
			return fmt.Errorf("channels %d: %w", c.Channels, ErrInvalidAudio)
		}
		if c.BitsPerSample != 16 && c.BitsPerSample != 32 {
			return fmt.Errorf("bits per sample %d (want 16 or 32): %w", c.BitsPerSample, ErrInvalidAudio)
		}
	case FormatWAV:
		if c.SampleRate < 0 || c.Channels < 0 || c.Channels > maxChannels {
			return fmt.Errorf("wav config %+v: %w", c, ErrInvalidAudio)
		}
		if c.BitsPerSample != 0 && c.BitsPerSample != 16 && c.BitsPerSample != 24 && c.BitsPerSample != 32 {
			return fmt.Errorf("bits per sample %d: %w", c.BitsPerSample, ErrInvalidAudio)
		}
	case FormatMP3, FormatFLAC, FormatAAC, FormatOPUS:
		return fmt.Errorf("%s: %w", c.Format, ErrUnsupportedFormat)
	default:
		return fmt.Errorf("%s: %w", c.Format, ErrInvalidAudio)
	}

	return nil
}

// Clip is mono audio at a known sample rate.
type Clip struct {
	Samples    []float32
	SampleRate int
}

// DurationMS returns the clip length in milliseconds, rounded to nearest.
func (c Clip) DurationMS() int64 {
	return DurationMS(len(c.Samples), c.SampleRate)
}

// DurationMS converts a frame count at sampleRate to milliseconds.
func DurationMS(frames, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}

	return (int64(frames)*1000 + int64(sampleRate)/2) / int64(sampleRate)
}
