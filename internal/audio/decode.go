package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/wav"
)

// WAVInfo is the format read from a WAV header.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DecodeWAV decodes WAV bytes and returns interleaved float32 samples in
// [-1, 1] together with the header format.
func DecodeWAV(data []byte) ([]float32, WAVInfo, error) {
	if len(data) == 0 {
		return nil, WAVInfo{}, fmt.Errorf("empty WAV input: %w", ErrInvalidAudio)
	}

	r := bytes.NewReader(data)
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, WAVInfo{}, fmt.Errorf("invalid WAV file: %w", ErrInvalidAudio)
	}

	info := WAVInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if info.SampleRate <= 0 || info.Channels < 1 || info.Channels > maxChannels {
		return nil, info, fmt.Errorf("WAV header %+v: %w", info, ErrInvalidAudio)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, info, fmt.Errorf("reading PCM data: %v: %w", err, ErrInvalidAudio)
	}

	return buf.Data, info, nil
}

// Decode turns a payload into a mono clip. Multi-channel input is downmixed
// by averaging. WAV headers must agree with any non-zero rate or channel
// count given in cfg.
func Decode(data []byte, cfg Config) (Clip, error) {
	if err := cfg.Validate(); err != nil {
		return Clip{}, err
	}

	switch cfg.Format {
	case FormatWAV:
		samples, info, err := DecodeWAV(data)
		if err != nil {
			return Clip{}, err
		}
		if cfg.SampleRate != 0 && cfg.SampleRate != info.SampleRate {
			return Clip{}, fmt.Errorf("WAV sample rate %d, config says %d: %w", info.SampleRate, cfg.SampleRate, ErrInvalidAudio)
		}
		if cfg.Channels != 0 && cfg.Channels != info.Channels {
			return Clip{}, fmt.Errorf("WAV channels %d, config says %d: %w", info.Channels, cfg.Channels, ErrInvalidAudio)
		}

		return Clip{Samples: Downmix(samples, info.Channels), SampleRate: info.SampleRate}, nil
	default:
		samples, err := decodePCM(data, cfg.BitsPerSample, cfg.Channels)
		if err != nil {
			return Clip{}, err
		}

		return Clip{Samples: Downmix(samples, cfg.Channels), SampleRate: cfg.SampleRate}, nil
	}
}

func decodePCM(data []byte, bits, channels int) ([]float32, error) {
	frame := bits / 8 * channels
	if len(data)%frame != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of %d-byte frames: %w", len(data), frame, ErrInvalidAudio)
	}

	width := bits / 8
	out := make([]float32, len(data)/width)
	for i := range out {
		chunk := data[i*width : (i+1)*width]
		switch bits {
		case 16:
			out[i] = float32(int16(binary.LittleEndian.Uint16(chunk))) / 32768
		case 32:
			v := math.Float32frombits(binary.LittleEndian.Uint32(chunk))
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return nil, fmt.Errorf("sample %d is not finite: %w", i, ErrInvalidAudio)
			}
			out[i] = v
		default:
			return nil, errors.New("unreachable bit depth")
		}
	}

	return out, nil
}

// Downmix averages interleaved channels into one. Mono input is returned as is.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}

	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for f := range frames {
		var sum float32
		for c := range channels {
			sum += interleaved[f*channels+c]
		}
		out[f] = sum / float32(channels)
	}

	return out
}
