package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/resample"
	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// OutputConfig fills the zero fields of cfg for a clip at sampleRate (mono,
// 16 bit) and validates the result. A set SampleRate must match; there is
// no resampling on output.
func OutputConfig(cfg Config, sampleRate int) (Config, error) {
	if sampleRate <= 0 {
		return Config{}, fmt.Errorf("clip sample rate %d: %w", sampleRate, ErrInvalidAudio)
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = sampleRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.BitsPerSample == 0 {
		cfg.BitsPerSample = 16
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.SampleRate != sampleRate {
		return Config{}, fmt.Errorf("output rate %d differs from model rate %d: %w", cfg.SampleRate, sampleRate, ErrInvalidAudio)
	}
	if cfg.Format == FormatWAV && cfg.BitsPerSample == 32 {
		return Config{}, fmt.Errorf("32-bit WAV output: %w", ErrUnsupportedFormat)
	}

	return cfg, nil
}

// Encode renders a mono clip in the container and sample layout of cfg.
// More than one channel duplicates the mono signal.
func Encode(clip Clip, cfg Config) ([]byte, error) {
	cfg, err := OutputConfig(cfg, clip.SampleRate)
	if err != nil {
		return nil, err
	}

	samples := Upmix(clip.Samples, cfg.Channels)

	switch cfg.Format {
	case FormatWAV:
		return EncodeWAV(samples, cfg.SampleRate, cfg.Channels, cfg.BitsPerSample)
	default:
		var buf bytes.Buffer
		if cfg.BitsPerSample == 32 {
			_, err := WriteFloat32Samples(&buf, samples)
			return buf.Bytes(), err
		}

		_, err := WritePCM16Samples(&buf, samples)

		return buf.Bytes(), err
	}
}

// resampleMaxDen bounds the rational approximation of a stretch factor so
// the polyphase filter stays small for arbitrary semitone ratios.
const resampleMaxDen = 128

// Resample stretches mono audio by factor through a band-limited polyphase
// resampler: factor 2 halves the length and doubles the pitch on playback.
func Resample(samples []float32, factor float64) ([]float32, error) {
	if factor == 1 || len(samples) == 0 {
		return samples, nil
	}
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return nil, fmt.Errorf("resample factor %v: %w", factor, ErrInvalidAudio)
	}

	r, err := resample.NewForRates(factor, 1,
		resample.WithQuality(resample.QualityBalanced),
		resample.WithMaxDenominator(resampleMaxDen),
	)
	if err != nil {
		return nil, fmt.Errorf("resample factor %v: %w", factor, err)
	}
	up, down := r.Ratio()

	// Zero padding flushes the filter delay out of the tail; the same delay
	// is skipped at the head.
	delay := r.TapsPerPhase() / 2
	in := make([]float64, len(samples)+delay)
	for i, s := range samples {
		in[i] = float64(s)
	}
	y := r.Process(in)

	skip := int(math.Round(float64(r.TapsPerPhase()*up-1) / float64(2*down)))
	out := make([]float32, int(math.Round(float64(len(samples)*up)/float64(down))))
	for i := range out {
		if j := skip + i; j < len(y) {
			out[i] = float32(y[j])
		}
	}

	return out, nil
}

// Upmix duplicates a mono signal into interleaved channels.
func Upmix(mono []float32, channels int) []float32 {
	if channels <= 1 {
		return mono
	}

	out := make([]float32, len(mono)*channels)
	for i, s := range mono {
		for c := range channels {
			out[i*channels+c] = s
		}
	}

	return out
}

// WriteFloat32Samples writes samples as little-endian IEEE 754 floats.
func WriteFloat32Samples(w io.Writer, samples []float32) (int, error) {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}

	return w.Write(buf)
}

// EncodeWAV encodes interleaved float32 samples as integer PCM WAV bytes.
func EncodeWAV(samples []float32, sampleRate, channels, bitDepth int) ([]byte, error) {
	if sampleRate < 1 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	var buf bytes.Buffer

	// wav.NewEncoder requires an io.WriteSeeker; bytes.Buffer is not one.
	sw := &seekBuffer{buf: &buf}

	enc := wav.NewEncoder(sw, sampleRate, bitDepth, channels, 1) // 1 = PCM

	pcmBuf := &goaudio.Float32Buffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: bitDepth,
	}

	if err := enc.Write(pcmBuf); err != nil {
		return nil, fmt.Errorf("writing PCM: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing encoder: %w", err)
	}

	return buf.Bytes(), nil
}

// seekBuffer wraps a bytes.Buffer to satisfy io.WriteSeeker.
type seekBuffer struct {
	buf *bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	// If writing at the end, just append.
	if s.pos == s.buf.Len() {
		n, err := s.buf.Write(p)
		s.pos += n
		return n, err
	}
	// Writing in the middle: overwrite existing bytes.
	data := s.buf.Bytes()
	n := copy(data[s.pos:], p)
	if n < len(p) {
		// Extend the buffer for the remainder.
		data = append(data, p[n:]...)
		// Reset buffer with extended data.
		s.buf.Reset()
		s.buf.Write(data)
		n = len(p)
	}
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int
	switch whence {
	case 0: // io.SeekStart
		newPos = int(offset)
	case 1: // io.SeekCurrent
		newPos = s.pos + int(offset)
	case 2: // io.SeekEnd
		newPos = s.buf.Len() + int(offset)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("seek before start")
	}
	s.pos = newPos
	return int64(newPos), nil
}
