package asr

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/example/go-onnx-bridge/internal/onnx"
	"github.com/example/go-onnx-bridge/internal/status"
	"github.com/example/go-onnx-bridge/internal/telemetry"
)

// State is the observable phase of a stream.
type State int

const (
	Accepting State = iota
	Ready
	Decoded
	EndpointDetected
	Finished
)

func (s State) String() string {
	switch s {
	case Accepting:
		return "accepting"
	case Ready:
		return "ready"
	case Decoded:
		return "decoded"
	case EndpointDetected:
		return "endpoint"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var errStreamClosed = fmt.Errorf("stream closed: %w", status.ErrInvalidHandle)

// Stream is the decoding context of one utterance. Calls on a stream must
// not overlap.
type Stream struct {
	rec    *Recognizer
	closed bool

	pending  []float32
	finished bool

	tokens []int64
	prev   int64
	text   string
	steps  int

	trailingSilence float64
	utterance       float64
	speech          bool
}

func (s *Stream) check() error {
	if s.closed {
		return errStreamClosed
	}

	if s.rec.Closed() {
		return errRecognizerClosed
	}

	return nil
}

// AcceptWaveform appends mono samples. The rate must equal the recognizer
// rate; there is no resampling. Samples are copied.
func (s *Stream) AcceptWaveform(sampleRate int, samples []float32) error {
	if err := s.check(); err != nil {
		return err
	}

	if sampleRate != s.rec.cfg.SampleRate {
		return fmt.Errorf("sample rate %d, recognizer expects %d: %w", sampleRate, s.rec.cfg.SampleRate, status.ErrInvalidParams)
	}

	if s.finished {
		return fmt.Errorf("input already finished: %w", status.ErrInvalidParams)
	}

	for i, v := range samples {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("sample %d is not finite: %w", i, status.ErrInvalidParams)
		}
	}

	s.pending = append(s.pending, samples...)

	return nil
}

// InputFinished marks the end of audio. Later Decode calls drain the
// remainder.
func (s *Stream) InputFinished() {
	if s.check() == nil {
		s.finished = true
	}
}

// IsReady reports whether Decode has a chunk to consume.
func (s *Stream) IsReady() bool {
	if s.check() != nil {
		return false
	}

	return len(s.pending) >= s.rec.chunk || (s.finished && len(s.pending) > 0)
}

// Decode runs one encoder step. Without a ready chunk it does nothing.
// On graph failure the buffered audio is kept and the stream stays usable.
func (s *Stream) Decode(ctx context.Context) (err error) {
	if err := s.check(); err != nil {
		return err
	}

	if !s.IsReady() {
		return nil
	}

	n := min(s.rec.chunk, len(s.pending))
	chunk := make([]float32, s.rec.chunk)
	copy(chunk, s.pending[:n])

	ctx, done := telemetry.Default().Track(ctx, "asr.decode", attribute.Int("samples", n))
	defer func() { done(err) }()

	ids, err := s.encode(ctx, chunk)
	if err != nil {
		return err
	}

	s.pending = s.pending[n:]
	s.steps++

	chunkSec := float64(len(chunk)) / float64(s.rec.cfg.SampleRate)
	s.utterance += chunkSec
	telemetry.Default().Audio(ctx, "in", float64(n)/float64(s.rec.cfg.SampleRate))

	var frameSec float64
	if len(ids) > 0 {
		frameSec = chunkSec / float64(len(ids))
	}

	changed := false
	blank := int64(s.rec.cfg.BlankID)
	for _, id := range ids {
		if id == blank {
			s.trailingSilence += frameSec
			s.prev = id
			continue
		}

		s.trailingSilence = 0
		s.speech = true
		if id != s.prev {
			s.tokens = append(s.tokens, id)
			changed = true
		}
		s.prev = id
	}

	if changed {
		s.text = s.rec.symbols.Decode(s.tokens)
	}

	if s.IsEndpoint() {
		slog.Debug("endpoint detected",
			"text", s.text,
			"trailing_silence", s.trailingSilence,
			"utterance", s.utterance,
		)
	}

	return nil
}

// encode returns the argmax token of every encoder frame.
func (s *Stream) encode(ctx context.Context, chunk []float32) ([]int64, error) {
	in, err := onnx.NewTensor(chunk, []int64{1, int64(len(chunk))})
	if err != nil {
		return nil, fmt.Errorf("encoder input: %v: %w", err, status.ErrInferenceFailed)
	}

	out, err := s.rec.graphs.Run(ctx, EncoderGraph, map[string]*onnx.Tensor{"samples": in})
	if err != nil {
		return nil, fmt.Errorf("run encoder: %v: %w", err, status.ErrInferenceFailed)
	}

	logits, shape, err := onnx.Output(out, "logits")
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, status.ErrInferenceFailed)
	}

	if len(shape) < 2 || shape[len(shape)-1] <= 0 {
		return nil, fmt.Errorf("encoder logits shape %v: %w", shape, status.ErrInferenceFailed)
	}

	vocab := int(shape[len(shape)-1])
	frames := len(logits) / vocab
	ids := make([]int64, frames)
	for f := range frames {
		row := logits[f*vocab : (f+1)*vocab]
		ids[f] = int64(argmax(row))
	}

	return ids, nil
}

func argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}

	return best
}

// Result returns the current hypothesis.
func (s *Stream) Result() string {
	return s.text
}

// Tokens returns the decoded token ids.
func (s *Stream) Tokens() []int64 {
	return slices.Clone(s.tokens)
}

// IsEndpoint applies the endpoint rules: trailing silence without speech
// (rule 1), trailing silence after speech (rule 2) and maximum utterance
// length (rule 3). A finished and drained stream is always at an endpoint.
func (s *Stream) IsEndpoint() bool {
	if s.check() != nil {
		return false
	}

	if s.finished && len(s.pending) == 0 {
		return true
	}

	cfg := s.rec.cfg
	if !cfg.EnableEndpoint || s.steps == 0 {
		return false
	}

	switch {
	case !s.speech && s.trailingSilence >= cfg.Rule1MinTrailingSilence:
		return true
	case s.speech && s.trailingSilence >= cfg.Rule2MinTrailingSilence:
		return true
	case cfg.Rule3MinUtteranceLength > 0 && s.utterance >= cfg.Rule3MinUtteranceLength:
		return true
	}

	return false
}

// State summarizes the stream for callers and logs.
func (s *Stream) State() State {
	switch {
	case s.finished && len(s.pending) == 0:
		return Finished
	case s.IsEndpoint():
		return EndpointDetected
	case s.IsReady():
		return Ready
	case s.steps > 0:
		return Decoded
	default:
		return Accepting
	}
}

// Reset drops buffered audio and decode state. The stream stays bound to
// its recognizer.
func (s *Stream) Reset() {
	s.pending = nil
	s.finished = false
	s.tokens = nil
	s.prev = int64(s.rec.cfg.BlankID)
	s.text = ""
	s.steps = 0
	s.trailingSilence = 0
	s.utterance = 0
	s.speech = false
}

// Close releases the stream's hold on the recognizer. Closing twice is a
// no-op.
func (s *Stream) Close() {
	if s.closed {
		return
	}

	s.closed = true
	s.pending = nil
	s.rec.release()
}
