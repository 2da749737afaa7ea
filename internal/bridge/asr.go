package bridge

import (
	"context"
	"fmt"

	"github.com/example/go-onnx-bridge/internal/asr"
	"github.com/example/go-onnx-bridge/internal/handle"
	"github.com/example/go-onnx-bridge/internal/status"
)

// CreateRecognizer loads a streaming recognizer, or returns handle.Null.
func (b *Bridge) CreateRecognizer(modelDir, configJSON string) handle.Handle {
	load, err := b.loader()
	if err != nil {
		code("create_recognizer", err)
		return handle.Null
	}

	rec, err := asr.NewRecognizer(modelDir, configJSON, load)
	if err != nil {
		code("create_recognizer", err)
		return handle.Null
	}

	h, err := b.recognizers.Create(rec)
	if err != nil {
		rec.Close()
		code("create_recognizer", err)
		return handle.Null
	}

	return h
}

// CreateStream starts a stream on a recognizer, or returns handle.Null.
func (b *Bridge) CreateStream(recognizer handle.Handle) handle.Handle {
	rec, err := b.recognizers.Get(recognizer)
	if err != nil {
		code("create_stream", err)
		return handle.Null
	}

	s, err := rec.NewStream()
	if err != nil {
		code("create_stream", err)
		return handle.Null
	}

	h, err := b.streams.Create(&streamEntry{stream: s, recognizer: recognizer})
	if err != nil {
		s.Close()
		code("create_stream", err)
		return handle.Null
	}

	return h
}

// stream resolves a stream and checks that it was created from recognizer.
// The null recognizer owns nothing.
func (b *Bridge) stream(recognizer, stream handle.Handle) (*asr.Stream, error) {
	if _, err := b.recognizers.Get(recognizer); err != nil {
		return nil, err
	}

	e, err := b.streams.Get(stream)
	if err != nil {
		return nil, err
	}

	if e.recognizer != recognizer {
		return nil, fmt.Errorf("%s was not created by %s: %w", stream, recognizer, status.ErrInvalidHandle)
	}

	return e.stream, nil
}

func (b *Bridge) AcceptWaveform(stream handle.Handle, sampleRate int, samples []float32) status.Code {
	e, err := b.streams.Get(stream)
	if err != nil {
		return code("accept_waveform", err)
	}

	return code("accept_waveform", e.stream.AcceptWaveform(sampleRate, samples))
}

// IsReady is false for invalid handles.
func (b *Bridge) IsReady(recognizer, stream handle.Handle) bool {
	s, err := b.stream(recognizer, stream)
	if err != nil {
		code("is_ready", err)
		return false
	}

	return s.IsReady()
}

func (b *Bridge) Decode(ctx context.Context, recognizer, stream handle.Handle) status.Code {
	s, err := b.stream(recognizer, stream)
	if err != nil {
		return code("decode", err)
	}

	return code("decode", s.Decode(ctx))
}

// Result returns the current hypothesis.
func (b *Bridge) Result(recognizer, stream handle.Handle) (string, status.Code) {
	s, err := b.stream(recognizer, stream)
	if err != nil {
		return "", code("get_result", err)
	}

	return s.Result(), status.Success
}

func (b *Bridge) InputFinished(stream handle.Handle) status.Code {
	e, err := b.streams.Get(stream)
	if err != nil {
		return code("input_finished", err)
	}

	e.stream.InputFinished()

	return status.Success
}

// IsEndpoint is false for invalid handles.
func (b *Bridge) IsEndpoint(recognizer, stream handle.Handle) bool {
	s, err := b.stream(recognizer, stream)
	if err != nil {
		code("is_endpoint", err)
		return false
	}

	return s.IsEndpoint()
}

func (b *Bridge) Reset(recognizer, stream handle.Handle) status.Code {
	s, err := b.stream(recognizer, stream)
	if err != nil {
		return code("reset", err)
	}

	s.Reset()

	return status.Success
}

func (b *Bridge) DestroyStream(stream handle.Handle) status.Code {
	e, err := b.streams.Destroy(stream)
	if err != nil {
		return code("destroy_stream", err)
	}
	if e != nil {
		e.stream.Close()
	}

	return status.Success
}

// DestroyRecognizer releases the caller's reference. Streams created from
// it stay destroyable; every other call on them reports InvalidHandle.
func (b *Bridge) DestroyRecognizer(recognizer handle.Handle) status.Code {
	rec, err := b.recognizers.Destroy(recognizer)
	if err != nil {
		return code("destroy_recognizer", err)
	}
	if rec != nil {
		rec.Close()
	}

	return status.Success
}
