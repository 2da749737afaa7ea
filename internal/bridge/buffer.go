package bridge

import (
	"github.com/example/go-onnx-bridge/internal/handle"
	"github.com/example/go-onnx-bridge/internal/status"
)

// Buffer is audio handed to the caller. It must be released exactly once
// with FreeAudioData or TTSFreeSamples; a second release reports
// status.InvalidHandle.
type Buffer struct {
	Handle handle.Handle
	// Bytes holds encoded audio from Synthesize.
	Bytes []byte
	// Samples holds raw float32 audio from TTSGenerate.
	Samples []float32
}

func (b *Bridge) newBuffer(buf *Buffer) (*Buffer, error) {
	h, err := b.buffers.Create(buf)
	if err != nil {
		return nil, err
	}
	buf.Handle = h

	return buf, nil
}

func (b *Bridge) release(op string, buf *Buffer) status.Code {
	if buf == nil {
		return status.Success
	}

	got, err := b.buffers.Destroy(buf.Handle)
	if err != nil {
		return code(op, err)
	}

	got.Bytes, got.Samples = nil, nil

	return status.Success
}

// FreeAudioData releases a buffer returned by Synthesize. Nil is a no-op.
func (b *Bridge) FreeAudioData(buf *Buffer) status.Code {
	return b.release("free_audio_data", buf)
}

// TTSFreeSamples releases a buffer returned by TTSGenerate. Nil is a no-op.
func (b *Bridge) TTSFreeSamples(buf *Buffer) status.Code {
	return b.release("tts_free_samples", buf)
}
