package bridge

import (
	"context"

	"github.com/example/go-onnx-bridge/internal/handle"
	"github.com/example/go-onnx-bridge/internal/model"
	"github.com/example/go-onnx-bridge/internal/status"
	"github.com/example/go-onnx-bridge/internal/tts"
)

// TTSCreate loads a TTS engine, or returns handle.Null.
func (b *Bridge) TTSCreate(modelDir, configJSON string) handle.Handle {
	load, err := b.loader()
	if err != nil {
		code("tts_create", err)
		return handle.Null
	}

	e, err := tts.NewEngine(modelDir, configJSON, load)
	if err != nil {
		code("tts_create", err)
		return handle.Null
	}

	h, err := b.tts.Create(e)
	if err != nil {
		e.Close()
		code("tts_create", err)
		return handle.Null
	}

	return h
}

// TTSSampleRate is 0 for an invalid handle.
func (b *Bridge) TTSSampleRate(h handle.Handle) int {
	e, err := b.tts.Get(h)
	if err != nil {
		code("tts_sample_rate", err)
		return 0
	}

	return e.SampleRate()
}

// TTSNumSpeakers is 0 for an invalid handle.
func (b *Bridge) TTSNumSpeakers(h handle.Handle) int {
	e, err := b.tts.Get(h)
	if err != nil {
		code("tts_num_speakers", err)
		return 0
	}

	return e.NumSpeakers()
}

// TTSGenerate returns float32 samples in a buffer the caller releases with
// TTSFreeSamples, and their sample rate.
func (b *Bridge) TTSGenerate(ctx context.Context, h handle.Handle, text string, speakerID int, speed float32) (*Buffer, int, status.Code) {
	e, err := b.tts.Get(h)
	if err != nil {
		return nil, 0, code("tts_generate", err)
	}

	out, err := e.Generate(ctx, text, speakerID, float64(speed))
	if err != nil {
		return nil, 0, code("tts_generate", err)
	}

	buf, err := b.newBuffer(&Buffer{Samples: out.Samples})
	if err != nil {
		return nil, 0, code("tts_generate", err)
	}

	return buf, out.SampleRate, status.Success
}

func (b *Bridge) TTSDestroy(h handle.Handle) status.Code {
	e, err := b.tts.Destroy(h)
	if err != nil {
		return code("tts_destroy", err)
	}
	if e != nil {
		e.Close()
	}

	return status.Success
}

// ExtractTarBz2 unpacks a .tar.bz2 archive into destDir.
func (b *Bridge) ExtractTarBz2(archivePath, destDir string) status.Code {
	return code("extract_tar_bz2", model.ExtractTarBz2(archivePath, destDir))
}
