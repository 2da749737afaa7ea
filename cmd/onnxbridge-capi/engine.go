package main

/*
#include <stdlib.h>
#include "bridge.h"
*/
import "C"

import (
	"context"
	"math"
	"unsafe"

	"github.com/example/go-onnx-bridge/internal/audio"
	"github.com/example/go-onnx-bridge/internal/engine"
	"github.com/example/go-onnx-bridge/internal/status"
)

//export ra_onnx_create
func ra_onnx_create() (out C.ra_onnx_handle) {
	defer recoverVoid("create")

	return C.ra_onnx_handle(toPointer(api().Create()))
}

//export ra_onnx_initialize
func ra_onnx_initialize(h C.ra_onnx_handle, configJSON *C.char) (rc C.int) {
	defer recoverCode("initialize", &rc)

	return C.int(api().Initialize(toHandle(unsafe.Pointer(h)), goString(configJSON)))
}

//export ra_onnx_load_model
func ra_onnx_load_model(h C.ra_onnx_handle, modelPath *C.char) (rc C.int) {
	defer recoverCode("load_model", &rc)

	if modelPath == nil {
		return C.int(status.InvalidParams)
	}

	return C.int(api().LoadModel(toHandle(unsafe.Pointer(h)), C.GoString(modelPath)))
}

//export ra_onnx_is_model_loaded
func ra_onnx_is_model_loaded(h C.ra_onnx_handle) (out C.int) {
	defer recoverVoid("is_model_loaded")

	return boolInt(api().IsModelLoaded(toHandle(unsafe.Pointer(h))))
}

//export ra_onnx_destroy
func ra_onnx_destroy(h C.ra_onnx_handle) {
	defer recoverVoid("destroy")

	api().Destroy(toHandle(unsafe.Pointer(h)))
}

//export ra_onnx_set_modality
func ra_onnx_set_modality(h C.ra_onnx_handle, modality C.ra_modality_type) (rc C.int) {
	defer recoverCode("set_modality", &rc)

	return C.int(api().SetModality(toHandle(unsafe.Pointer(h)), engine.Modality(modality)))
}

//export ra_onnx_get_modality
func ra_onnx_get_modality(h C.ra_onnx_handle) (out C.ra_modality_type) {
	defer recoverVoid("get_modality")

	m, _ := api().GetModality(toHandle(unsafe.Pointer(h)))

	return C.ra_modality_type(m)
}

//export ra_onnx_transcribe
func ra_onnx_transcribe(h C.ra_onnx_handle, audioData *C.uint8_t, audioSize C.size_t, audioConfig *C.ra_audio_config, language *C.char, resultJSON **C.char) (rc C.int) {
	defer recoverCode("transcribe", &rc)

	if resultJSON == nil || (audioData == nil && audioSize > 0) || uint64(audioSize) > math.MaxInt32 {
		return C.int(status.InvalidParams)
	}
	var data []byte
	if audioSize > 0 {
		data = C.GoBytes(unsafe.Pointer(audioData), C.int(audioSize))
	}

	out, code := api().Transcribe(context.Background(), toHandle(unsafe.Pointer(h)), data, audioConfigOf(audioConfig), goString(language))
	if code != status.Success {
		return C.int(code)
	}

	*resultJSON = newCString(out)

	return C.int(status.Success)
}

//export ra_onnx_synthesize
func ra_onnx_synthesize(h C.ra_onnx_handle, text *C.char, voiceID *C.char, audioConfig *C.ra_audio_config, rate, pitch C.float, audioData **C.uint8_t, audioSize *C.size_t, durationMS *C.double) (rc C.int) {
	defer recoverCode("synthesize", &rc)

	if audioData == nil || audioSize == nil || durationMS == nil {
		return C.int(status.InvalidParams)
	}
	buf, ms, code := api().Synthesize(context.Background(), toHandle(unsafe.Pointer(h)),
		goString(text), goString(voiceID), audioConfigOf(audioConfig), float32(rate), float32(pitch))
	if code != status.Success {
		return C.int(code)
	}

	*audioData, *audioSize = newAudioData(buf)
	*durationMS = C.double(ms)

	return C.int(status.Success)
}

//export ra_onnx_generate_text
func ra_onnx_generate_text(h C.ra_onnx_handle, messagesJSON, systemPrompt *C.char, maxTokens C.int, temperature C.float, resultJSON **C.char) (rc C.int) {
	defer recoverCode("generate_text", &rc)

	if resultJSON == nil {
		return C.int(status.InvalidParams)
	}
	out, code := api().GenerateText(context.Background(), toHandle(unsafe.Pointer(h)),
		goString(messagesJSON), goString(systemPrompt), int(maxTokens), float32(temperature))
	if code != status.Success {
		return C.int(code)
	}

	*resultJSON = newCString(out)

	return C.int(status.Success)
}

//export ra_onnx_generate_text_stream
func ra_onnx_generate_text_stream(h C.ra_onnx_handle, messagesJSON, systemPrompt *C.char, maxTokens C.int, temperature C.float, callback C.ra_text_stream_callback, userData unsafe.Pointer) (rc C.int) {
	defer recoverCode("generate_text_stream", &rc)

	var onToken func(string)
	if callback != nil {
		onToken = func(token string) {
			p := C.CString(token)
			defer C.free(unsafe.Pointer(p))
			C.ra_go_emit_token(callback, p, userData)
		}
	}

	return C.int(api().GenerateTextStream(context.Background(), toHandle(unsafe.Pointer(h)),
		goString(messagesJSON), goString(systemPrompt), int(maxTokens), float32(temperature), onToken))
}

func audioConfigOf(c *C.ra_audio_config) *audio.Config {
	if c == nil {
		return nil
	}

	return &audio.Config{
		SampleRate:    int(c.sample_rate),
		Channels:      int(c.channels),
		BitsPerSample: int(c.bits_per_sample),
		Format:        audio.Format(c.format),
	}
}
