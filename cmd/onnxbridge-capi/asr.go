package main

/*
#include "bridge.h"
*/
import "C"

import (
	"context"
	"slices"
	"unsafe"

	"github.com/example/go-onnx-bridge/internal/status"
)

//export ra_sherpa_create_recognizer
func ra_sherpa_create_recognizer(modelDir, configJSON *C.char) (out C.ra_sherpa_recognizer_handle) {
	defer recoverVoid("create_recognizer")

	return C.ra_sherpa_recognizer_handle(toPointer(api().CreateRecognizer(goString(modelDir), goString(configJSON))))
}

//export ra_sherpa_create_stream
func ra_sherpa_create_stream(recognizer C.ra_sherpa_recognizer_handle) (out C.ra_sherpa_stream_handle) {
	defer recoverVoid("create_stream")

	return C.ra_sherpa_stream_handle(toPointer(api().CreateStream(toHandle(unsafe.Pointer(recognizer)))))
}

//export ra_sherpa_accept_waveform
func ra_sherpa_accept_waveform(stream C.ra_sherpa_stream_handle, sampleRate C.int, samples *C.float, numSamples C.int) {
	defer recoverVoid("accept_waveform")

	if numSamples < 0 || (samples == nil && numSamples > 0) {
		api().AcceptWaveform(toHandle(unsafe.Pointer(stream)), -1, nil)
		return
	}

	var chunk []float32
	if numSamples > 0 {
		chunk = slices.Clone(unsafe.Slice((*float32)(unsafe.Pointer(samples)), int(numSamples)))
	}

	api().AcceptWaveform(toHandle(unsafe.Pointer(stream)), int(sampleRate), chunk)
}

//export ra_sherpa_is_ready
func ra_sherpa_is_ready(recognizer C.ra_sherpa_recognizer_handle, stream C.ra_sherpa_stream_handle) (out C.int) {
	defer recoverVoid("is_ready")

	return boolInt(api().IsReady(toHandle(unsafe.Pointer(recognizer)), toHandle(unsafe.Pointer(stream))))
}

//export ra_sherpa_decode
func ra_sherpa_decode(recognizer C.ra_sherpa_recognizer_handle, stream C.ra_sherpa_stream_handle) {
	defer recoverVoid("decode")

	api().Decode(context.Background(), toHandle(unsafe.Pointer(recognizer)), toHandle(unsafe.Pointer(stream)))
}

// ra_sherpa_get_result returns text owned by the stream. It stays valid
// until the next call for the same stream or until the stream is destroyed.
//
//export ra_sherpa_get_result
func ra_sherpa_get_result(recognizer C.ra_sherpa_recognizer_handle, stream C.ra_sherpa_stream_handle) (out *C.char) {
	out = emptyResult
	defer recoverVoid("get_result")

	s := toHandle(unsafe.Pointer(stream))
	text, code := api().Result(toHandle(unsafe.Pointer(recognizer)), s)
	if code != status.Success {
		return emptyResult
	}

	return setResult(s, text)
}

//export ra_sherpa_input_finished
func ra_sherpa_input_finished(stream C.ra_sherpa_stream_handle) {
	defer recoverVoid("input_finished")

	api().InputFinished(toHandle(unsafe.Pointer(stream)))
}

//export ra_sherpa_is_endpoint
func ra_sherpa_is_endpoint(recognizer C.ra_sherpa_recognizer_handle, stream C.ra_sherpa_stream_handle) (out C.int) {
	defer recoverVoid("is_endpoint")

	return boolInt(api().IsEndpoint(toHandle(unsafe.Pointer(recognizer)), toHandle(unsafe.Pointer(stream))))
}

//export ra_sherpa_reset
func ra_sherpa_reset(recognizer C.ra_sherpa_recognizer_handle, stream C.ra_sherpa_stream_handle) {
	defer recoverVoid("reset")

	api().Reset(toHandle(unsafe.Pointer(recognizer)), toHandle(unsafe.Pointer(stream)))
}

//export ra_sherpa_destroy_stream
func ra_sherpa_destroy_stream(stream C.ra_sherpa_stream_handle) {
	defer recoverVoid("destroy_stream")

	s := toHandle(unsafe.Pointer(stream))
	if api().DestroyStream(s) == status.Success {
		dropResult(s)
	}
}

//export ra_sherpa_destroy_recognizer
func ra_sherpa_destroy_recognizer(recognizer C.ra_sherpa_recognizer_handle) {
	defer recoverVoid("destroy_recognizer")

	api().DestroyRecognizer(toHandle(unsafe.Pointer(recognizer)))
}
