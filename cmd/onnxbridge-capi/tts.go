package main

/*
#include "bridge.h"
*/
import "C"

import (
	"context"
	"unsafe"

	"github.com/example/go-onnx-bridge/internal/status"
)

//export ra_sherpa_tts_create
func ra_sherpa_tts_create(modelDir, configJSON *C.char) (out C.ra_sherpa_tts_handle) {
	defer recoverVoid("tts_create")

	return C.ra_sherpa_tts_handle(toPointer(api().TTSCreate(goString(modelDir), goString(configJSON))))
}

//export ra_sherpa_tts_sample_rate
func ra_sherpa_tts_sample_rate(tts C.ra_sherpa_tts_handle) (out C.int) {
	defer recoverVoid("tts_sample_rate")

	return C.int(api().TTSSampleRate(toHandle(unsafe.Pointer(tts))))
}

//export ra_sherpa_tts_num_speakers
func ra_sherpa_tts_num_speakers(tts C.ra_sherpa_tts_handle) (out C.int) {
	defer recoverVoid("tts_num_speakers")

	return C.int(api().TTSNumSpeakers(toHandle(unsafe.Pointer(tts))))
}

//export ra_sherpa_tts_generate
func ra_sherpa_tts_generate(tts C.ra_sherpa_tts_handle, text *C.char, speakerID C.int, speed C.float, samples **C.float, numSamples *C.int, sampleRate *C.int) (rc C.int) {
	defer recoverCode("tts_generate", &rc)

	if samples == nil || numSamples == nil || sampleRate == nil {
		return C.int(status.InvalidParams)
	}
	buf, rate, code := api().TTSGenerate(context.Background(), toHandle(unsafe.Pointer(tts)), goString(text), int(speakerID), float32(speed))
	if code != status.Success {
		return C.int(code)
	}

	*samples, *numSamples = newSamples(buf)
	*sampleRate = C.int(rate)

	return C.int(status.Success)
}

//export ra_sherpa_tts_destroy
func ra_sherpa_tts_destroy(tts C.ra_sherpa_tts_handle) {
	defer recoverVoid("tts_destroy")

	api().TTSDestroy(toHandle(unsafe.Pointer(tts)))
}

//export ra_extract_tar_bz2
func ra_extract_tar_bz2(archivePath, destDir *C.char) (rc C.int) {
	defer recoverCode("extract_tar_bz2", &rc)

	if archivePath == nil || destDir == nil {
		return C.int(status.InvalidParams)
	}

	return C.int(api().ExtractTarBz2(C.GoString(archivePath), C.GoString(destDir)))
}
