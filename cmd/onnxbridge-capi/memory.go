package main

/*
#include <stdlib.h>
#include "bridge.h"
*/
import "C"

import (
	"log/slog"
	"sync"
	"unsafe"

	"github.com/example/go-onnx-bridge/internal/bridge"
	"github.com/example/go-onnx-bridge/internal/handle"
)

type allocKind uint8

const (
	allocString allocKind = iota + 1
	allocAudio
	allocSamples
)

func (k allocKind) String() string {
	switch k {
	case allocString:
		return "string"
	case allocAudio:
		return "audio_data"
	case allocSamples:
		return "samples"
	default:
		return "unknown"
	}
}

type allocation struct {
	kind allocKind
	buf  *bridge.Buffer
}

// Live C allocations handed to the caller, keyed by address. A release of
// an address not in the set is refused, which catches double frees and
// pointers that came from elsewhere.
var (
	allocMu sync.Mutex
	allocs  = map[uintptr]allocation{}

	// results holds the text last returned by ra_sherpa_get_result per
	// stream. It stays owned by the library.
	results = map[handle.Handle]*C.char{}
)

// emptyResult is returned for invalid streams. Never freed.
var emptyResult = C.CString("")

func track(p unsafe.Pointer, a allocation) {
	allocMu.Lock()
	allocs[uintptr(p)] = a
	allocMu.Unlock()
}

// untrack removes p from the live set if it holds an allocation of kind.
func untrack(op string, p unsafe.Pointer, kind allocKind) (allocation, bool) {
	allocMu.Lock()
	defer allocMu.Unlock()

	a, ok := allocs[uintptr(p)]
	if !ok || a.kind != kind {
		slog.Warn("refusing to free pointer not owned by the bridge", "op", op, "kind", kind.String())
		return allocation{}, false
	}
	delete(allocs, uintptr(p))

	return a, true
}

func newCString(s string) *C.char {
	p := C.CString(s)
	track(unsafe.Pointer(p), allocation{kind: allocString})

	return p
}

func newAudioData(buf *bridge.Buffer) (*C.uint8_t, C.size_t) {
	n := len(buf.Bytes)
	p := C.malloc(C.size_t(max(n, 1)))
	copy(unsafe.Slice((*byte)(p), n), buf.Bytes)
	track(p, allocation{kind: allocAudio, buf: buf})

	return (*C.uint8_t)(p), C.size_t(n)
}

func newSamples(buf *bridge.Buffer) (*C.float, C.int) {
	n := len(buf.Samples)
	p := C.malloc(C.size_t(max(n, 1)) * C.size_t(unsafe.Sizeof(float32(0))))
	copy(unsafe.Slice((*float32)(p), n), buf.Samples)
	track(p, allocation{kind: allocSamples, buf: buf})

	return (*C.float)(p), C.int(n)
}

// setResult replaces the stream's result text and returns the new pointer.
func setResult(stream handle.Handle, text string) *C.char {
	p := C.CString(text)

	allocMu.Lock()
	old := results[stream]
	results[stream] = p
	allocMu.Unlock()

	if old != nil {
		C.free(unsafe.Pointer(old))
	}

	return p
}

func dropResult(stream handle.Handle) {
	allocMu.Lock()
	old := results[stream]
	delete(results, stream)
	allocMu.Unlock()

	if old != nil {
		C.free(unsafe.Pointer(old))
	}
}

//export ra_free_string
func ra_free_string(str *C.char) {
	defer recoverVoid("free_string")

	if str == nil {
		return
	}
	if _, ok := untrack("free_string", unsafe.Pointer(str), allocString); ok {
		C.free(unsafe.Pointer(str))
	}
}

//export ra_free_audio_data
func ra_free_audio_data(audioData *C.uint8_t) {
	defer recoverVoid("free_audio_data")

	if audioData == nil {
		return
	}
	a, ok := untrack("free_audio_data", unsafe.Pointer(audioData), allocAudio)
	if !ok {
		return
	}
	api().FreeAudioData(a.buf)
	C.free(unsafe.Pointer(audioData))
}

//export ra_sherpa_tts_free_samples
func ra_sherpa_tts_free_samples(samples *C.float) {
	defer recoverVoid("tts_free_samples")

	if samples == nil {
		return
	}
	a, ok := untrack("tts_free_samples", unsafe.Pointer(samples), allocSamples)
	if !ok {
		return
	}
	api().TTSFreeSamples(a.buf)
	C.free(unsafe.Pointer(samples))
}
