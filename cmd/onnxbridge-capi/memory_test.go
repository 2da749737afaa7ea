//go:build cgo

package main

import (
	"reflect"
	"testing"
	"unsafe"

	"github.com/example/go-onnx-bridge/internal/handle"
	"github.com/example/go-onnx-bridge/internal/status"
)

func liveAllocs() int {
	allocMu.Lock()
	defer allocMu.Unlock()

	return len(allocs)
}

func TestHandlePointerRoundTrip(t *testing.T) {
	for _, h := range []handle.Handle{handle.Null, 1, 0x0100000100000002, 0x05ffffff7fffffff} {
		if got := toHandle(toPointer(h)); got != h {
			t.Errorf("round trip of %#x = %#x", uint64(h), uint64(got))
		}
	}

	if toPointer(handle.Null) != nil {
		t.Error("null handle must map to a nil pointer")
	}
}

func TestFreeString_RefusesDoubleFree(t *testing.T) {
	before := liveAllocs()

	p := newCString("result")
	if liveAllocs() != before+1 {
		t.Fatalf("expected one tracked allocation, have %d", liveAllocs()-before)
	}

	ra_free_string(p)
	if liveAllocs() != before {
		t.Fatalf("allocation still tracked after free")
	}

	// The second release must be refused rather than reach free(3).
	ra_free_string(p)
	ra_free_string(nil)
}

func TestFreeString_RejectsOtherKinds(t *testing.T) {
	p := newCString("x")
	t.Cleanup(func() { ra_free_string(p) })

	if _, ok := untrack("test", unsafe.Pointer(p), allocAudio); ok {
		t.Fatal("a string must not be released as audio data")
	}
	if liveAllocs() == 0 {
		t.Fatal("refused release must keep the allocation")
	}
}

func TestSetResult_ReplacesPerStream(t *testing.T) {
	s := handle.Handle(0x0300000100000001)
	t.Cleanup(func() { dropResult(s) })

	first := setResult(s, "hel")
	second := setResult(s, "hello")
	if first == second {
		t.Fatal("expected a fresh string per call")
	}

	allocMu.Lock()
	got := results[s]
	allocMu.Unlock()
	if got != second {
		t.Fatal("stream must own the latest result")
	}

	dropResult(s)
	allocMu.Lock()
	_, ok := results[s]
	allocMu.Unlock()
	if ok {
		t.Fatal("result still held after drop")
	}
}

func TestAllocKindString(t *testing.T) {
	want := map[allocKind]string{allocString: "string", allocAudio: "audio_data", allocSamples: "samples", 0: "unknown"}
	for k, s := range want {
		if k.String() != s {
			t.Errorf("%d.String() = %q, want %q", k, k.String(), s)
		}
	}
}

var presetTarget [8]uint64

// callWithPresetOutputs calls export with zero inputs, so the null handle
// fails the call, and its trailing outs output parameters preset to
// non-zero values. It reports the result code and whether every output
// still holds its preset value.
func callWithPresetOutputs(t *testing.T, export any, outs int) (int64, bool) {
	t.Helper()

	fn := reflect.ValueOf(export)
	typ := fn.Type()
	args := make([]reflect.Value, typ.NumIn())
	for i := range args {
		args[i] = reflect.Zero(typ.In(i))
	}

	first := typ.NumIn() - outs
	preset := make([]any, 0, outs)
	for i := first; i < typ.NumIn(); i++ {
		slot := reflect.New(typ.In(i).Elem())
		v := slot.Elem()
		switch v.Kind() {
		case reflect.Pointer:
			v.Set(reflect.NewAt(v.Type().Elem(), unsafe.Pointer(&presetTarget)))
		case reflect.Int, reflect.Int32, reflect.Int64:
			v.SetInt(7)
		case reflect.Uint, reflect.Uint32, reflect.Uint64:
			v.SetUint(7)
		case reflect.Float32, reflect.Float64:
			v.SetFloat(7)
		default:
			t.Fatalf("output %d has unexpected kind %s", i, v.Kind())
		}
		args[i] = slot
		preset = append(preset, v.Interface())
	}

	rc := fn.Call(args)[0].Int()

	for j, want := range preset {
		if args[first+j].Elem().Interface() != want {
			return rc, false
		}
	}

	return rc, true
}

func TestFailedCallsLeaveOutputsUntouched(t *testing.T) {
	tests := []struct {
		name   string
		export any
		outs   int
	}{
		{"transcribe", ra_onnx_transcribe, 1},
		{"synthesize", ra_onnx_synthesize, 3},
		{"generate_text", ra_onnx_generate_text, 1},
		{"tts_generate", ra_sherpa_tts_generate, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, kept := callWithPresetOutputs(t, tt.export, tt.outs)
			if rc != int64(status.InvalidHandle) {
				t.Fatalf("rc = %d, want %d", rc, status.InvalidHandle)
			}
			if !kept {
				t.Fatal("outputs changed by a failed call")
			}
		})
	}
}
