// Package status defines the result codes returned across the bridge
// boundary and the sentinel errors that internal packages wrap to carry them.
package status

import (
	"errors"
	"strconv"
)

// Code is a boundary result code. Zero is success, failures are negative.
type Code int32

const (
	Success         Code = 0
	InitFailed      Code = -1
	ModelLoadFailed Code = -2
	InferenceFailed Code = -3
	InvalidHandle   Code = -4
	InvalidParams   Code = -5
	OutOfMemory     Code = -6
	NotImplemented  Code = -7
	Unknown         Code = -99
)

// Sentinel errors. Wrap them with fmt.Errorf("...: %w", ErrX) so that
// CodeOf can classify the chain.
var (
	ErrInitFailed      = errors.New("init failed")
	ErrModelLoadFailed = errors.New("model load failed")
	ErrInferenceFailed = errors.New("inference failed")
	ErrInvalidHandle   = errors.New("invalid handle")
	ErrInvalidParams   = errors.New("invalid parameters")
	ErrOutOfMemory     = errors.New("out of memory")
	ErrNotImplemented  = errors.New("not implemented")
)

var sentinels = []struct {
	err  error
	code Code
}{
	{ErrInvalidHandle, InvalidHandle},
	{ErrInvalidParams, InvalidParams},
	{ErrNotImplemented, NotImplemented},
	{ErrOutOfMemory, OutOfMemory},
	{ErrModelLoadFailed, ModelLoadFailed},
	{ErrInitFailed, InitFailed},
	{ErrInferenceFailed, InferenceFailed},
}

// CodeOf maps an error chain to its result code. A nil error is Success and
// an error that wraps none of the sentinels is Unknown. Usage errors win over
// resource and inference errors when a chain wraps more than one sentinel.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.code
		}
	}

	return Unknown
}

// Err returns the sentinel for a code, or nil for Success.
func (c Code) Err() error {
	if c == Success {
		return nil
	}

	for _, s := range sentinels {
		if s.code == c {
			return s.err
		}
	}

	return errors.New("unknown error")
}

func (c Code) String() string {
	switch c {
	case Success:
		return "success"
	case InitFailed:
		return "init_failed"
	case ModelLoadFailed:
		return "model_load_failed"
	case InferenceFailed:
		return "inference_failed"
	case InvalidHandle:
		return "invalid_handle"
	case InvalidParams:
		return "invalid_params"
	case OutOfMemory:
		return "out_of_memory"
	case NotImplemented:
		return "not_implemented"
	case Unknown:
		return "unknown"
	default:
		return "code(" + strconv.Itoa(int(c)) + ")"
	}
}
