package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/example/go-onnx-bridge/internal/status"
)

// Modality selects which batch operations a session serves.
type Modality int32

const (
	TextToText  Modality = 0
	VoiceToText Modality = 1
	TextToVoice Modality = 2
	ImageToText Modality = 3
	TextToImage Modality = 4
	Multimodal  Modality = 5
)

var modalityNames = [...]string{
	TextToText:  "text_to_text",
	VoiceToText: "voice_to_text",
	TextToVoice: "text_to_voice",
	ImageToText: "image_to_text",
	TextToImage: "text_to_image",
	Multimodal:  "multimodal",
}

func (m Modality) String() string {
	if m.valid() {
		return modalityNames[m]
	}

	return fmt.Sprintf("modality(%d)", int32(m))
}

func (m Modality) valid() bool {
	return m >= TextToText && m <= Multimodal
}

// implemented reports whether the bridge has an operation for m.
func (m Modality) implemented() bool {
	return m != ImageToText && m != TextToImage
}

// allows reports whether a session in modality m may run an operation
// that needs want. Multimodal sessions run every implemented operation.
func (m Modality) allows(want Modality) bool {
	return m == want || m == Multimodal
}

// ParseModality accepts a modality name or its numeric value.
func ParseModality(s string) (Modality, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		m := Modality(n)
		if !m.valid() {
			return 0, fmt.Errorf("unknown modality %d: %w", n, status.ErrInvalidParams)
		}
		return m, nil
	}

	for i, name := range modalityNames {
		if s == name || s == strings.ReplaceAll(name, "_", "-") {
			return Modality(i), nil
		}
	}

	return 0, fmt.Errorf("unknown modality %q: %w", s, status.ErrInvalidParams)
}

type State int

const (
	Uninitialized State = iota
	Initialized
	ModelLoaded
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case ModelLoaded:
		return "model_loaded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
