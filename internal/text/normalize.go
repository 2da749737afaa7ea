package text

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/example/go-onnx-bridge/internal/status"
)

// ErrEmptyText is returned when the input text is empty or whitespace-only.
var ErrEmptyText = fmt.Errorf("text is empty: %w", status.ErrInvalidParams)

// Normalize prepares raw input text for tokenization. It applies Unicode
// NFC composition so that precomposed and decomposed spellings map to the
// same symbols, normalizes line endings to \n, trims surrounding whitespace
// and rejects empty input.
func Normalize(s string) (string, error) {
	s = norm.NFC.String(s)

	// Normalize line endings: CRLF → LF, then bare CR → LF.
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	s = strings.TrimSpace(s)

	if s == "" {
		return "", ErrEmptyText
	}

	return s, nil
}

// CollapseSpace folds every run of whitespace into a single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
