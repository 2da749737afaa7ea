package text

import (
	"strings"
	"unicode/utf8"
)

// ChunkBySentence groups sentences into chunks of at most maxChars runes so
// that long input can be synthesized piecewise. A sentence longer than
// maxChars becomes its own chunk. maxChars <= 0 disables splitting.
func ChunkBySentence(text string, maxChars int) []string {
	if maxChars <= 0 {
		return []string{text}
	}

	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	for _, s := range sentences {
		n := utf8.RuneCountInString(s)
		switch {
		case currentLen == 0:
		case currentLen+1+n > maxChars:
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		default:
			current.WriteByte(' ')
			currentLen++
		}

		current.WriteString(s)
		currentLen += n
	}
	if currentLen > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '\n', '。', '！', '？':
		return true
	default:
		return false
	}
}

// splitSentences cuts text after each terminator, keeping the terminator
// with its sentence and dropping empty pieces.
func splitSentences(text string) []string {
	var sentences []string
	start := 0

	for i, r := range text {
		if !isTerminator(r) {
			continue
		}

		end := i + utf8.RuneLen(r)
		if s := strings.TrimSpace(text[start:end]); s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}

	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}
