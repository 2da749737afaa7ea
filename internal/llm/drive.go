package llm

import (
	"iter"
	"strings"
)

// Finish reasons reported in Result.
const (
	FinishStop   = "stop"
	FinishLength = "length"
	FinishError  = "error"
)

type Result struct {
	Text            string `json:"text"`
	TokensGenerated int    `json:"tokens_generated"`
	FinishReason    string `json:"finish_reason"`
}

// Drive consumes seq, calling onToken synchronously for every token before
// pulling the next one. It returns once seq ends. An error from seq is
// returned together with the partial result; tokens already delivered are
// not retracted. A zero budget finishes with "stop". onToken may be nil.
func Drive(seq iter.Seq2[string, error], maxTokens int, onToken func(token string)) (Result, error) {
	var (
		b   strings.Builder
		res Result
	)

	for tok, err := range seq {
		if err != nil {
			res.Text = strings.TrimLeft(b.String(), " ")
			res.FinishReason = FinishError
			return res, err
		}

		res.TokensGenerated++
		b.WriteString(tok)
		if onToken != nil {
			onToken(tok)
		}
	}

	res.Text = strings.TrimLeft(b.String(), " ")
	res.FinishReason = FinishStop
	if maxTokens > 0 && res.TokensGenerated >= maxTokens {
		res.FinishReason = FinishLength
	}

	return res, nil
}
