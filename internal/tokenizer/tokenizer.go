// Package tokenizer maps between text and the integer token ids the graphs
// consume. SentencePieceTokenizer encodes prompts for the text decoder;
// SymbolTable reads a model's tokens.txt and serves both directions for
// speech models and for detokenizing decoder output.
package tokenizer

// Tokenizer encodes text into token IDs.
type Tokenizer interface {
	Encode(text string) ([]int64, error)
}

// Decoder turns token IDs back into text.
type Decoder interface {
	Decode(ids []int64) string
}
