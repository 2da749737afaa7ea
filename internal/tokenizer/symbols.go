package tokenizer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// SymbolsFile is the conventional name of the id table in a model directory.
const SymbolsFile = "tokens.txt"

// wordBoundary is the SentencePiece marker for a preceding space.
const wordBoundary = "▁"

// SymbolTable is the parsed form of a tokens.txt file: one "<symbol> <id>"
// pair per line. A line holding only an id denotes the space symbol.
type SymbolTable struct {
	byID   map[int64]string
	bySym  map[string]int64
	maxID  int64
	hasSym bool
}

func LoadSymbolTable(path string) (*SymbolTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open symbol table: %w", err)
	}
	defer f.Close()

	st, err := ParseSymbolTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return st, nil
}

func ParseSymbolTable(r io.Reader) (*SymbolTable, error) {
	st := &SymbolTable{
		byID:  map[int64]string{},
		bySym: map[string]int64{},
		maxID: -1,
	}

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++

		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		sep := strings.LastIndexAny(line, " \t")
		if sep < 0 {
			return nil, fmt.Errorf("line %d: want \"<symbol> <id>\", got %q", lineNo, line)
		}

		sym := line[:sep]
		if sym == "" {
			sym = " "
		}

		id, err := strconv.ParseInt(line[sep+1:], 10, 64)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("line %d: invalid id %q", lineNo, line[sep+1:])
		}

		if _, dup := st.byID[id]; dup {
			return nil, fmt.Errorf("line %d: duplicate id %d", lineNo, id)
		}

		st.byID[id] = sym
		if _, seen := st.bySym[sym]; !seen {
			st.bySym[sym] = id
		}
		st.maxID = max(st.maxID, id)
		st.hasSym = true
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read symbol table: %w", err)
	}

	if !st.hasSym {
		return nil, fmt.Errorf("symbol table is empty")
	}

	return st, nil
}

// Len returns the number of symbols.
func (st *SymbolTable) Len() int { return len(st.byID) }

// VocabSize is one past the largest id.
func (st *SymbolTable) VocabSize() int { return int(st.maxID + 1) }

func (st *SymbolTable) Symbol(id int64) (string, bool) {
	s, ok := st.byID[id]
	return s, ok
}

func (st *SymbolTable) ID(sym string) (int64, bool) {
	id, ok := st.bySym[sym]
	return id, ok
}

// Encode maps text rune by rune onto symbols, as character-level speech
// models expect. Runes without a symbol are skipped. Lower-case is tried
// when the exact rune is missing.
func (st *SymbolTable) Encode(text string) ([]int64, error) {
	ids := make([]int64, 0, len(text))
	for _, r := range text {
		sym := string(r)
		if id, ok := st.bySym[sym]; ok {
			ids = append(ids, id)
			continue
		}

		if id, ok := st.bySym[strings.ToLower(sym)]; ok {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// Decode concatenates the symbols of ids. SentencePiece word boundaries
// become spaces and a leading space is dropped. Unknown ids are skipped.
func (st *SymbolTable) Decode(ids []int64) string {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(st.Piece(id))
	}

	return strings.TrimLeft(b.String(), " ")
}

// Piece renders a single id the way it appears inside decoded text.
// Unknown ids render as the empty string.
func (st *SymbolTable) Piece(id int64) string {
	sym, ok := st.byID[id]
	if !ok {
		return ""
	}

	return strings.ReplaceAll(sym, wordBoundary, " ")
}
