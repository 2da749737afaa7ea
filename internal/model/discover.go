package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/example/go-onnx-bridge/internal/onnx"
	"github.com/example/go-onnx-bridge/internal/tokenizer"
)

// TokenizerModelFile is the SentencePiece model used for prompt encoding.
const TokenizerModelFile = "tokenizer.model"

// DefaultGraphFile is preferred when a directory without a manifest holds
// more than one graph.
const DefaultGraphFile = "model.onnx"

var ErrNoModel = errors.New("no model files found")

// Layout lists the model files found in a directory. Empty paths mean the
// file is absent.
type Layout struct {
	Dir       string
	Manifest  string
	Tokens    string
	Tokenizer string
	Graphs    []string
}

// Discover locates model files in dir. Archives commonly unpack into a
// single top-level directory; when dir holds nothing but that directory,
// it is searched instead.
func Discover(dir string) (Layout, error) {
	l, err := scan(dir)
	if err != nil {
		return Layout{}, err
	}

	if l.hasModel() {
		return l, nil
	}

	if sub, ok := singleSubdir(dir); ok {
		nested, err := scan(sub)
		if err != nil {
			return Layout{}, err
		}
		if nested.hasModel() {
			return nested, nil
		}
	}

	return Layout{}, fmt.Errorf("%s: %w", dir, ErrNoModel)
}

func (l Layout) hasModel() bool {
	return l.Manifest != "" || len(l.Graphs) > 0
}

// LoadManifest reads the directory manifest. Without one, a single graph
// file (or model.onnx among several) is registered under fallbackGraph
// with meta as its metadata. An empty fallbackGraph disables that path.
func (l Layout) LoadManifest(fallbackGraph string, meta onnx.Metadata) (*onnx.Manifest, error) {
	if l.Manifest != "" {
		return onnx.LoadManifest(l.Dir)
	}

	if fallbackGraph == "" {
		return nil, fmt.Errorf("%s has no %s", l.Dir, onnx.ManifestFile)
	}

	graph, err := l.primaryGraph()
	if err != nil {
		return nil, err
	}

	return onnx.NewManifest(l.Dir, []onnx.Graph{{Name: fallbackGraph, Path: graph}}, meta)
}

func (l Layout) primaryGraph() (string, error) {
	switch len(l.Graphs) {
	case 0:
		return "", fmt.Errorf("%s: %w", l.Dir, ErrNoModel)
	case 1:
		return l.Graphs[0], nil
	}

	for _, g := range l.Graphs {
		if filepath.Base(g) == DefaultGraphFile {
			return g, nil
		}
	}

	return "", fmt.Errorf("%s holds %d graphs and no %s or %s", l.Dir, len(l.Graphs), onnx.ManifestFile, DefaultGraphFile)
}

func scan(dir string) (Layout, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Layout{}, fmt.Errorf("read model dir: %w", err)
	}

	l := Layout{Dir: dir}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		name := e.Name()
		path := filepath.Join(dir, name)
		switch {
		case name == onnx.ManifestFile:
			l.Manifest = path
		case name == tokenizer.SymbolsFile:
			l.Tokens = path
		case name == TokenizerModelFile:
			l.Tokenizer = path
		case strings.EqualFold(filepath.Ext(name), ".onnx"):
			l.Graphs = append(l.Graphs, path)
		}
	}

	slices.Sort(l.Graphs)

	return l, nil
}

func singleSubdir(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var sub string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if !e.IsDir() || sub != "" {
			return "", false
		}
		sub = filepath.Join(dir, e.Name())
	}

	return sub, sub != ""
}
