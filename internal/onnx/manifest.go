package onnx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ManifestFile is the name of the graph manifest inside a model directory.
const ManifestFile = "manifest.json"

type NodeInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []any  `json:"shape"`
}

// Graph describes one ONNX graph file of a model directory.
type Graph struct {
	Name string
	Path string

	Inputs  []NodeInfo
	Outputs []NodeInfo
}

// Metadata carries model-level constants. EOSTokenID is -1 when the
// manifest does not name one.
type Metadata struct {
	SampleRate  int    `json:"sample_rate"`
	NumSpeakers int    `json:"num_speakers"`
	EOSTokenID  int64  `json:"eos_token_id"`
	MaxContext  int    `json:"max_context"`
	Language    string `json:"language"`
}

type Manifest struct {
	Dir      string
	Metadata Metadata

	graphs []Graph
	byName map[string]int
}

type manifestFile struct {
	Graphs   []manifestGraph `json:"graphs"`
	Metadata Metadata        `json:"metadata"`
}

type manifestGraph struct {
	Name     string     `json:"name"`
	Filename string     `json:"filename"`
	Inputs   []NodeInfo `json:"inputs"`
	Outputs  []NodeInfo `json:"outputs"`
}

// LoadManifest reads dir/manifest.json and checks that every graph file it
// references exists.
func LoadManifest(dir string) (*Manifest, error) {
	if dir == "" {
		return nil, errors.New("model directory is required")
	}

	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read ONNX manifest: %w", err)
	}

	raw := manifestFile{Metadata: Metadata{EOSTokenID: -1}}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode ONNX manifest: %w", err)
	}

	if len(raw.Graphs) == 0 {
		return nil, errors.New("ONNX manifest has no graphs")
	}

	m := &Manifest{
		Dir:      dir,
		Metadata: raw.Metadata,
		graphs:   make([]Graph, 0, len(raw.Graphs)),
		byName:   make(map[string]int, len(raw.Graphs)),
	}

	for _, g := range raw.Graphs {
		if g.Name == "" {
			return nil, errors.New("manifest graph has empty name")
		}

		if g.Filename == "" {
			return nil, fmt.Errorf("manifest graph %q has empty filename", g.Name)
		}

		if _, exists := m.byName[g.Name]; exists {
			return nil, fmt.Errorf("duplicate graph name %q in manifest", g.Name)
		}

		graphPath := g.Filename
		if !filepath.IsAbs(graphPath) {
			graphPath = filepath.Join(dir, g.Filename)
		}

		graphPath = filepath.Clean(graphPath)
		if _, err := os.Stat(graphPath); err != nil {
			return nil, fmt.Errorf("graph file for %q: %w", g.Name, err)
		}

		m.byName[g.Name] = len(m.graphs)
		m.graphs = append(m.graphs, Graph{
			Name:    g.Name,
			Path:    graphPath,
			Inputs:  append([]NodeInfo(nil), g.Inputs...),
			Outputs: append([]NodeInfo(nil), g.Outputs...),
		})

		slog.Debug(
			"found ONNX graph",
			"name", g.Name,
			"path", graphPath,
			"inputs", nodeNames(g.Inputs),
			"outputs", nodeNames(g.Outputs),
		)
	}

	return m, nil
}

func (m *Manifest) Graph(name string) (Graph, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Graph{}, false
	}

	return m.graphs[i], true
}

func (m *Manifest) Has(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// Names returns graph names in manifest order.
func (m *Manifest) Names() []string {
	out := make([]string, 0, len(m.graphs))
	for _, g := range m.graphs {
		out = append(out, g.Name)
	}

	return out
}

func nodeNames(nodes []NodeInfo) string {
	if len(nodes) == 0 {
		return ""
	}

	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}

	return strings.Join(names, ",")
}

// NewManifest builds a manifest for a directory that ships graphs without a
// manifest.json. Graph paths are resolved against dir and must exist.
func NewManifest(dir string, graphs []Graph, meta Metadata) (*Manifest, error) {
	if len(graphs) == 0 {
		return nil, errors.New("no graphs given")
	}

	m := &Manifest{
		Dir:      dir,
		Metadata: meta,
		graphs:   make([]Graph, 0, len(graphs)),
		byName:   make(map[string]int, len(graphs)),
	}

	for _, g := range graphs {
		if g.Name == "" || g.Path == "" {
			return nil, fmt.Errorf("graph %+v needs a name and a path", g)
		}

		if _, exists := m.byName[g.Name]; exists {
			return nil, fmt.Errorf("duplicate graph name %q", g.Name)
		}

		if !filepath.IsAbs(g.Path) {
			g.Path = filepath.Join(dir, g.Path)
		}

		if _, err := os.Stat(g.Path); err != nil {
			return nil, fmt.Errorf("graph file for %q: %w", g.Name, err)
		}

		m.byName[g.Name] = len(m.graphs)
		m.graphs = append(m.graphs, g)
	}

	return m, nil
}
