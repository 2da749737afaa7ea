package onnx

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// GraphRunner executes one graph. Runner is the ONNX Runtime implementation;
// tests substitute fakes.
type GraphRunner interface {
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Name() string
	Close()
}

// Loader opens a runner for a manifest graph.
type Loader func(g Graph) (GraphRunner, error)

// ORTLoader returns a Loader that opens graphs with ONNX Runtime.
func ORTLoader(cfg RunnerConfig) Loader {
	return func(g Graph) (GraphRunner, error) {
		return NewRunner(g, cfg)
	}
}

// Graphs is a set of opened runners keyed by graph name.
type Graphs struct {
	runners map[string]GraphRunner
}

// OpenGraphs opens the named graphs of m. Either all open or none stay open.
func OpenGraphs(m *Manifest, load Loader, names ...string) (*Graphs, error) {
	if load == nil {
		return nil, fmt.Errorf("graph loader is required")
	}

	g := &Graphs{runners: make(map[string]GraphRunner, len(names))}
	for _, name := range names {
		meta, ok := m.Graph(name)
		if !ok {
			g.Close()
			return nil, fmt.Errorf("manifest has no graph %q", name)
		}

		r, err := load(meta)
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("open graph %q: %w", name, err)
		}

		g.runners[name] = r
	}

	return g, nil
}

// NewGraphs wraps already opened runners.
func NewGraphs(runners map[string]GraphRunner) *Graphs {
	return &Graphs{runners: maps.Clone(runners)}
}

func (g *Graphs) Run(ctx context.Context, name string, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	r, ok := g.runners[name]
	if !ok {
		return nil, fmt.Errorf("graph %q not loaded", name)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return r.Run(ctx, inputs)
}

func (g *Graphs) Has(name string) bool {
	_, ok := g.runners[name]
	return ok
}

func (g *Graphs) Names() []string {
	return slices.Sorted(maps.Keys(g.runners))
}

// Close releases every runner. Safe to call multiple times.
func (g *Graphs) Close() {
	for name, r := range g.runners {
		r.Close()
		delete(g.runners, name)
	}
}
