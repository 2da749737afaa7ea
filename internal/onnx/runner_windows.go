//go:build windows

package onnx

import (
	"context"
	"fmt"
)

// Runner is unavailable in windows builds.
type Runner struct {
	name string
}

// NewRunner always returns an error in windows builds.
func NewRunner(meta Graph, _ RunnerConfig) (*Runner, error) {
	return nil, fmt.Errorf("native onnx runner is unavailable on windows for graph %q", meta.Name)
}

// Run always returns an error in windows builds.
func (r *Runner) Run(_ context.Context, _ map[string]*Tensor) (map[string]*Tensor, error) {
	return nil, fmt.Errorf("native onnx runner is unavailable on windows for graph %q", r.name)
}

// Close is a no-op in windows builds.
func (r *Runner) Close() {}

// Name returns the graph name.
func (r *Runner) Name() string {
	return r.name
}

// Graph returns a manifest entry carrying only the graph name.
func (r *Runner) Graph() Graph {
	return Graph{Name: r.name}
}

func probeRuntime(libraryPath string, _ uint32) error {
	return fmt.Errorf("onnx runtime %q cannot be loaded on windows builds", libraryPath)
}
