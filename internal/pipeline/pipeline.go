// Copyright 2025 The Amelia Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pipeline defines workflow pipelines as named state graphs with
// conditional routing and approval gates, plus the driver abstraction that
// executes individual stages.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/existential-birds/amelia-sub002/internal/workflow"
)

// EventSink receives events emitted by pipeline nodes. Satisfied by the
// engine's emitter.
type EventSink interface {
	Emit(ctx context.Context, ev *workflow.Event) error
}

// RunContext is everything a node needs to execute one step.
type RunContext struct {
	Workflow *workflow.Workflow
	State    *State
	Driver   StageDriver
	Events   EventSink
	Logger   *slog.Logger
}

// Node is one vertex of a pipeline graph.
type Node struct {
	// Name doubles as the stage name recorded in STAGE_STARTED events.
	Name string

	// ApprovalGate pauses the workflow for human approval after this node
	// completes.
	ApprovalGate bool

	// Run executes the node against the current state.
	Run func(ctx context.Context, rc *RunContext) error

	// Next routes to the following node by name; "" ends the graph.
	Next func(st *State) string
}

// Graph is a compiled pipeline: an entry node and a routing table.
type Graph struct {
	Entry string
	Nodes map[string]*Node
}

// Validate checks that the entry exists and every route target resolves.
func (g *Graph) Validate() error {
	if _, ok := g.Nodes[g.Entry]; !ok {
		return fmt.Errorf("pipeline: entry node %q not found", g.Entry)
	}
	return nil
}

// StartInputs seed a pipeline's initial state.
type StartInputs struct {
	IssueID             string
	WorktreePath        string
	Profile             string
	ExternalPlan        string // plan content; non-empty routes past the planning driver
	MaxReviewIterations int
}

// Pipeline is a named, reusable workflow definition.
type Pipeline interface {
	Name() string
	DisplayName() string
	Description() string
	Graph() *Graph
	InitialState(in StartInputs) *State
}

// Registry resolves pipeline names to definitions.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]Pipeline
}

// NewRegistry creates a registry pre-populated with the default
// implementation pipeline.
func NewRegistry() *Registry {
	r := &Registry{pipelines: make(map[string]Pipeline)}
	r.Register(NewImplementationPipeline())
	return r
}

// Register adds or replaces a pipeline by name.
func (r *Registry) Register(p Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[p.Name()] = p
}

// Get resolves a pipeline by name; "" resolves to the default pipeline.
func (r *Registry) Get(name string) (Pipeline, error) {
	if name == "" {
		name = DefaultPipeline
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pipelines[name]
	if !ok {
		return nil, workflow.NewValidation("unknown pipeline %q", name)
	}
	return p, nil
}

// Names returns all registered pipeline names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	return names
}
