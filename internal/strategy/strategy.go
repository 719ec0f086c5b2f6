// Package strategy runs named multi-step mapping workflows. A strategy is a
// YAML-declared sequence of steps; each step names an action from a runtime
// registry and its parameters. Steps communicate through a shared execution
// context of named datasets.
package strategy

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ExecutionContext is the mutable dataset map shared by a strategy's steps.
// Safe for concurrent use.
type ExecutionContext struct {
	mu       sync.RWMutex
	datasets map[string]interface{}
}

// NewExecutionContext creates an empty context.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{datasets: make(map[string]interface{})}
}

// Set stores a dataset under a key, replacing any previous value.
func (c *ExecutionContext) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datasets[key] = value
}

// Get returns a dataset and whether it exists.
func (c *ExecutionContext) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.datasets[key]
	return v, ok
}

// Keys returns the stored dataset keys.
func (c *ExecutionContext) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.datasets))
	for k := range c.datasets {
		out = append(out, k)
	}
	return out
}

// ActionInput is everything one step execution sees.
type ActionInput struct {
	Identifiers    []string
	OntologyType   string
	Params         map[string]interface{}
	SourceEndpoint string
	TargetEndpoint string
	Context        *ExecutionContext
}

// StepResult is what a step hands to its successor. Nil Identifiers means
// "unchanged".
type StepResult struct {
	Identifiers  []string
	OntologyType string
	Details      map[string]string
}

// Action is one executable step implementation, looked up by name.
type Action interface {
	Execute(ctx context.Context, in ActionInput) (*StepResult, error)
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(ctx context.Context, in ActionInput) (*StepResult, error)

// Execute implements Action.
func (f ActionFunc) Execute(ctx context.Context, in ActionInput) (*StepResult, error) {
	return f(ctx, in)
}

// Registry maps action names to implementations. Populate at startup.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register binds a name to an action, replacing any previous binding.
func (r *Registry) Register(name string, a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = a
}

// Get returns the action bound to name, or nil.
func (r *Registry) Get(name string) Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actions[name]
}

// Step is one declared step of a strategy.
type Step struct {
	Action string                 `yaml:"action"`
	Params map[string]interface{} `yaml:"params,omitempty"`
}

// Strategy is one named workflow.
type Strategy struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description,omitempty"`
	SourceEndpoint string `yaml:"source_endpoint,omitempty"`
	TargetEndpoint string `yaml:"target_endpoint,omitempty"`
	Steps          []Step `yaml:"steps"`
}

type strategyFile struct {
	Strategies []Strategy `yaml:"strategies"`
}

// Runner executes strategies against an action registry.
type Runner struct {
	registry   *Registry
	strategies map[string]Strategy
}

// NewRunner creates a runner with no strategies loaded.
func NewRunner(registry *Registry) *Runner {
	return &Runner{registry: registry, strategies: make(map[string]Strategy)}
}

// LoadFile parses a strategies YAML file and merges its entries by name.
func (r *Runner) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read strategies: %w", err)
	}
	return r.Load(data)
}

// Load parses strategies YAML and merges its entries by name.
func (r *Runner) Load(data []byte) error {
	var file strategyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse strategies: %w", err)
	}
	for _, s := range file.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategy without a name")
		}
		if len(s.Steps) == 0 {
			return fmt.Errorf("strategy %s has no steps", s.Name)
		}
		for i, step := range s.Steps {
			if step.Action == "" {
				return fmt.Errorf("strategy %s step %d has no action", s.Name, i)
			}
		}
		r.strategies[s.Name] = s
	}
	return nil
}

// Strategies returns the loaded strategy names.
func (r *Runner) Strategies() []string {
	out := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		out = append(out, name)
	}
	return out
}

// StepReport records one executed step.
type StepReport struct {
	Action   string            `json:"action"`
	Duration time.Duration     `json:"duration"`
	Details  map[string]string `json:"details,omitempty"`
}

// RunReport is the outcome of one strategy run.
type RunReport struct {
	Strategy     string        `json:"strategy"`
	Identifiers  []string      `json:"identifiers"`
	OntologyType string        `json:"ontology_type"`
	Steps        []StepReport  `json:"steps"`
	Duration     time.Duration `json:"duration"`
}

// Run executes the named strategy over the identifiers. Each step receives
// the previous step's output identifiers and ontology type; the shared
// execution context carries anything richer between steps. The first step
// error aborts the run.
func (r *Runner) Run(ctx context.Context, name string, identifiers []string, ontologyType string) (*RunReport, error) {
	strat, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}

	execCtx := NewExecutionContext()
	report := &RunReport{Strategy: name}
	start := time.Now()

	current := identifiers
	ontology := ontologyType
	for i, step := range strat.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		action := r.registry.Get(step.Action)
		if action == nil {
			return nil, fmt.Errorf("strategy %s step %d: unknown action %q", name, i, step.Action)
		}

		t0 := time.Now()
		result, err := action.Execute(ctx, ActionInput{
			Identifiers:    current,
			OntologyType:   ontology,
			Params:         step.Params,
			SourceEndpoint: strat.SourceEndpoint,
			TargetEndpoint: strat.TargetEndpoint,
			Context:        execCtx,
		})
		if err != nil {
			return nil, fmt.Errorf("strategy %s step %d (%s): %w", name, i, step.Action, err)
		}

		if result != nil {
			if result.Identifiers != nil {
				current = result.Identifiers
			}
			if result.OntologyType != "" {
				ontology = result.OntologyType
			}
		}
		sr := StepReport{Action: step.Action, Duration: time.Since(t0)}
		if result != nil {
			sr.Details = result.Details
		}
		report.Steps = append(report.Steps, sr)
	}

	report.Identifiers = current
	report.OntologyType = ontology
	report.Duration = time.Since(start)
	return report, nil
}
