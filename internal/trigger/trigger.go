// Package trigger defines the contract of pluggable trigger sources and the hub that turns
// their events into queued jobs.
package trigger

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/stacklok/runctl/internal/client"
	"github.com/stacklok/runctl/internal/config"
	"github.com/stacklok/runctl/internal/job"
)

// Agent is the context a trigger is started with
type Agent struct {
	ID     string
	Name   string
	Client client.ExecutionClient
}

// Sink receives the events of one trigger
type Sink interface {
	// Message reports informational text
	Message(text string)

	// Error reports a problem the trigger ran into
	Error(text string)

	// Fire requests a job. It must name a run profile or a run profile type.
	Fire(j job.Job)
}

// Trigger is a source of job requests for one agent
type Trigger interface {
	// DisplayName is used as the Source of fired jobs
	DisplayName() string

	// Start begins emitting events to sink. It must not block.
	Start(ctx context.Context, agent Agent, sink Sink) error

	// Stop ends event emission and waits for the trigger to wind down
	Stop() error
}

// Factory builds a trigger from its configuration
type Factory func(cfg config.TriggerConfig) (Trigger, error)

// Registry maps trigger type names to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a Registry holding the built-in trigger variants
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeInterval, NewIntervalTrigger)
	r.Register(TypePendingChanges, NewPendingChangesTrigger)
	return r
}

// Register adds or replaces the factory for a type name
func (r *Registry) Register(typeName string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = factory
}

// New builds the trigger described by cfg
func (r *Registry) New(cfg config.TriggerConfig) (Trigger, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown trigger type '%s'", cfg.Type)
	}
	t, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trigger '%s': %w", cfg.Type, cfg.Name, err)
	}
	return t, nil
}

// Types returns the registered type names, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for name := range r.factories {
		types = append(types, name)
	}
	slices.Sort(types)
	return types
}
