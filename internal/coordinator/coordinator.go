// Package coordinator owns the executors of every configured agent. It shares the lock registry,
// message bus and QueueID sequence between them, restarts executors whose configuration version
// changed and bounds process shutdown.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/runctl/internal/bus"
	"github.com/stacklok/runctl/internal/client"
	"github.com/stacklok/runctl/internal/config"
	"github.com/stacklok/runctl/internal/executor"
	"github.com/stacklok/runctl/internal/job"
	"github.com/stacklok/runctl/internal/lock"
	"github.com/stacklok/runctl/internal/script"
	"github.com/stacklok/runctl/internal/trigger"
)

// ErrAgentNotFound is returned for agents that are not part of the configuration
var ErrAgentNotFound = errors.New("agent not found")

// ClientFactory creates the execution client of an agent
type ClientFactory func(agent config.AgentConfig) (client.ExecutionClient, error)

// HookFactory returns the controller script of an agent, or nil for none
type HookFactory func(agent config.AgentConfig) script.Hook

// Coordinator manages the executors of all agents
type Coordinator struct {
	store    *config.Store
	clients  ClientFactory
	hooks    HookFactory
	locks    *lock.Registry
	bus      *bus.Bus
	sequence *job.Sequence
	triggers *trigger.Registry
	execOpts []executor.Option

	mu        sync.Mutex
	ctx       context.Context
	executors map[string]*executor.Executor
	order     []string
}

// Option configures the coordinator
type Option func(*Coordinator)

// WithLockRegistry sets the lock registry shared by the executors
func WithLockRegistry(locks *lock.Registry) Option {
	return func(c *Coordinator) {
		c.locks = locks
	}
}

// WithBus sets the message bus shared by the executors
func WithBus(b *bus.Bus) Option {
	return func(c *Coordinator) {
		c.bus = b
	}
}

// WithTriggerRegistry sets the registry used to build triggers
func WithTriggerRegistry(r *trigger.Registry) Option {
	return func(c *Coordinator) {
		c.triggers = r
	}
}

// WithHookFactory sets the factory of controller scripts
func WithHookFactory(f HookFactory) Option {
	return func(c *Coordinator) {
		c.hooks = f
	}
}

// WithExecutorOptions adds options applied to every executor
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(c *Coordinator) {
		c.execOpts = append(c.execOpts, opts...)
	}
}

// New creates a coordinator for the agents of store. The lock registry defaults to one built
// from the store's settings.
func New(store *config.Store, clients ClientFactory, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		clients:   clients,
		sequence:  job.NewSequence(),
		executors: make(map[string]*executor.Executor),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.locks == nil {
		settings := store.Settings()
		c.locks = lock.NewRegistry(
			lock.WithLockMode(settings.GetLockMode()),
			lock.WithStaggerInterval(settings.GetStaggerInterval()),
			lock.WithSyncSerialization(settings.GetSerializeSyncSteps()),
		)
	}
	if c.bus == nil {
		c.bus = bus.New()
	}
	if c.triggers == nil {
		c.triggers = trigger.DefaultRegistry()
	}
	return c
}

// Start creates and starts an executor for every configured agent. Agents that fail to start
// are reported in the returned error; the others keep running.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	configs := c.store.List()
	slog.Info("Starting controllers", "agent_count", len(configs))

	var errs []error
	for _, cfg := range configs {
		if err := c.startAgent(ctx, cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// startAgent builds the executor of cfg, replacing any previous one, and starts it
func (c *Coordinator) startAgent(ctx context.Context, cfg config.ControllerConfig) error {
	e, err := c.build(cfg)
	if err != nil {
		slog.Error("Failed to create controller", "agent", cfg.GetName(), "error", err)
		return err
	}

	c.mu.Lock()
	if _, ok := c.executors[cfg.ID]; !ok {
		c.order = append(c.order, cfg.ID)
	}
	c.executors[cfg.ID] = e
	c.mu.Unlock()

	switch err := e.Start(ctx); {
	case errors.Is(err, executor.ErrControllerDisabled):
		slog.Info("Controller disabled", "agent", cfg.GetName(), "missing", cfg.Missing)
		return nil
	case err != nil:
		slog.Error("Failed to start controller", "agent", cfg.GetName(), "error", err)
		return err
	}
	return nil
}

func (c *Coordinator) build(cfg config.ControllerConfig) (*executor.Executor, error) {
	var execClient client.ExecutionClient
	if !cfg.Disabled && !cfg.Missing {
		var err error
		execClient, err = c.clients(cfg.AgentConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create execution client for agent %s: %w", cfg.ID, err)
		}
	}

	opts := c.execOpts
	if c.hooks != nil {
		if hook := c.hooks(cfg.AgentConfig); hook != nil {
			opts = append(append([]executor.Option{}, c.execOpts...), executor.WithHook(hook))
		}
	}

	return executor.New(&cfg, c.store.Settings(), executor.Deps{
		Client:   execClient,
		Locks:    c.locks,
		Bus:      c.bus,
		Sequence: c.sequence,
		Triggers: c.triggers,
	}, opts...), nil
}

// Executor returns the executor of an agent
func (c *Coordinator) Executor(agentID string) (*executor.Executor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.executors[agentID]
	return e, ok
}

// Executors returns every executor in configuration order
func (c *Coordinator) Executors() []*executor.Executor {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]*executor.Executor, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.executors[id])
	}
	return result
}

// StartAgent starts the controller of an agent with its current configuration
func (c *Coordinator) StartAgent(agentID string) error {
	cfg, ok := c.store.Get(agentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	if e, ok := c.Executor(agentID); ok {
		if e.Done() != nil {
			return nil
		}
		if !config.NeedsRestart(e.AppliedVersion(), cfg.Version) && !settingsChanged(e, c.store.Settings()) {
			return e.Start(c.context())
		}
	}
	return c.startAgent(c.context(), cfg)
}

// StopAgent stops the controller of an agent. Its queue is discarded.
func (c *Coordinator) StopAgent(agentID string) error {
	e, ok := c.Executor(agentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return e.Stop()
}

// Reload applies a freshly loaded configuration. Executors whose configuration version changed
// are restarted; agents no longer configured are stopped. When the process-wide settings changed,
// every running executor is restarted and stopped ones pick them up on their next start.
func (c *Coordinator) Reload(cfg *config.Config) (config.ReplaceResult, error) {
	result := c.store.Replace(cfg)
	slog.Info("Configuration reloaded",
		"added", len(result.Added),
		"changed", len(result.Changed),
		"removed", len(result.Removed),
		"settings_changed", result.SettingsChanged)

	settings := c.store.Settings()
	var errs []error
	for _, current := range c.store.List() {
		e, ok := c.Executor(current.ID)
		if ok && !c.needsRebuild(e, current, settings) {
			continue
		}
		if ok {
			slog.Info("Restarting controller with new configuration", "agent", current.GetName(),
				"applied_version", e.AppliedVersion(), "version", current.Version)
			if err := e.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := c.startAgent(c.context(), current); err != nil {
			errs = append(errs, err)
		}
	}
	return result, errors.Join(errs...)
}

// needsRebuild reports whether a reload has to replace the executor
func (*Coordinator) needsRebuild(e *executor.Executor, cfg config.ControllerConfig, settings config.Settings) bool {
	if config.NeedsRestart(e.AppliedVersion(), cfg.Version) {
		return true
	}
	return e.Done() != nil && settingsChanged(e, settings)
}

func settingsChanged(e *executor.Executor, settings config.Settings) bool {
	return !reflect.DeepEqual(e.AppliedSettings(), settings)
}

// Shutdown stops every executor concurrently, bounded by the shutdown timeout. A timeout is
// reported as an error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	settings := c.store.Settings()
	timeout := settings.GetShutdownTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	executors := c.Executors()
	slog.Info("Stopping controllers", "agent_count", len(executors), "timeout", timeout)

	var g errgroup.Group
	for _, e := range executors {
		g.Go(e.Stop)
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			slog.Warn("Some controllers did not stop cleanly", "error", err)
		}
		return err
	case <-ctx.Done():
		slog.Error("Timed out stopping controllers", "timeout", timeout)
		return fmt.Errorf("controllers did not stop within %s: %w", timeout, ctx.Err())
	}
}

// context returns the context executors are started with
func (c *Coordinator) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Settings returns the current process-wide settings
func (c *Coordinator) Settings() config.Settings {
	return c.store.Settings()
}
