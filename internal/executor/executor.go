// Package executor runs the queued jobs of one agent. An Executor owns the agent's queue and
// triggers, takes the cross-agent locks for every job, executes the run profile with retries and
// chains follow-up work from the run result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/runctl/internal/bus"
	"github.com/stacklok/runctl/internal/client"
	"github.com/stacklok/runctl/internal/config"
	"github.com/stacklok/runctl/internal/job"
	"github.com/stacklok/runctl/internal/lock"
	"github.com/stacklok/runctl/internal/queue"
	"github.com/stacklok/runctl/internal/retry"
	"github.com/stacklok/runctl/internal/script"
	"github.com/stacklok/runctl/internal/status"
	"github.com/stacklok/runctl/internal/telemetry"
	"github.com/stacklok/runctl/internal/trigger"
)

// Deps are the collaborators shared by every executor of the process
type Deps struct {
	Client   client.ExecutionClient
	Locks    *lock.Registry
	Bus      *bus.Bus
	Sequence *job.Sequence
	Triggers *trigger.Registry
}

// Completion describes a run processed by an executor, managed or not
type Completion struct {
	ExecutionID string
	AgentID     string
	AgentName   string
	Job         job.Job
	Details     *client.RunDetails
	Result      string
	Attempts    int
	Unmanaged   bool
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

// CompletionListener is notified of every processed run
type CompletionListener interface {
	RunCompleted(ctx context.Context, c Completion)
}

// CompletionListenerFunc adapts a function to CompletionListener
type CompletionListenerFunc func(ctx context.Context, c Completion)

// RunCompleted calls f
func (f CompletionListenerFunc) RunCompleted(ctx context.Context, c Completion) {
	f(ctx, c)
}

// FatalHandler is told about errors that stopped the controller
type FatalHandler func(agentID string, err error)

// Executor is the controller of one agent
type Executor struct {
	cfg      *config.ControllerConfig
	settings config.Settings
	client   client.ExecutionClient
	locks    *lock.Registry
	bus      *bus.Bus
	triggers *trigger.Registry
	queue    *queue.Queue
	policy   retry.Policy

	hook      script.Hook
	observers []status.Observer
	listeners []CompletionListener
	fatal     FatalHandler
	metrics   *telemetry.ExecutionMetrics
	tracer    trace.Tracer

	// publishMu keeps observers notified in transition order
	publishMu sync.Mutex

	mu         sync.Mutex
	status     status.ExecutorStatus
	cancelFunc context.CancelFunc
	done       chan struct{}
	stopping   bool
	hub        *trigger.Hub
	sub        *bus.Subscription
	runCancel  context.CancelFunc

	// watermark is only touched by the consume loop once Start has returned
	watermark int64

	importsMu   sync.Mutex
	lastImports map[string]time.Time
}

// Option configures an Executor
type Option func(*Executor)

// WithHook attaches a controller script
func WithHook(hook script.Hook) Option {
	return func(e *Executor) {
		e.hook = hook
	}
}

// WithStatusObserver registers an observer of status transitions
func WithStatusObserver(observer status.Observer) Option {
	return func(e *Executor) {
		e.observers = append(e.observers, observer)
	}
}

// WithCompletionListener registers a listener for processed runs
func WithCompletionListener(listener CompletionListener) Option {
	return func(e *Executor) {
		e.listeners = append(e.listeners, listener)
	}
}

// WithFatalHandler sets the handler told about errors that stopped the controller
func WithFatalHandler(handler FatalHandler) Option {
	return func(e *Executor) {
		e.fatal = handler
	}
}

// WithMetrics sets the execution metrics
func WithMetrics(metrics *telemetry.ExecutionMetrics) Option {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

// WithTracer sets the tracer used for job spans
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// New creates an executor for the agent. A nil configuration yields an executor that can only
// report itself disabled.
func New(cfg *config.ControllerConfig, settings config.Settings, deps Deps, opts ...Option) *Executor {
	e := &Executor{
		settings: settings,
		client:   deps.Client,
		locks:    deps.Locks,
		bus:      deps.Bus,
		triggers: deps.Triggers,
		policy: retry.Policy{
			RetryableCodes: settings.GetRetryCodes(),
			MaxRetries:     settings.GetMaxRetries(),
			BaseInterval:   settings.GetRetryBaseInterval(),
		},
		lastImports: make(map[string]time.Time),
	}
	if cfg != nil {
		copied := *cfg
		e.cfg = &copied
	}
	if e.locks == nil {
		e.locks = lock.NewRegistry()
	}
	if e.bus == nil {
		e.bus = bus.New()
	}
	if e.triggers == nil {
		e.triggers = trigger.DefaultRegistry()
	}
	sequence := deps.Sequence
	if sequence == nil {
		sequence = job.NewSequence()
	}

	for _, opt := range opts {
		opt(e)
	}

	var resolver queue.Resolver
	if e.cfg != nil {
		resolver = &e.cfg.AgentConfig
		e.status.AgentID = e.cfg.ID
		e.status.AgentName = e.cfg.GetName()
	}
	e.status.ControlState = status.ControlStateStopped
	e.status.ExecutionState = status.ExecutionStateIdle

	e.queue = queue.New(resolver, sequence,
		queue.WithAgentName(e.Name()),
		queue.WithExclusivePolicy(e.isExclusive),
		queue.WithAddObserver(func(j job.Job) {
			e.metrics.RecordJobEnqueued(context.Background(), e.Name(), j.Source)
		}),
		queue.WithChangeObserver(func(length int) {
			e.metrics.RecordQueueLength(context.Background(), e.Name(), length)
			e.update(func(*status.ExecutorStatus) {})
		}),
	)

	return e
}

// ID returns the agent ID
func (e *Executor) ID() string {
	if e.cfg == nil {
		return ""
	}
	return e.cfg.ID
}

// Name returns the agent display name
func (e *Executor) Name() string {
	if e.cfg == nil {
		return ""
	}
	return e.cfg.GetName()
}

// AppliedVersion returns the configuration version the executor runs with
func (e *Executor) AppliedVersion() uint64 {
	if e.cfg == nil {
		return 0
	}
	return e.cfg.Version
}

// AppliedSettings returns the process-wide settings the executor was built with
func (e *Executor) AppliedSettings() config.Settings {
	return e.settings
}

// Status returns the current status
func (e *Executor) Status() status.ExecutorStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.status
	s.QueueSnapshot = e.queue.String()
	return s
}

// QueuedJobs returns the jobs waiting in the queue
func (e *Executor) QueuedJobs() []job.Job {
	return e.queue.Jobs()
}

// Add queues a job on behalf of source
func (e *Executor) Add(j job.Job, source string) queue.Outcome {
	return e.queue.Add(j, source)
}

// CancelRun cancels the job being executed, if any. The controller keeps running.
func (e *Executor) CancelRun() bool {
	e.mu.Lock()
	cancel := e.runCancel
	e.mu.Unlock()
	if cancel == nil {
		return false
	}
	slog.Info("Cancelling current run", "agent", e.Name())
	cancel()
	return true
}

// Start verifies the agent, starts its triggers and periodic checks and begins consuming the
// queue. It returns once the controller is running.
func (e *Executor) Start(ctx context.Context) error {
	if e.cfg == nil || e.cfg.Missing || e.cfg.Disabled {
		e.update(func(s *status.ExecutorStatus) {
			s.ControlState = status.ControlStateDisabled
			s.ExecutionState = status.ExecutionStateIdle
			s.Message = "Controller is disabled"
		})
		slog.Info("Controller not started, agent is disabled", "agent", e.Name())
		return ErrControllerDisabled
	}

	e.mu.Lock()
	if e.cancelFunc != nil {
		e.mu.Unlock()
		return fmt.Errorf("controller for agent %s is already running", e.Name())
	}
	ctrlCtx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel
	e.mu.Unlock()

	e.update(func(s *status.ExecutorStatus) {
		s.ControlState = status.ControlStateStarting
		s.Message = ""
		s.AppliedVersion = e.cfg.Version
	})
	slog.Info("Starting controller", "agent", e.Name(), "version", e.cfg.Version)

	if err := e.prime(ctrlCtx); err != nil {
		cancel()
		e.mu.Lock()
		e.cancelFunc = nil
		e.mu.Unlock()
		e.update(func(s *status.ExecutorStatus) {
			s.ControlState = status.ControlStateStopped
			s.Message = err.Error()
		})
		return fmt.Errorf("failed to start controller for agent %s: %w", e.Name(), err)
	}

	hub := trigger.NewHub(trigger.Agent{ID: e.cfg.ID, Name: e.Name(), Client: e.client}, e.queue)
	for _, tc := range e.cfg.Triggers {
		if tc.Disabled {
			continue
		}
		t, err := e.triggers.New(tc)
		if err != nil {
			slog.Error("Failed to create trigger", "agent", e.Name(), "trigger", tc.Name, "error", err)
			continue
		}
		if err := hub.Register(ctrlCtx, t); err != nil {
			slog.Error("Failed to register trigger", "agent", e.Name(), "error", err)
		}
	}

	sub := e.bus.Subscribe(e.cfg.ID)
	done := make(chan struct{})

	e.mu.Lock()
	e.hub = hub
	e.sub = sub
	e.done = done
	e.stopping = false
	e.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.consume(ctrlCtx)
	}()
	go func() {
		defer wg.Done()
		e.receive(ctrlCtx, sub)
	}()
	e.startChecks(ctrlCtx, &wg)
	go func() {
		wg.Wait()
		close(done)
	}()

	e.update(func(s *status.ExecutorStatus) {
		s.ControlState = status.ControlStateRunning
		s.ExecutionState = status.ExecutionStateIdle
	})
	slog.Info("Controller started", "agent", e.Name(), "triggers", len(hub.Names()))
	return nil
}

// prime probes the agent and records the run number of its last completed run
func (e *Executor) prime(ctx context.Context) error {
	idle, err := e.client.IsIdle(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach agent: %w", err)
	}
	if idle {
		last, err := e.client.GetLastRun(ctx)
		if err != nil {
			return fmt.Errorf("failed to read last run: %w", err)
		}
		if last != nil {
			e.watermark = last.RunNumber
		}
	}

	now := time.Now()
	e.importsMu.Lock()
	for _, p := range e.cfg.Partitions {
		if _, ok := e.lastImports[p.Name]; !ok {
			e.lastImports[p.Name] = now
		}
	}
	e.importsMu.Unlock()
	return nil
}

// Stop cancels the controller, stops its triggers and waits for the current job up to the
// stop timeout. The controller ends up Stopped even when the wait times out.
func (e *Executor) Stop() error {
	e.mu.Lock()
	if e.cancelFunc == nil || e.stopping {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	cancel, done, hub, sub := e.cancelFunc, e.done, e.hub, e.sub
	e.mu.Unlock()

	e.update(func(s *status.ExecutorStatus) {
		s.ControlState = status.ControlStateStopping
	})
	slog.Info("Stopping controller", "agent", e.Name())

	cancel()

	var errs []error
	if hub != nil {
		if err := hub.StopAll(); err != nil {
			errs = append(errs, err)
		}
	}
	if sub != nil {
		sub.Close()
	}

	if done != nil {
		timeout := e.settings.GetStopTimeout()
		select {
		case <-done:
		case <-time.After(timeout):
			slog.Warn("Timed out waiting for controller to stop", "agent", e.Name(), "timeout", timeout)
			errs = append(errs, fmt.Errorf("controller for agent %s did not stop within %s", e.Name(), timeout))
		}
	}

	if n := e.queue.Len(); n > 0 {
		slog.Info("Discarding queued jobs", "agent", e.Name(), "count", n)
	}
	e.queue.Clear()

	e.mu.Lock()
	e.cancelFunc = nil
	e.done = nil
	e.hub = nil
	e.sub = nil
	e.stopping = false
	e.mu.Unlock()

	e.update(func(s *status.ExecutorStatus) {
		s.ControlState = status.ControlStateStopped
		s.ExecutionState = status.ExecutionStateIdle
		s.ExecutingJob = ""
	})
	slog.Info("Controller stopped", "agent", e.Name())

	return errors.Join(errs...)
}

// Done returns a channel closed once the goroutines of the current run have exited,
// or nil when the controller is not running
func (e *Executor) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// stopAsync stops the controller from one of its own goroutines
func (e *Executor) stopAsync(reason error) {
	e.update(func(s *status.ExecutorStatus) {
		s.Message = reason.Error()
	})
	go func() {
		if err := e.Stop(); err != nil {
			slog.Error("Failed to stop controller", "agent", e.Name(), "error", err)
		}
	}()
}

func (e *Executor) isExclusive(j job.Job) bool {
	touchesSync := e.cfg != nil && e.cfg.TouchesSync(j)
	return e.settings.GetRunMode().IsExclusive(j.Exclusive, touchesSync)
}

// update applies fn to the status and notifies the observers
func (e *Executor) update(fn func(s *status.ExecutorStatus)) {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	e.mu.Lock()
	fn(&e.status)
	if e.queue != nil {
		e.status.QueueSnapshot = e.queue.String()
	}
	e.status.UpdatedAt = time.Now().UTC()
	snapshot := e.status
	e.mu.Unlock()

	for _, o := range e.observers {
		o.StatusChanged(snapshot)
	}
}

func (e *Executor) setExecution(state status.ExecutionState, executing string) {
	e.update(func(s *status.ExecutorStatus) {
		s.ExecutionState = state
		s.ExecutingJob = executing
	})
}
