package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/stacklok/runctl/internal/job"
	"github.com/stacklok/runctl/internal/queue"
)

// Enqueuer accepts the jobs fired by triggers. *queue.Queue implements it.
type Enqueuer interface {
	Add(j job.Job, source string) queue.Outcome
}

// Hub owns the started triggers of one agent and forwards their jobs to the agent's queue
type Hub struct {
	agent    Agent
	enqueuer Enqueuer

	mu      sync.Mutex
	entries []*hubEntry
}

type hubEntry struct {
	trigger Trigger
	sink    *hubSink
}

// NewHub creates a Hub for the agent
func NewHub(agent Agent, enqueuer Enqueuer) *Hub {
	return &Hub{agent: agent, enqueuer: enqueuer}
}

// Register starts the trigger and begins forwarding its jobs
func (h *Hub) Register(ctx context.Context, t Trigger) error {
	sink := &hubSink{agent: h.agent.Name, trigger: t.DisplayName(), enqueuer: h.enqueuer}
	if err := t.Start(ctx, h.agent, sink); err != nil {
		return fmt.Errorf("failed to start trigger '%s': %w", t.DisplayName(), err)
	}

	h.mu.Lock()
	h.entries = append(h.entries, &hubEntry{trigger: t, sink: sink})
	h.mu.Unlock()

	slog.Info("Trigger started", "agent", h.agent.Name, "trigger", t.DisplayName())
	return nil
}

// Unregister stops the trigger. Jobs it fires afterwards are ignored.
func (h *Hub) Unregister(t Trigger) error {
	h.mu.Lock()
	idx := slices.IndexFunc(h.entries, func(e *hubEntry) bool { return e.trigger == t })
	if idx < 0 {
		h.mu.Unlock()
		return fmt.Errorf("trigger '%s' is not registered", t.DisplayName())
	}
	entry := h.entries[idx]
	h.entries = slices.Delete(h.entries, idx, idx+1)
	h.mu.Unlock()

	return h.stop(entry)
}

// StopAll stops every registered trigger
func (h *Hub) StopAll() error {
	h.mu.Lock()
	entries := h.entries
	h.entries = nil
	h.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		if err := h.stop(entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Names returns the display names of the registered triggers
func (h *Hub) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, len(h.entries))
	for i, e := range h.entries {
		names[i] = e.trigger.DisplayName()
	}
	return names
}

func (h *Hub) stop(entry *hubEntry) error {
	entry.sink.closed.Store(true)
	if err := entry.trigger.Stop(); err != nil {
		return fmt.Errorf("failed to stop trigger '%s': %w", entry.trigger.DisplayName(), err)
	}
	slog.Info("Trigger stopped", "agent", h.agent.Name, "trigger", entry.trigger.DisplayName())
	return nil
}

// hubSink forwards one trigger's events
type hubSink struct {
	agent    string
	trigger  string
	enqueuer Enqueuer
	closed   atomic.Bool
}

func (s *hubSink) Message(text string) {
	slog.Info(text, "agent", s.agent, "trigger", s.trigger)
}

func (s *hubSink) Error(text string) {
	slog.Error(text, "agent", s.agent, "trigger", s.trigger)
}

func (s *hubSink) Fire(j job.Job) {
	if s.closed.Load() {
		return
	}
	if j.IsEmpty() {
		slog.Warn("Dropping trigger request without run profile name or type", "agent", s.agent, "trigger", s.trigger)
		return
	}
	s.enqueuer.Add(j, s.trigger)
}
