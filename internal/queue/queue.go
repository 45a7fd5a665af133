// Package queue provides the per-agent execution queue. A queue deduplicates jobs by resolved
// run profile name, lets RunImmediate jobs jump to the front and is consumed by a single executor.
package queue

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/stacklok/runctl/internal/job"
)

// Outcome describes what Add did with a job
type Outcome int

const (
	// Added means the job was queued
	Added Outcome = iota
	// Promoted means an equal queued job was moved to the front
	Promoted
	// Duplicate means an equal job was already queued
	Duplicate
	// Staged means an equal job has been taken and is about to run
	Staged
	// Unresolved means no run profile name could be resolved for the job
	Unresolved
)

func (o Outcome) String() string {
	switch o {
	case Added:
		return "added"
	case Promoted:
		return "promoted"
	case Duplicate:
		return "duplicate"
	case Staged:
		return "staged"
	case Unresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// Accepted reports whether the outcome changed the queue
func (o Outcome) Accepted() bool {
	return o == Added || o == Promoted
}

// Resolver maps a run profile type on a partition to a run profile name.
// *config.AgentConfig implements it.
type Resolver interface {
	ResolveRunProfile(t job.RunProfileType, partition string) (string, bool)
}

// Queue is the execution queue of one agent. It is safe for concurrent producers;
// Take must only be called by the owning executor.
type Queue struct {
	agent     string
	resolver  Resolver
	sequence  *job.Sequence
	exclusive func(job.Job) bool
	onChange  func(length int)
	onAdd     func(j job.Job)

	mu     sync.Mutex
	items  []job.Job
	staged *job.Job
	notify chan struct{}
}

// Option configures a Queue
type Option func(*Queue)

// WithAgentName sets the agent name used in log messages
func WithAgentName(name string) Option {
	return func(q *Queue) {
		q.agent = name
	}
}

// WithExclusivePolicy sets the function deciding whether a job runs exclusively
func WithExclusivePolicy(fn func(job.Job) bool) Option {
	return func(q *Queue) {
		q.exclusive = fn
	}
}

// WithChangeObserver registers a callback invoked with the queue length after every mutation.
// The callback runs without the queue lock held.
func WithChangeObserver(fn func(length int)) Option {
	return func(q *Queue) {
		q.onChange = fn
	}
}

// WithAddObserver registers a callback invoked for every job that is queued
func WithAddObserver(fn func(j job.Job)) Option {
	return func(q *Queue) {
		q.onAdd = fn
	}
}

// New creates an empty queue resolving names through resolver and numbering jobs from sequence
func New(resolver Resolver, sequence *job.Sequence, opts ...Option) *Queue {
	q := &Queue{
		resolver: resolver,
		sequence: sequence,
		notify:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Add queues the job on behalf of source
func (q *Queue) Add(j job.Job, source string) Outcome {
	if source != "" {
		j.Source = source
	}

	if j.RunProfileName == "" {
		name, ok := "", false
		if j.RunProfileType != job.TypeNone && q.resolver != nil {
			name, ok = q.resolver.ResolveRunProfile(j.RunProfileType, j.Partition)
		}
		if !ok {
			slog.Warn("Dropping job request without a configured run profile",
				"agent", q.agent,
				"run_profile_type", j.RunProfileType.String(),
				"partition", j.Partition,
				"source", j.Source)
			return Unresolved
		}
		j.RunProfileName = name
	}

	if q.exclusive != nil {
		j.Exclusive = q.exclusive(j)
	}

	outcome, length := q.insert(j)

	switch outcome {
	case Staged:
		slog.Debug("Dropping job already staged for execution", "agent", q.agent, "run_profile", j.RunProfileName, "source", j.Source)
	case Duplicate:
		slog.Debug("Dropping duplicate job", "agent", q.agent, "run_profile", j.RunProfileName, "source", j.Source)
	case Promoted:
		slog.Info("Moved queued job to the front", "agent", q.agent, "run_profile", j.RunProfileName, "source", j.Source)
	case Added:
		slog.Info("Queued job", "agent", q.agent, "run_profile", j.RunProfileName, "source", j.Source, "run_immediate", j.RunImmediate)
		if q.onAdd != nil {
			q.onAdd(j)
		}
	}

	if outcome.Accepted() {
		q.signal()
		if q.onChange != nil {
			q.onChange(length)
		}
	}
	return outcome
}

func (q *Queue) insert(j job.Job) (Outcome, int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.staged != nil && q.staged.Equal(j) {
		return Staged, len(q.items)
	}

	for i, existing := range q.items {
		if !existing.Equal(j) {
			continue
		}
		if j.RunImmediate && len(q.items) > 1 {
			if i > 0 {
				copy(q.items[1:i+1], q.items[:i])
				q.items[0] = existing
			}
			return Promoted, len(q.items)
		}
		return Duplicate, len(q.items)
	}

	j.QueueID = q.sequence.Next()
	if j.RunImmediate {
		q.items = append([]job.Job{j}, q.items...)
	} else {
		q.items = append(q.items, j)
	}
	return Added, len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Take blocks until a job is queued or ctx is done. The returned job becomes the staged job
// until ClearStaged is called, which the caller does once the job starts running.
func (q *Queue) Take(ctx context.Context) (job.Job, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			j := q.items[0]
			q.items = q.items[1:]
			q.staged = &j
			length := len(q.items)
			q.mu.Unlock()
			if q.onChange != nil {
				q.onChange(length)
			}
			return j, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return job.Job{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// ClearStaged forgets the job returned by the last Take
func (q *Queue) ClearStaged() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.staged = nil
}

// Staged returns the job returned by the last Take, if it has not been cleared
func (q *Queue) Staged() (job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.staged == nil {
		return job.Job{}, false
	}
	return *q.staged, true
}

// Snapshot returns the queued run profile names in queue order
func (q *Queue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, len(q.items))
	for i, j := range q.items {
		names[i] = j.RunProfileName
	}
	return names
}

// Jobs returns a copy of the queued jobs in queue order
func (q *Queue) Jobs() []job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]job.Job, len(q.items))
	copy(out, q.items)
	return out
}

// String returns the queued run profile names joined by commas
func (q *Queue) String() string {
	return strings.Join(q.Snapshot(), ",")
}

// Len returns the number of queued jobs
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear removes every queued job and the staged marker
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.staged = nil
	q.mu.Unlock()
	if q.onChange != nil {
		q.onChange(0)
	}
}
