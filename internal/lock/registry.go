// Package lock implements the process-wide lock hierarchy that serializes run profile
// executions across agents.
//
// Locks are always taken in the same order so that concurrent requests cannot deadlock:
//
//  1. exclusive lock (exclusive jobs hold it; other jobs wait for it to be free)
//  2. exclusive-running semaphore (exclusive jobs take every slot, other jobs take one)
//  3. sync-step lock (non-exclusive jobs running a synchronization step)
//  4. per-agent local locks, the agent's own and its locked peers, by ascending agent ID
//  5. stagger lock, held only for the configured minimum interval
//
// Release happens in the exact reverse order. Every wait honours context cancellation and
// a failed or cancelled acquisition releases whatever it had already taken.
package lock

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/stacklok/runctl/internal/config"
)

// runningSlots is the weight of the exclusive-running semaphore. Non-exclusive jobs take one
// slot each, an exclusive job takes all of them.
const runningSlots = 1 << 16

// Stage names a step of the acquisition protocol
type Stage string

const (
	// StageExclusive is the wait for the exclusive lock
	StageExclusive Stage = "exclusive"
	// StageDrain is an exclusive job waiting for every local lock to be free
	StageDrain Stage = "drain"
	// StageRunning is the wait on the exclusive-running semaphore
	StageRunning Stage = "running"
	// StageSync is the wait for the sync-step lock
	StageSync Stage = "sync"
	// StageLocal is the wait for per-agent local locks
	StageLocal Stage = "local"
	// StageStagger is the wait for, and sleep under, the stagger lock
	StageStagger Stage = "stagger"
)

// WaitObserver is notified of how long each acquisition stage waited
type WaitObserver func(agentID string, stage Stage, waited time.Duration)

// Request describes the locks one job needs
type Request struct {
	AgentID string

	// QueueID orders the request against pending exclusive jobs
	QueueID uint64

	Exclusive bool

	// SyncStep requests the sync-step lock. Ignored for exclusive requests.
	SyncStep bool

	// ForeignAgents are peers whose local locks are held for the duration of the job
	ForeignAgents []string
}

// Registry owns every lock of the process. One Registry is shared by all executors.
type Registry struct {
	mode            config.LockMode
	staggerInterval time.Duration
	syncEnabled     bool
	observer        WaitObserver

	exclusive *semaphore.Weighted
	running   *semaphore.Weighted
	syncStep  *semaphore.Weighted
	stagger   *semaphore.Weighted

	mu      sync.Mutex
	locals  map[string]*semaphore.Weighted
	pending map[uint64]struct{}
	changed chan struct{}
}

// Option configures a Registry
type Option func(*Registry)

// WithLockMode sets how non-exclusive jobs yield to pending exclusive jobs
func WithLockMode(mode config.LockMode) Option {
	return func(r *Registry) {
		r.mode = mode
	}
}

// WithStaggerInterval sets the minimum interval between two execution starts
func WithStaggerInterval(d time.Duration) Option {
	return func(r *Registry) {
		r.staggerInterval = d
	}
}

// WithSyncSerialization enables or disables the sync-step lock
func WithSyncSerialization(enabled bool) Option {
	return func(r *Registry) {
		r.syncEnabled = enabled
	}
}

// WithWaitObserver registers an observer for acquisition wait times
func WithWaitObserver(observer WaitObserver) Option {
	return func(r *Registry) {
		r.observer = observer
	}
}

// NewRegistry creates a Registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		mode:        config.LockModeStrictYield,
		syncEnabled: true,
		exclusive:   semaphore.NewWeighted(1),
		running:     semaphore.NewWeighted(runningSlots),
		syncStep:    semaphore.NewWeighted(1),
		stagger:     semaphore.NewWeighted(1),
		locals:      make(map[string]*semaphore.Weighted),
		pending:     make(map[uint64]struct{}),
		changed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Local returns the local lock of the agent, creating it on first use
func (r *Registry) Local(agentID string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locals[agentID]
	if !ok {
		l = semaphore.NewWeighted(1)
		r.locals[agentID] = l
	}
	return l
}

// Acquire takes every lock the request needs, blocking until they are all held or ctx is done
func (r *Registry) Acquire(ctx context.Context, req Request) (*Lease, error) {
	lease := &Lease{registry: r}
	fail := func(err error) (*Lease, error) {
		lease.Release()
		return nil, err
	}

	if req.Exclusive {
		r.addPending(req.QueueID)
		lease.pendingID = req.QueueID
		lease.pending = true

		if err := r.wait(ctx, req.AgentID, StageExclusive, r.exclusive, 1); err != nil {
			return fail(err)
		}
		lease.exclusive = true

		if err := r.drainLocals(ctx, req.AgentID); err != nil {
			return fail(err)
		}

		if err := r.wait(ctx, req.AgentID, StageRunning, r.running, runningSlots); err != nil {
			return fail(err)
		}
		lease.runningWeight = runningSlots

		r.removePending(req.QueueID)
		lease.pending = false
	} else {
		if err := r.waitForExclusive(ctx, req.AgentID, req.QueueID); err != nil {
			return fail(err)
		}

		if err := r.wait(ctx, req.AgentID, StageRunning, r.running, 1); err != nil {
			return fail(err)
		}
		lease.runningWeight = 1

		if req.SyncStep && r.syncEnabled {
			if err := r.wait(ctx, req.AgentID, StageSync, r.syncStep, 1); err != nil {
				return fail(err)
			}
			lease.syncStep = true
		}
	}

	for _, id := range localOrder(req.AgentID, req.ForeignAgents) {
		l := r.Local(id)
		if err := r.wait(ctx, req.AgentID, StageLocal, l, 1); err != nil {
			return fail(err)
		}
		lease.locals = append(lease.locals, l)
	}

	if err := r.staggerStart(ctx, req.AgentID); err != nil {
		return fail(err)
	}

	return lease, nil
}

// AcquireLocal takes the agent's local lock, preceded by the sync-step lock when syncStep is set.
// It is used while waiting on a run this process did not start.
func (r *Registry) AcquireLocal(ctx context.Context, agentID string, syncStep bool) (*Lease, error) {
	lease := &Lease{registry: r}

	if syncStep && r.syncEnabled {
		if err := r.wait(ctx, agentID, StageSync, r.syncStep, 1); err != nil {
			return nil, err
		}
		lease.syncStep = true
	}

	l := r.Local(agentID)
	if err := r.wait(ctx, agentID, StageLocal, l, 1); err != nil {
		lease.Release()
		return nil, err
	}
	lease.locals = append(lease.locals, l)

	return lease, nil
}

// waitForExclusive blocks while an exclusive job holds the exclusive lock and, depending on
// the lock mode, while exclusive jobs queued before queueID are still pending
func (r *Registry) waitForExclusive(ctx context.Context, agentID string, queueID uint64) error {
	yielded := false
	for {
		if err := r.wait(ctx, agentID, StageExclusive, r.exclusive, 1); err != nil {
			return err
		}
		r.exclusive.Release(1)

		if r.mode == config.LockModeNoYield {
			return nil
		}

		r.mu.Lock()
		lower := r.hasPendingBefore(queueID)
		changed := r.changed
		r.mu.Unlock()

		if !lower || (r.mode == config.LockModeYieldOnce && yielded) {
			return nil
		}

		slog.Debug("Yielding to pending exclusive job", "agent", agentID, "queue_id", queueID)
		yielded = true
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// drainLocals waits until every local lock known to the registry is free
func (r *Registry) drainLocals(ctx context.Context, agentID string) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.locals))
	for id := range r.locals {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.Sort(ids)

	for _, id := range ids {
		l := r.Local(id)
		if err := r.wait(ctx, agentID, StageDrain, l, 1); err != nil {
			return err
		}
		l.Release(1)
	}
	return nil
}

func (r *Registry) staggerStart(ctx context.Context, agentID string) error {
	start := time.Now()
	if err := r.stagger.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.stagger.Release(1)

	if r.staggerInterval > 0 {
		timer := time.NewTimer(r.staggerInterval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	r.observe(agentID, StageStagger, time.Since(start))
	return nil
}

func (r *Registry) wait(ctx context.Context, agentID string, stage Stage, s *semaphore.Weighted, n int64) error {
	if s.TryAcquire(n) {
		r.observe(agentID, stage, 0)
		return nil
	}
	start := time.Now()
	if err := s.Acquire(ctx, n); err != nil {
		return err
	}
	r.observe(agentID, stage, time.Since(start))
	return nil
}

func (r *Registry) observe(agentID string, stage Stage, waited time.Duration) {
	if r.observer != nil {
		r.observer(agentID, stage, waited)
	}
}

func (r *Registry) addPending(queueID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[queueID] = struct{}{}
}

func (r *Registry) removePending(queueID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[queueID]; !ok {
		return
	}
	delete(r.pending, queueID)
	close(r.changed)
	r.changed = make(chan struct{})
}

// hasPendingBefore must be called with mu held
func (r *Registry) hasPendingBefore(queueID uint64) bool {
	for id := range r.pending {
		if id < queueID {
			return true
		}
	}
	return false
}

// localOrder returns the agent and its foreign agents deduplicated, in ascending order
func localOrder(agentID string, foreign []string) []string {
	ids := make([]string, 0, len(foreign)+1)
	ids = append(ids, agentID)
	ids = append(ids, foreign...)
	slices.Sort(ids)
	return slices.Compact(ids)
}
