package lock

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// Lease records the locks held for one job. Only locks actually taken are released.
type Lease struct {
	registry *Registry
	once     sync.Once

	pending       bool
	pendingID     uint64
	exclusive     bool
	runningWeight int64
	syncStep      bool
	locals        []*semaphore.Weighted
}

// Exclusive reports whether the lease holds the exclusive lock
func (l *Lease) Exclusive() bool {
	return l != nil && l.exclusive
}

// Release gives the locks back in reverse acquisition order. It is safe to call more than once.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		for i := len(l.locals) - 1; i >= 0; i-- {
			l.locals[i].Release(1)
		}
		l.locals = nil

		if l.syncStep {
			l.registry.syncStep.Release(1)
			l.syncStep = false
		}

		if l.runningWeight > 0 {
			l.registry.running.Release(l.runningWeight)
			l.runningWeight = 0
		}

		if l.exclusive {
			l.registry.exclusive.Release(1)
			l.exclusive = false
		}

		if l.pending {
			l.registry.removePending(l.pendingID)
			l.pending = false
		}
	})
}
