package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/runctl/internal/job"
	"github.com/stacklok/runctl/internal/trigger"
)

const (
	// SourcePendingChangesCheck tags jobs queued by the unmanaged changes check
	SourcePendingChangesCheck = "Pending changes check"

	// SourceStaleImportCheck tags jobs queued by the stale import check
	SourceStaleImportCheck = "Stale import check"

	// staleImportCheckPeriods is how often the stale import interval is sampled
	staleImportCheckPeriods = 4
)

// startChecks schedules the periodic unmanaged changes and stale import checks
func (e *Executor) startChecks(ctx context.Context, wg *sync.WaitGroup) {
	if d := e.settings.GetUnmanagedChangesCheckInterval(); d > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			every(ctx, d, e.checkPendingChanges)
		}()
	}

	if d := e.cfg.GetStaleImportInterval(); d > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			every(ctx, d/staleImportCheckPeriods, func(ctx context.Context) {
				e.checkStaleImports(ctx, time.Now(), d)
			})
		}()
	}
}

// every calls fn each period until ctx is done
func every(ctx context.Context, period time.Duration, fn func(ctx context.Context)) {
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// checkPendingChanges queues work for changes no queued job will pick up
func (e *Executor) checkPendingChanges(ctx context.Context) {
	jobs, err := trigger.PendingChangesJobs(ctx, e.client)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("Pending changes check failed", "agent", e.Name(), "error", err)
		}
		return
	}
	for _, j := range jobs {
		e.queue.Add(j, SourcePendingChangesCheck)
	}
}

// checkStaleImports queues a delta import for every partition not imported within maxAge
func (e *Executor) checkStaleImports(_ context.Context, now time.Time, maxAge time.Duration) {
	var stale []string
	e.importsMu.Lock()
	for _, p := range e.cfg.Partitions {
		last, ok := e.lastImports[p.Name]
		if !ok || now.Sub(last) >= maxAge {
			stale = append(stale, p.Name)
		}
	}
	e.importsMu.Unlock()

	for _, partition := range stale {
		slog.Info("Partition has not been imported recently", "agent", e.Name(), "partition", partition, "max_age", maxAge)
		e.queue.Add(job.Job{RunProfileType: job.TypeDeltaImport, Partition: partition}, SourceStaleImportCheck)
	}
}
