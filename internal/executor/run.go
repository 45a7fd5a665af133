package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/runctl/internal/bus"
	"github.com/stacklok/runctl/internal/client"
	"github.com/stacklok/runctl/internal/followup"
	"github.com/stacklok/runctl/internal/job"
	"github.com/stacklok/runctl/internal/lock"
	"github.com/stacklok/runctl/internal/otel"
	"github.com/stacklok/runctl/internal/retry"
	"github.com/stacklok/runctl/internal/script"
	"github.com/stacklok/runctl/internal/status"
	"github.com/stacklok/runctl/internal/telemetry"
)

const (
	// SourceUnmanagedRun tags runs that were started outside this process
	SourceUnmanagedRun = "Unmanaged run"

	resultInProgress = "in-progress"
)

// consume takes jobs from the queue until ctx is done
func (e *Executor) consume(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("controller loop panicked: %v", r)
			slog.Error("Unrecoverable controller failure", "agent", e.Name(), "error", err)
			e.reportFatal(err)
			e.stopAsync(err)
		}
	}()

	for {
		j, err := e.queue.Take(ctx)
		if err != nil {
			return
		}

		err = e.processJob(ctx, j)
		e.queue.ClearStaged()
		e.setExecution(status.ExecutionStateIdle, "")

		if err != nil && e.handleJobError(ctx, j, err) {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// processJob runs one job through locks, retries and completion
func (e *Executor) processJob(ctx context.Context, j job.Job) error {
	jobCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.runCancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.runCancel = nil
		e.mu.Unlock()
		cancel()
	}()

	j.Exclusive = e.isExclusive(j)
	executionID := uuid.NewString()
	logger := slog.With("agent", e.Name(), "run_profile", j.RunProfileName, "execution_id", executionID)

	jobCtx, span := otel.StartSpan(jobCtx, e.tracer, telemetry.RunSpanPrefix+"job",
		trace.WithAttributes(
			otel.AttrAgentID.String(e.cfg.ID),
			otel.AttrAgentName.String(e.Name()),
			otel.AttrRunProfile.String(j.RunProfileName),
			otel.AttrJobSource.String(j.Source),
			otel.AttrQueueID.Int64(int64(j.QueueID)),
			otel.AttrExecutionID.String(executionID),
			otel.AttrExclusive.Bool(j.Exclusive),
		),
	)
	defer span.End()

	if err := e.handleUnmanagedRun(jobCtx); err != nil {
		if isFatal(err) || jobCtx.Err() != nil {
			otel.RecordError(span, err)
			return err
		}
		logger.Error("Failed to process unmanaged run", "error", err)
	}

	if e.hook != nil {
		ok, err := e.hook.ShouldExecute(jobCtx, j.RunProfileName)
		if err != nil {
			otel.RecordError(span, err)
			return fmt.Errorf("controller script rejected %s: %w", j.RunProfileName, err)
		}
		if !ok {
			logger.Info("Controller script skipped run")
			return nil
		}
	}

	e.setExecution(status.ExecutionStateWaiting, j.String())
	lease, err := e.locks.Acquire(jobCtx, lock.Request{
		AgentID:       e.cfg.ID,
		QueueID:       j.QueueID,
		Exclusive:     j.Exclusive,
		SyncStep:      e.cfg.RequiresSyncLock(j),
		ForeignAgents: e.cfg.LockedAgents,
	})
	if err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to acquire locks: %w", err)
	}
	defer lease.Release()
	// requests equal to this job arriving from now on must run again after it
	e.queue.ClearStaged()

	e.setExecution(status.ExecutionStateRunning, j.String())
	logger.Info("Executing run profile", "source", j.Source, "exclusive", j.Exclusive)

	started := time.Now()
	outcome, details, err := e.execute(jobCtx, j)
	if err != nil {
		if details != nil && details.RunNumber > e.watermark {
			e.watermark = details.RunNumber
		}
		otel.RecordError(span, err)
		e.metrics.RecordRun(ctx, e.Name(), j.RunProfileName, "error", outcome.Attempts, time.Since(started))
		e.notifyCompletion(ctx, Completion{
			ExecutionID: executionID,
			Job:         j,
			Result:      outcome.Result,
			Attempts:    outcome.Attempts,
			Err:         err,
			StartedAt:   started,
			FinishedAt:  time.Now(),
		})
		return err
	}

	e.settle(jobCtx)
	lease.Release()

	finished := time.Now()
	e.metrics.RecordRun(ctx, e.Name(), j.RunProfileName, outcome.Result, outcome.Attempts, finished.Sub(started))
	span.SetAttributes(otel.AttrAttempts.Int(outcome.Attempts))
	otel.RecordResult(span, outcome.Result)
	logger.Info("Run profile completed", "result", outcome.Result, "attempts", outcome.Attempts,
		"exhausted", outcome.Exhausted, "duration", finished.Sub(started))

	e.setExecution(status.ExecutionStateProcessing, j.String())
	err = e.complete(ctx, Completion{
		ExecutionID: executionID,
		Job:         j,
		Details:     details,
		Result:      outcome.Result,
		Attempts:    outcome.Attempts,
		StartedAt:   started,
		FinishedAt:  finished,
	})
	if err != nil {
		otel.RecordError(span, err)
	}
	return err
}

// execute runs the job through the retry policy. Every attempt is followed by fetching the
// last run so that decisions use the result the agent reports.
func (e *Executor) execute(ctx context.Context, j job.Job) (retry.Outcome, *client.RunDetails, error) {
	var details *client.RunDetails

	outcome, err := e.policy.Execute(ctx, func(ctx context.Context, attempt int) (string, error) {
		code, err := e.client.ExecuteRunProfile(ctx, j.RunProfileName)
		var execErr *client.ExecutionError
		if err != nil && !errors.As(err, &execErr) {
			return "", fmt.Errorf("failed to execute %s: %w", j.RunProfileName, err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		last, err := e.client.GetLastRun(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to fetch result of %s: %w", j.RunProfileName, err)
		}
		details = last

		switch {
		case last != nil && last.Result != "":
			code = last.Result
		case execErr != nil:
			code = execErr.ResultCode
		}
		slog.Debug("Run attempt finished", "agent", e.Name(), "run_profile", j.RunProfileName,
			"attempt", attempt, "result", code)
		return code, nil
	})
	return outcome, details, err
}

// settle sleeps the post-run interval while the job's locks are still held
func (e *Executor) settle(ctx context.Context) {
	d := e.settings.GetPostRunSettleInterval()
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// handleUnmanagedRun processes a run this process did not start. A run still in progress is
// waited for under the agent's local locks; a finished one is picked up by its run number.
func (e *Executor) handleUnmanagedRun(ctx context.Context) error {
	idle, err := e.client.IsIdle(ctx)
	if err != nil {
		return fmt.Errorf("failed to check whether agent is idle: %w", err)
	}
	if idle {
		last, err := e.client.GetLastRun(ctx)
		if err != nil {
			return fmt.Errorf("failed to read last run: %w", err)
		}
		if !e.isUnmanaged(last) {
			return nil
		}
		ctx, span := e.startUnmanagedSpan(ctx)
		defer span.End()

		started := last.StartTime
		if started.IsZero() {
			started = time.Now()
		}
		return e.completeUnmanaged(ctx, span, last, started)
	}

	current, err := e.client.GetLastRun(ctx)
	if err != nil {
		return fmt.Errorf("failed to read run in progress: %w", err)
	}
	syncStep := current.HasSyncStep()
	if current != nil && e.cfg.RequiresSyncLock(job.Job{RunProfileName: current.RunProfileName}) {
		syncStep = true
	}

	ctx, span := e.startUnmanagedSpan(ctx)
	defer span.End()

	slog.Info("Waiting for run started outside the controller", "agent", e.Name())
	e.setExecution(status.ExecutionStateWaiting, SourceUnmanagedRun)

	started := time.Now()
	lease, err := e.locks.AcquireLocal(ctx, e.cfg.ID, syncStep)
	if err != nil {
		return fmt.Errorf("failed to acquire locks for unmanaged run: %w", err)
	}
	err = e.client.Wait(ctx)
	lease.Release()
	if err != nil {
		return fmt.Errorf("failed waiting for unmanaged run: %w", err)
	}

	details, err := e.client.GetLastRun(ctx)
	if err != nil {
		return fmt.Errorf("failed to read unmanaged run: %w", err)
	}
	if !e.isUnmanaged(details) {
		return nil
	}
	return e.completeUnmanaged(ctx, span, details, started)
}

// isUnmanaged reports whether details describe a finished run newer than the watermark
func (e *Executor) isUnmanaged(details *client.RunDetails) bool {
	return details != nil && details.RunNumber > e.watermark && details.Result != resultInProgress
}

func (e *Executor) startUnmanagedSpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.StartSpan(ctx, e.tracer, telemetry.RunSpanPrefix+"unmanaged_run",
		trace.WithAttributes(otel.AttrAgentName.String(e.Name())))
}

func (e *Executor) completeUnmanaged(ctx context.Context, span trace.Span, details *client.RunDetails, started time.Time) error {
	slog.Info("Processing unmanaged run", "agent", e.Name(), "run_profile", details.RunProfileName,
		"run_number", details.RunNumber, "result", details.Result)
	e.setExecution(status.ExecutionStateProcessing, details.RunProfileName)

	err := e.complete(ctx, Completion{
		ExecutionID: uuid.NewString(),
		Job:         job.Job{RunProfileName: details.RunProfileName, Source: SourceUnmanagedRun},
		Details:     details,
		Result:      details.Result,
		Unmanaged:   true,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	})
	if err != nil {
		otel.RecordError(span, err)
	}
	return err
}

// complete processes a finished run: threshold check, follow-ups, notifications and hooks
func (e *Executor) complete(ctx context.Context, c Completion) (err error) {
	defer func() {
		c.Err = err
		e.notifyCompletion(ctx, c)
	}()

	details := c.Details
	if details != nil {
		e.watermark = details.RunNumber
		e.recordImports(details)
	}

	e.update(func(s *status.ExecutorStatus) {
		s.LastRunProfileName = c.Job.RunProfileName
		s.LastRunResult = c.Result
	})

	if err := checkThresholds(&e.cfg.AgentConfig, details); err != nil {
		return err
	}

	result := followup.Resolve(&e.cfg.AgentConfig, details)
	source := fmt.Sprintf("Follow-up of %s", c.Job.RunProfileName)
	for _, j := range result.Jobs {
		e.queue.Add(j, source)
	}
	for _, n := range result.Notifications {
		if delivered := e.bus.Publish(n); delivered == 0 {
			slog.Debug("No controller listening for sync notification", "agent", e.Name(), "target", n.TargetAgentID)
		}
	}

	if e.hook != nil && details != nil {
		if err := e.hook.ExecutionComplete(ctx, details); err != nil {
			return fmt.Errorf("controller script failed after %s: %w", c.Job.RunProfileName, err)
		}
	}
	return nil
}

func (e *Executor) notifyCompletion(ctx context.Context, c Completion) {
	c.AgentID = e.cfg.ID
	c.AgentName = e.Name()
	for _, l := range e.listeners {
		l.RunCompleted(ctx, c)
	}
}

// recordImports remembers when each partition was last imported, for the stale import check
func (e *Executor) recordImports(details *client.RunDetails) {
	now := time.Now()
	e.importsMu.Lock()
	defer e.importsMu.Unlock()
	for _, step := range details.Steps {
		if step.Type.IsImport() {
			e.lastImports[e.cfg.PartitionName(step.Partition)] = now
		}
	}
}

// receive enqueues an export whenever another agent's synchronization produced changes for
// this agent
func (e *Executor) receive(ctx context.Context, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			e.onSyncComplete(msg)
		}
	}
}

func (e *Executor) onSyncComplete(msg bus.SyncComplete) {
	if e.Status().ControlState != status.ControlStateRunning {
		slog.Debug("Ignoring sync notification while not running", "agent", e.Name(), "source_agent", msg.SourceAgentName)
		return
	}
	e.queue.Add(job.Job{RunProfileType: job.TypeExport}, fmt.Sprintf("Synchronization on %s", msg.SourceAgentName))
}

// handleJobError classifies the error of one job and reports whether it stopped the controller
func (e *Executor) handleJobError(ctx context.Context, j job.Job, err error) bool {
	if isCancellation(ctx, err) {
		slog.Debug("Run cancelled", "agent", e.Name(), "run_profile", j.RunProfileName)
		return false
	}

	var threshold *ThresholdExceededError
	var unexpected *script.UnexpectedChangeError
	switch {
	case errors.As(err, &threshold):
		slog.Error("Staging threshold exceeded, stopping controller", "agent", e.Name(),
			"run_profile", j.RunProfileName, "partition", threshold.Partition,
			"counter", threshold.Counter, "limit", threshold.Limit, "actual", threshold.Actual)
		e.reportFatal(err)
		e.stopAsync(err)
		return true

	case errors.As(err, &unexpected):
		slog.Error("Controller script reported an unexpected change", "agent", e.Name(),
			"run_profile", j.RunProfileName, "severe", unexpected.Severe, "error", err)
		e.reportFatal(err)
		e.stopAsync(err)
		return true

	default:
		slog.Error("Run failed", "agent", e.Name(), "run_profile", j.RunProfileName, "source", j.Source, "error", err)
		e.update(func(s *status.ExecutorStatus) {
			s.Message = err.Error()
		})
		return false
	}
}

func (e *Executor) reportFatal(err error) {
	if e.fatal != nil {
		e.fatal(e.ID(), err)
	}
}
