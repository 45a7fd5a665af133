package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/stacklok/runctl/internal/executor"
	"github.com/stacklok/runctl/internal/history"
	"github.com/stacklok/runctl/internal/script"
)

// historyWriteTimeout bounds one history insert
const historyWriteTimeout = 5 * time.Second

// defaultPruneInterval is how often expired runs are removed
const defaultPruneInterval = time.Hour

// historyRecorder is the part of the history store written by the completion listener
type historyRecorder interface {
	Record(ctx context.Context, run history.Run) (int64, error)
}

// toRun converts a processed run into its history record
func toRun(c executor.Completion) history.Run {
	run := history.Run{
		ExecutionID:    c.ExecutionID,
		AgentID:        c.AgentID,
		AgentName:      c.AgentName,
		RunProfileName: c.Job.RunProfileName,
		Source:         c.Job.Source,
		Result:         c.Result,
		Attempts:       c.Attempts,
		Unmanaged:      c.Unmanaged,
		StartedAt:      c.StartedAt,
		FinishedAt:     c.FinishedAt,
	}
	if c.Details != nil {
		run.RunNumber = c.Details.RunNumber
	}
	if c.Err != nil {
		run.Error = c.Err.Error()
	}
	return run
}

// historyListener records every processed run. Write failures are logged and never stop the executor.
func historyListener(store historyRecorder) executor.CompletionListener {
	return executor.CompletionListenerFunc(func(ctx context.Context, c executor.Completion) {
		// the run happened even if the controller is stopping
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
		defer cancel()

		if _, err := store.Record(ctx, toRun(c)); err != nil {
			if errors.Is(err, history.ErrDuplicateRun) {
				slog.Debug("Run already recorded", "execution_id", c.ExecutionID)
				return
			}
			slog.Error("Failed to record run", "agent", c.AgentName, "execution_id", c.ExecutionID, "error", err)
		}
	})
}

// pruneHistory removes runs older than retention until ctx is cancelled
func pruneHistory(ctx context.Context, store *history.Store, retention, interval time.Duration) {
	prune := func() {
		if _, err := store.Prune(ctx, time.Now().Add(-retention)); err != nil && ctx.Err() == nil {
			slog.Error("Failed to prune run history", "retention", retention, "error", err)
		}
	}

	prune()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// fatalHandler forwards errors that ask for process termination to fatal.
// Other controller failures only stop their own controller.
func fatalHandler(fatal chan<- error) executor.FatalHandler {
	return func(agentID string, err error) {
		var unexpected *script.UnexpectedChangeError
		if !errors.As(err, &unexpected) || !unexpected.Severe {
			return
		}
		slog.Error("Controller requested process termination", "agent", agentID, "error", err)
		select {
		case fatal <- err:
		default:
		}
	}
}
