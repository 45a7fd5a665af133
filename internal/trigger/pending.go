package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/stacklok/runctl/internal/client"
	"github.com/stacklok/runctl/internal/config"
	"github.com/stacklok/runctl/internal/job"
)

const (
	// TypePendingChanges polls the agent for partitions with pending imports or exports
	TypePendingChanges = "pending-changes"

	defaultPendingChangesInterval = 5 * time.Minute
)

// PendingChangesJobs asks the client which partitions have work waiting and returns an export
// for each partition with pending exports and a delta synchronization for each partition with
// pending imports
func PendingChangesJobs(ctx context.Context, c client.ExecutionClient) ([]job.Job, error) {
	var jobs []job.Job

	hasExports, err := c.HasPendingExports(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check pending exports: %w", err)
	}
	if hasExports {
		partitions, err := c.GetPendingExportPartitions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending export partitions: %w", err)
		}
		for _, p := range partitions {
			jobs = append(jobs, job.Job{RunProfileType: job.TypeExport, Partition: p})
		}
	}

	hasImports, err := c.HasPendingImports(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check pending imports: %w", err)
	}
	if hasImports {
		partitions, err := c.GetPendingImportPartitions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending import partitions: %w", err)
		}
		for _, p := range partitions {
			jobs = append(jobs, job.Job{RunProfileType: job.TypeDeltaSync, Partition: p})
		}
	}

	return jobs, nil
}

// PendingChangesTrigger periodically fires the jobs returned by PendingChangesJobs
type PendingChangesTrigger struct {
	ticker
	runImmediate bool
}

// NewPendingChangesTrigger builds a pending-changes trigger from its configuration
func NewPendingChangesTrigger(cfg config.TriggerConfig) (Trigger, error) {
	return &PendingChangesTrigger{
		ticker: ticker{
			name:     triggerName(cfg),
			interval: cfg.GetInterval(defaultPendingChangesInterval),
		},
		runImmediate: cfg.RunImmediate,
	}, nil
}

// DisplayName implements Trigger
func (t *PendingChangesTrigger) DisplayName() string {
	return t.name
}

// Start implements Trigger
func (t *PendingChangesTrigger) Start(ctx context.Context, agent Agent, sink Sink) error {
	if agent.Client == nil {
		return fmt.Errorf("agent %s has no execution client", agent.ID)
	}
	return t.start(ctx, func(ctx context.Context) {
		jobs, err := PendingChangesJobs(ctx, agent.Client)
		if err != nil {
			if ctx.Err() == nil {
				sink.Error(err.Error())
			}
			return
		}
		for _, j := range jobs {
			j.RunImmediate = t.runImmediate
			sink.Fire(j)
		}
	})
}

// Stop implements Trigger
func (t *PendingChangesTrigger) Stop() error {
	return t.stop()
}
