package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/stacklok/runctl/internal/client"
	"github.com/stacklok/runctl/internal/config"
	"github.com/stacklok/runctl/internal/script"
)

// ErrControllerDisabled is returned by Start when the agent's configuration is missing or disabled
var ErrControllerDisabled = errors.New("controller is disabled")

// ThresholdExceededError reports an import that staged more changes than the agent allows.
// It stops the controller and is never retried.
type ThresholdExceededError struct {
	AgentID        string
	RunProfileName string
	Partition      string
	Counter        string
	Limit          int
	Actual         int
}

func (e *ThresholdExceededError) Error() string {
	return fmt.Sprintf("staging threshold exceeded by %s on partition %s: %d %s (limit %d)",
		e.RunProfileName, e.Partition, e.Actual, e.Counter, e.Limit)
}

// checkThresholds returns a *ThresholdExceededError for the first import step whose staging
// counters exceed a configured limit
func checkThresholds(agent *config.AgentConfig, details *client.RunDetails) error {
	if agent.Thresholds == nil || agent.Thresholds.Staging == nil || details == nil {
		return nil
	}
	limits := agent.Thresholds.Staging

	for _, step := range details.Steps {
		if !step.Type.IsImport() || step.Staging == nil {
			continue
		}
		counters := []struct {
			name         string
			limit, value int
		}{
			{"adds", limits.Adds, step.Staging.Adds},
			{"updates", limits.Updates, step.Staging.Updates},
			{"renames", limits.Renames, step.Staging.Renames},
			{"deletes", limits.Deletes, step.Staging.Deletes},
			{"deleteAdds", limits.DeleteAdds, step.Staging.DeleteAdds},
			{"changes", limits.Changes, step.Staging.Changes()},
		}
		for _, c := range counters {
			if c.limit > 0 && c.value > c.limit {
				return &ThresholdExceededError{
					AgentID:        agent.ID,
					RunProfileName: details.RunProfileName,
					Partition:      agent.PartitionName(step.Partition),
					Counter:        c.name,
					Limit:          c.limit,
					Actual:         c.value,
				}
			}
		}
	}
	return nil
}

// isFatal reports whether err must stop the controller
func isFatal(err error) bool {
	var threshold *ThresholdExceededError
	var unexpected *script.UnexpectedChangeError
	return errors.As(err, &threshold) || errors.As(err, &unexpected)
}

// isCancellation reports whether err only reflects a cancelled context
func isCancellation(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(err, ctx.Err()))
}
