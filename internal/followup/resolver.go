// Package followup derives the jobs and cross-agent notifications that a completed run calls for.
package followup

import (
	"log/slog"

	"github.com/stacklok/runctl/internal/bus"
	"github.com/stacklok/runctl/internal/client"
	"github.com/stacklok/runctl/internal/config"
	"github.com/stacklok/runctl/internal/job"
)

// Result holds what a completed run calls for
type Result struct {
	// Jobs are queued on the agent that ran, in the order they were found
	Jobs []job.Job

	// Notifications are published to other agents
	Notifications []bus.SyncComplete
}

// IsEmpty reports whether the run needs no follow-up
func (r Result) IsEmpty() bool {
	return len(r.Jobs) == 0 && len(r.Notifications) == 0
}

// Resolve inspects the steps of a completed run of the agent.
//
// Steps are walked from the most recent to the oldest:
//   - an export with unconfirmed changes calls for a delta import of its partition, unless a
//     later step already imported that partition
//   - an import that staged changes calls for a delta synchronization of its partition, unless a
//     later step already synchronized that partition
//   - a synchronization whose outbound flows carry changes for another agent produces a
//     SyncComplete notification for that agent
//
// Follow-ups whose run profile is not configured are skipped with a warning.
func Resolve(agent *config.AgentConfig, details *client.RunDetails) Result {
	var result Result
	if agent == nil || details == nil {
		return result
	}

	seenImport := map[string]bool{}
	seenSync := map[string]bool{}
	queued := map[string]bool{}
	notified := map[string]bool{}

	propose := func(t job.RunProfileType, partition string, reason string) {
		name, ok := agent.ResolveRunProfile(t, partition)
		if !ok {
			slog.Warn("No run profile configured for follow-up",
				"agent", agent.GetName(),
				"run_profile_type", t.String(),
				"partition", partition,
				"reason", reason)
			return
		}
		if queued[name] {
			return
		}
		queued[name] = true
		result.Jobs = append(result.Jobs, job.Job{
			RunProfileName: name,
			RunProfileType: t,
			Partition:      partition,
			RunImmediate:   true,
		})
	}

	for i := len(details.Steps) - 1; i >= 0; i-- {
		step := &details.Steps[i]
		partition := agent.PartitionName(step.Partition)

		switch {
		case step.Type.IsExport():
			if step.Export.HasChanges() && !seenImport[partition] {
				propose(job.TypeDeltaImport, partition, "unconfirmed exports")
			}

		case step.Type.IsImport():
			if step.Staging.HasChanges() && !seenSync[partition] {
				propose(job.TypeDeltaSync, partition, "staged changes")
			}
			seenImport[partition] = true

		case step.Type.IsSync():
			for _, flow := range step.OutboundFlows {
				if !flow.HasChanges() || flow.TargetAgentID == "" || notified[flow.TargetAgentID] {
					continue
				}
				notified[flow.TargetAgentID] = true
				result.Notifications = append(result.Notifications, bus.SyncComplete{
					SourceAgentID:   agent.ID,
					SourceAgentName: agent.GetName(),
					TargetAgentID:   flow.TargetAgentID,
				})
			}
			seenSync[partition] = true
		}
	}

	return result
}
