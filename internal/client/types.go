package client

import (
	"time"

	"github.com/stacklok/runctl/internal/job"
)

// RunDetails describes a run as reported by the external system
type RunDetails struct {
	// RunNumber increases with every run of the agent and serves as the watermark
	// used to detect runs not started by this process
	RunNumber int64 `json:"runNumber"`

	// RunProfileName is the run profile that was executed
	RunProfileName string `json:"runProfileName"`

	// Result is the final result code, or "in-progress"
	Result string `json:"result"`

	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime,omitempty"`

	// Steps are ordered oldest first
	Steps []StepDetails `json:"steps,omitempty"`
}

// HasSyncStep reports whether any step of the run is a synchronization
func (r *RunDetails) HasSyncStep() bool {
	if r == nil {
		return false
	}
	for i := range r.Steps {
		if r.Steps[i].Type.IsSync() {
			return true
		}
	}
	return false
}

// StepDetails describes one step of a run
type StepDetails struct {
	StepNumber int                `json:"stepNumber"`
	Type       job.RunProfileType `json:"type"`
	Partition  string             `json:"partition,omitempty"`
	Result     string             `json:"result,omitempty"`

	// Staging counts changes written to the holding area by an import step
	Staging *StagingCounters `json:"staging,omitempty"`

	// Export counts changes written by an export step that have not been confirmed by an import
	Export *ExportCounters `json:"export,omitempty"`

	// OutboundFlows counts changes produced by a synchronization step for other agents
	OutboundFlows []OutboundFlowCounters `json:"outboundFlows,omitempty"`
}

// StagingCounters are the per-step import counters
type StagingCounters struct {
	Adds       int `json:"adds,omitempty"`
	Updates    int `json:"updates,omitempty"`
	Renames    int `json:"renames,omitempty"`
	Deletes    int `json:"deletes,omitempty"`
	DeleteAdds int `json:"deleteAdds,omitempty"`
}

// Changes returns the total number of staged changes
func (c *StagingCounters) Changes() int {
	if c == nil {
		return 0
	}
	return c.Adds + c.Updates + c.Renames + c.Deletes + c.DeleteAdds
}

// HasChanges reports whether anything was staged
func (c *StagingCounters) HasChanges() bool {
	return c.Changes() > 0
}

// ExportCounters are the per-step export counters
type ExportCounters struct {
	Adds       int `json:"adds,omitempty"`
	Updates    int `json:"updates,omitempty"`
	Renames    int `json:"renames,omitempty"`
	Deletes    int `json:"deletes,omitempty"`
	DeleteAdds int `json:"deleteAdds,omitempty"`
}

// HasChanges reports whether the step exported anything awaiting confirmation
func (c *ExportCounters) HasChanges() bool {
	if c == nil {
		return false
	}
	return c.Adds+c.Updates+c.Renames+c.Deletes+c.DeleteAdds > 0
}

// OutboundFlowCounters count the changes a synchronization produced for one target agent
type OutboundFlowCounters struct {
	TargetAgentID   string `json:"targetAgentId"`
	TargetAgentName string `json:"targetAgentName,omitempty"`
	Provisioning    int    `json:"provisioning,omitempty"`
	AttributeFlows  int    `json:"attributeFlows,omitempty"`
	Deprovisioning  int    `json:"deprovisioning,omitempty"`
}

// HasChanges reports whether the target agent has anything new to export
func (c OutboundFlowCounters) HasChanges() bool {
	return c.Provisioning+c.AttributeFlows+c.Deprovisioning > 0
}
