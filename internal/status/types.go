package status

import (
	"time"
)

// ControlState is the lifecycle state of an executor
type ControlState string

const (
	// ControlStateDisabled means the executor refused to start because its configuration
	// is absent, missing or disabled
	ControlStateDisabled ControlState = "Disabled"

	// ControlStateStopped means the executor is not running
	ControlStateStopped ControlState = "Stopped"

	// ControlStateStarting means the executor is starting its triggers and consume loop
	ControlStateStarting ControlState = "Starting"

	// ControlStateRunning means the executor is consuming its queue
	ControlStateRunning ControlState = "Running"

	// ControlStateStopping means the executor is winding down
	ControlStateStopping ControlState = "Stopping"
)

// ExecutionState is the activity of a running executor
type ExecutionState string

const (
	// ExecutionStateIdle means the executor is waiting for the next job
	ExecutionStateIdle ExecutionState = "Idle"

	// ExecutionStateWaiting means the executor is waiting for locks or for a run it did not start
	ExecutionStateWaiting ExecutionState = "Waiting"

	// ExecutionStateRunning means a run profile is executing
	ExecutionStateRunning ExecutionState = "Running"

	// ExecutionStateProcessing means the executor is evaluating the result of a run
	ExecutionStateProcessing ExecutionState = "Processing"
)

// ExecutorStatus is the externally visible state of one agent's executor
type ExecutorStatus struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`

	ControlState   ControlState   `json:"controlState"`
	ExecutionState ExecutionState `json:"executionState"`

	// ExecutingJob is the run profile currently executing or waited on
	ExecutingJob string `json:"executingJob,omitempty"`

	// QueueSnapshot is the comma-joined list of queued run profile names
	QueueSnapshot string `json:"queueSnapshot,omitempty"`

	LastRunProfileName string `json:"lastRunProfileName,omitempty"`
	LastRunResult      string `json:"lastRunResult,omitempty"`

	// Message carries the reason for the last control state change, if any
	Message string `json:"message,omitempty"`

	// AppliedVersion is the configuration version the executor was started with
	AppliedVersion uint64 `json:"appliedVersion,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Observer is notified of every executor status change
type Observer interface {
	StatusChanged(status ExecutorStatus)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(status ExecutorStatus)

// StatusChanged implements Observer
func (f ObserverFunc) StatusChanged(status ExecutorStatus) {
	f(status)
}
