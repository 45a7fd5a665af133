// Package client defines the contract of the external execution client that runs
// run profiles against a connector agent, and the run result model it produces.
package client

import (
	"context"
	"fmt"
)

// ResultSuccess is the result code of a run that completed without errors
const ResultSuccess = "success"

// ExecutionClient executes run profiles for a single agent.
// Every blocking call honours ctx cancellation.
//
//go:generate mockgen -destination=mocks/mock_execution_client.go -package=mocks -source=client.go ExecutionClient
type ExecutionClient interface {
	// ExecuteRunProfile runs the named run profile and returns its result code.
	// Failures that still carry a result code are returned as *ExecutionError.
	ExecuteRunProfile(ctx context.Context, runProfileName string) (string, error)

	// GetLastRun returns the details of the most recent run known to the external system,
	// which may be a run that is still in progress
	GetLastRun(ctx context.Context) (*RunDetails, error)

	// IsIdle reports whether the agent has no run in progress
	IsIdle(ctx context.Context) (bool, error)

	// Wait blocks until the agent has no run in progress
	Wait(ctx context.Context) error

	// HasPendingImports reports whether staged changes are waiting for synchronization
	HasPendingImports(ctx context.Context) (bool, error)

	// HasPendingExports reports whether changes are waiting to be exported
	HasPendingExports(ctx context.Context) (bool, error)

	// GetPendingImportPartitions lists partitions with staged changes waiting for synchronization
	GetPendingImportPartitions(ctx context.Context) ([]string, error)

	// GetPendingExportPartitions lists partitions with changes waiting to be exported
	GetPendingExportPartitions(ctx context.Context) ([]string, error)

	// Stop requests the agent to abort the run in progress
	Stop(ctx context.Context) error
}

// ExecutionError is returned by ExecuteRunProfile when the run failed with a result code
type ExecutionError struct {
	ResultCode string
	Err        error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("run profile failed with result %s: %v", e.ResultCode, e.Err)
	}
	return fmt.Sprintf("run profile failed with result %s", e.ResultCode)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
