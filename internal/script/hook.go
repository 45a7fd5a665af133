// Package script defines the optional per-agent controller script hooks that may veto
// or observe run profile executions.
package script

import (
	"context"
	"fmt"

	"github.com/stacklok/runctl/internal/client"
)

// Hook is implemented by controller scripts attached to an agent.
// Either method may return *UnexpectedChangeError to stop the controller.
//
//go:generate mockgen -destination=mocks/mock_hook.go -package=mocks -source=hook.go Hook
type Hook interface {
	// ShouldExecute is consulted before the named run profile is executed
	ShouldExecute(ctx context.Context, runProfileName string) (bool, error)

	// ExecutionComplete is called with the result of every completed run
	ExecutionComplete(ctx context.Context, details *client.RunDetails) error
}

// UnexpectedChangeError signals that the agent is in a state where it must not continue.
// When Severe is set the whole process is asked to terminate.
type UnexpectedChangeError struct {
	Message string
	Severe  bool
}

func (e *UnexpectedChangeError) Error() string {
	if e.Severe {
		return fmt.Sprintf("unexpected change (process termination requested): %s", e.Message)
	}
	return fmt.Sprintf("unexpected change: %s", e.Message)
}
