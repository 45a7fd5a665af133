// Package dryrun provides an ExecutionClient that executes nothing. Every run profile completes
// after a configurable delay with a success result and no changes, which makes the coordination
// behaviour observable without a connected system.
package dryrun

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stacklok/runctl/internal/client"
	"github.com/stacklok/runctl/internal/config"
)

var _ client.ExecutionClient = (*Client)(nil)

// Client is a simulated agent
type Client struct {
	agent    config.AgentConfig
	duration time.Duration

	mu        sync.Mutex
	runNumber int64
	last      *client.RunDetails
}

// Option configures the dry-run client
type Option func(*Client)

// WithRunDuration sets how long every simulated run takes
func WithRunDuration(d time.Duration) Option {
	return func(c *Client) {
		c.duration = d
	}
}

// New creates a dry-run client for the agent
func New(agent config.AgentConfig, opts ...Option) *Client {
	c := &Client{agent: agent}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Factory returns a function creating dry-run clients, suitable for the coordinator
func Factory(opts ...Option) func(config.AgentConfig) (client.ExecutionClient, error) {
	return func(agent config.AgentConfig) (client.ExecutionClient, error) {
		return New(agent, opts...), nil
	}
}

// ExecuteRunProfile logs the run and completes it after the run duration
func (c *Client) ExecuteRunProfile(ctx context.Context, runProfileName string) (string, error) {
	started := time.Now()
	slog.Info("Dry run: executing run profile", "agent", c.agent.GetName(), "run_profile", runProfileName)

	if c.duration > 0 {
		timer := time.NewTimer(c.duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	step := client.StepDetails{
		StepNumber: 1,
		Type:       c.agent.RunProfileType(runProfileName),
		Partition:  c.partitionOf(runProfileName),
		Result:     client.ResultSuccess,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.runNumber++
	c.last = &client.RunDetails{
		RunNumber:      c.runNumber,
		RunProfileName: runProfileName,
		Result:         client.ResultSuccess,
		StartTime:      started,
		EndTime:        time.Now(),
		Steps:          []client.StepDetails{step},
	}
	return client.ResultSuccess, nil
}

// partitionOf returns the partition whose mapping names the run profile
func (c *Client) partitionOf(runProfileName string) string {
	t := c.agent.RunProfileType(runProfileName)
	for _, p := range c.agent.Partitions {
		if p.RunProfiles.Get(t) == runProfileName {
			return p.Name
		}
	}
	return ""
}

// GetLastRun returns the last simulated run, or nil before the first one
func (c *Client) GetLastRun(context.Context) (*client.RunDetails, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil, nil
	}
	last := *c.last
	return &last, nil
}

// IsIdle always reports true; no run happens outside ExecuteRunProfile
func (*Client) IsIdle(context.Context) (bool, error) {
	return true, nil
}

// Wait returns immediately
func (*Client) Wait(context.Context) error {
	return nil
}

// HasPendingImports reports no pending imports
func (*Client) HasPendingImports(context.Context) (bool, error) {
	return false, nil
}

// HasPendingExports reports no pending exports
func (*Client) HasPendingExports(context.Context) (bool, error) {
	return false, nil
}

// GetPendingImportPartitions returns no partitions
func (*Client) GetPendingImportPartitions(context.Context) ([]string, error) {
	return nil, nil
}

// GetPendingExportPartitions returns no partitions
func (*Client) GetPendingExportPartitions(context.Context) ([]string, error) {
	return nil, nil
}

// Stop logs the request
func (c *Client) Stop(context.Context) error {
	slog.Info("Dry run: stop requested", "agent", c.agent.GetName())
	return nil
}
