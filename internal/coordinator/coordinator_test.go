package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/runctl/internal/client"
	"github.com/stacklok/runctl/internal/client/mocks"
	"github.com/stacklok/runctl/internal/config"
	"github.com/stacklok/runctl/internal/job"
	"github.com/stacklok/runctl/internal/status"
)

func testConfig(agents ...config.AgentConfig) *config.Config {
	return &config.Config{
		Settings: config.Settings{
			StaggerInterval:               "0s",
			PostRunSettleInterval:         "0s",
			StopTimeout:                   "1s",
			ShutdownTimeout:               "2s",
			UnmanagedChangesCheckInterval: "0s",
		},
		Agents: agents,
	}
}

func testAgent(id string) config.AgentConfig {
	return config.AgentConfig{
		ID:   id,
		Name: id,
		Partitions: []config.PartitionConfig{{
			Name:        "default",
			Default:     true,
			RunProfiles: config.RunProfileMapping{DeltaImport: id + "-DI", Export: id + "-EX"},
		}},
	}
}

// idleClients returns a factory of mock clients for agents that never run anything on their own
func idleClients(t *testing.T) (ClientFactory, *int) {
	t.Helper()
	ctrl := gomock.NewController(t)
	created := 0
	return func(config.AgentConfig) (client.ExecutionClient, error) {
		created++
		m := mocks.NewMockExecutionClient(ctrl)
		m.EXPECT().IsIdle(gomock.Any()).Return(true, nil).AnyTimes()
		m.EXPECT().GetLastRun(gomock.Any()).Return(nil, nil).AnyTimes()
		return m, nil
	}, &created
}

func TestCoordinator_StartAndShutdown(t *testing.T) {
	t.Parallel()

	disabled := testAgent("b")
	disabled.Disabled = true
	store := config.NewStore(testConfig(testAgent("a"), disabled))

	clients, created := idleClients(t)
	c := New(store, clients)
	require.NoError(t, c.Start(context.Background()))

	executors := c.Executors()
	require.Len(t, executors, 2)
	assert.Equal(t, "a", executors[0].ID())
	assert.Equal(t, status.ControlStateRunning, executors[0].Status().ControlState)
	assert.Equal(t, status.ControlStateDisabled, executors[1].Status().ControlState)
	assert.Equal(t, 1, *created, "disabled agents need no client")

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Equal(t, status.ControlStateStopped, executors[0].Status().ControlState)
}

func TestCoordinator_ClientFactoryFailure(t *testing.T) {
	t.Parallel()

	store := config.NewStore(testConfig(testAgent("a")))
	c := New(store, func(config.AgentConfig) (client.ExecutionClient, error) {
		return nil, errors.New("no such host")
	})

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such host")

	_, ok := c.Executor("a")
	assert.False(t, ok)
}

func TestCoordinator_StartStopAgent(t *testing.T) {
	t.Parallel()

	store := config.NewStore(testConfig(testAgent("a")))
	clients, _ := idleClients(t)
	c := New(store, clients)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	require.ErrorIs(t, c.StopAgent("missing"), ErrAgentNotFound)
	require.ErrorIs(t, c.StartAgent("missing"), ErrAgentNotFound)

	require.NoError(t, c.StopAgent("a"))
	e, ok := c.Executor("a")
	require.True(t, ok)
	assert.Equal(t, status.ControlStateStopped, e.Status().ControlState)

	require.NoError(t, c.StartAgent("a"))
	same, _ := c.Executor("a")
	assert.Same(t, e, same, "an unchanged configuration reuses the executor")
	assert.Equal(t, status.ControlStateRunning, same.Status().ControlState)

	require.NoError(t, c.StartAgent("a"), "starting a running controller is a no-op")
}

func TestCoordinator_Reload(t *testing.T) {
	t.Parallel()

	store := config.NewStore(testConfig(testAgent("a"), testAgent("b")))
	clients, _ := idleClients(t)
	c := New(store, clients)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	before, ok := c.Executor("a")
	require.True(t, ok)

	changed := testAgent("a")
	changed.StaleImportInterval = "24h"
	result, err := c.Reload(testConfig(changed, testAgent("c")))
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, result.Added)
	assert.Equal(t, []string{"a"}, result.Changed)
	assert.Equal(t, []string{"b"}, result.Removed)

	a, _ := c.Executor("a")
	assert.NotSame(t, before, a)
	assert.Equal(t, uint64(2), a.AppliedVersion())
	assert.Equal(t, status.ControlStateRunning, a.Status().ControlState)

	b, _ := c.Executor("b")
	assert.Equal(t, status.ControlStateDisabled, b.Status().ControlState)

	cExec, ok := c.Executor("c")
	require.True(t, ok)
	assert.Equal(t, status.ControlStateRunning, cExec.Status().ControlState)

	ids := []string{}
	for _, e := range c.Executors() {
		ids = append(ids, e.ID())
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	result, err = c.Reload(testConfig(changed, testAgent("c")))
	require.NoError(t, err)
	assert.Empty(t, result.Changed)
	same, _ := c.Executor("a")
	assert.Same(t, a, same)
}

func TestCoordinator_ReloadSettings(t *testing.T) {
	t.Parallel()

	store := config.NewStore(testConfig(testAgent("a"), testAgent("b")))
	clients, _ := idleClients(t)
	c := New(store, clients)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	a, _ := c.Executor("a")
	require.NoError(t, c.StopAgent("b"))
	b, _ := c.Executor("b")

	updated := testConfig(testAgent("a"), testAgent("b"))
	updated.Settings.StopTimeout = "3s"
	result, err := c.Reload(updated)
	require.NoError(t, err)
	assert.True(t, result.SettingsChanged)
	assert.Empty(t, result.Changed)

	restarted, _ := c.Executor("a")
	assert.NotSame(t, a, restarted, "running controllers pick up new settings")
	assert.Equal(t, "3s", restarted.AppliedSettings().StopTimeout)
	assert.Equal(t, status.ControlStateRunning, restarted.Status().ControlState)

	stopped, _ := c.Executor("b")
	assert.Same(t, b, stopped, "stopped controllers stay stopped")
	assert.Equal(t, status.ControlStateStopped, stopped.Status().ControlState)

	require.NoError(t, c.StartAgent("b"))
	started, _ := c.Executor("b")
	assert.NotSame(t, b, started)
	assert.Equal(t, "3s", started.AppliedSettings().StopTimeout)
	assert.Equal(t, status.ControlStateRunning, started.Status().ControlState)

	result, err = c.Reload(updated)
	require.NoError(t, err)
	assert.False(t, result.SettingsChanged)
	same, _ := c.Executor("a")
	assert.Same(t, restarted, same)
}

func TestCoordinator_ShutdownTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig(testAgent("a"))
	cfg.Settings.StopTimeout = "5s"
	cfg.Settings.ShutdownTimeout = "50ms"
	store := config.NewStore(cfg)

	ctrl := gomock.NewController(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	c := New(store, func(config.AgentConfig) (client.ExecutionClient, error) {
		m := mocks.NewMockExecutionClient(ctrl)
		m.EXPECT().IsIdle(gomock.Any()).Return(true, nil).AnyTimes()
		m.EXPECT().GetLastRun(gomock.Any()).Return(nil, nil).AnyTimes()
		m.EXPECT().ExecuteRunProfile(gomock.Any(), "a-DI").DoAndReturn(
			func(context.Context, string) (string, error) {
				<-release
				return client.ResultSuccess, nil
			}).AnyTimes()
		return m, nil
	})
	require.NoError(t, c.Start(context.Background()))

	e, _ := c.Executor("a")
	e.Add(job.Job{RunProfileType: job.TypeDeltaImport}, "test")
	require.Eventually(t, func() bool {
		return e.Status().ExecutionState == status.ExecutionStateRunning
	}, 5*time.Second, 5*time.Millisecond)

	started := time.Now()
	err := c.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not stop within")
	assert.Less(t, time.Since(started), 2*time.Second)
}
