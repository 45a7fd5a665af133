package status

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testAgentID = "ad"

func TestFileStatusPersistence_SaveAndLoad(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()

	persistence := NewFileStatusPersistence(tmpDir)
	require.NotNil(t, persistence)

	testStatus := &ExecutorStatus{
		AgentID:            testAgentID,
		AgentName:          "Active Directory",
		ControlState:       ControlStateRunning,
		ExecutionState:     ExecutionStateRunning,
		ExecutingJob:       "AD-DI",
		QueueSnapshot:      "AD-DS,AD-EX",
		LastRunProfileName: "AD-EX",
		LastRunResult:      "success",
		AppliedVersion:     3,
		UpdatedAt:          time.Now().UTC().Truncate(time.Second),
	}

	ctx := context.Background()
	err := persistence.SaveStatus(ctx, testAgentID, testStatus)
	require.NoError(t, err)

	expectedPath := filepath.Join(tmpDir, testAgentID, StatusFileName)
	_, err = os.Stat(expectedPath)
	require.NoError(t, err)

	loaded, err := persistence.LoadStatus(ctx, testAgentID)
	require.NoError(t, err)
	require.Equal(t, testStatus, loaded)
}

func TestFileStatusPersistence_LoadNonExistent(t *testing.T) {
	t.Parallel()

	persistence := NewFileStatusPersistence(t.TempDir())

	loaded, err := persistence.LoadStatus(context.Background(), testAgentID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, testAgentID, loaded.AgentID)
	require.Equal(t, ControlState(""), loaded.ControlState)
}

func TestFileStatusPersistence_AtomicWrite(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	persistence := NewFileStatusPersistence(tmpDir)
	ctx := context.Background()

	err := persistence.SaveStatus(ctx, testAgentID, &ExecutorStatus{ControlState: ControlStateStopped})
	require.NoError(t, err)
	err = persistence.SaveStatus(ctx, testAgentID, &ExecutorStatus{ControlState: ControlStateRunning})
	require.NoError(t, err)

	statusPath := filepath.Join(tmpDir, testAgentID, StatusFileName)
	_, err = os.Stat(statusPath + ".tmp")
	require.True(t, os.IsNotExist(err), "Temporary file should not exist after save")

	loaded, err := persistence.LoadStatus(ctx, testAgentID)
	require.NoError(t, err)
	require.Equal(t, ControlStateRunning, loaded.ControlState)
}

func TestFileStatusPersistence_LoadAllStatus(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	persistence := NewFileStatusPersistence(tmpDir)
	ctx := context.Background()

	require.NoError(t, persistence.SaveStatus(ctx, "ad", &ExecutorStatus{AgentID: "ad", ControlState: ControlStateRunning}))
	require.NoError(t, persistence.SaveStatus(ctx, "hr", &ExecutorStatus{AgentID: "hr", ControlState: ControlStateDisabled}))

	invalidDir := filepath.Join(tmpDir, "broken")
	require.NoError(t, os.MkdirAll(invalidDir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(invalidDir, StatusFileName), []byte("{invalid json}"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "stray.txt"), []byte("x"), 0600))

	result, err := persistence.LoadAllStatus(ctx)
	require.NoError(t, err)
	require.Len(t, result, 2)
	require.Equal(t, ControlStateRunning, result["ad"].ControlState)
	require.Equal(t, ControlStateDisabled, result["hr"].ControlState)
	require.NotContains(t, result, "broken")
}

func TestFileStatusPersistence_LoadAllStatus_NonExistentDirectory(t *testing.T) {
	t.Parallel()

	persistence := NewFileStatusPersistence(filepath.Join(t.TempDir(), "nonexistent"))

	result, err := persistence.LoadAllStatus(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Empty(t, result)
}

func TestPersistingObserver(t *testing.T) {
	t.Parallel()

	persistence := NewFileStatusPersistence(t.TempDir())
	observer := PersistingObserver(persistence)

	observer.StatusChanged(ExecutorStatus{AgentID: testAgentID, ExecutionState: ExecutionStateWaiting})

	loaded, err := persistence.LoadStatus(context.Background(), testAgentID)
	require.NoError(t, err)
	require.Equal(t, ExecutionStateWaiting, loaded.ExecutionState)
}
