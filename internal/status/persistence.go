// Package status provides executor status types and their file persistence.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// StatusFileName is the name of the status file
	StatusFileName = "status.json"
)

// StatusPersistence stores the last known status of every executor
//
//nolint:revive // This name is fine
type StatusPersistence interface {
	// SaveStatus saves the status of one agent's executor
	SaveStatus(ctx context.Context, agentID string, status *ExecutorStatus) error

	// LoadStatus loads the status of one agent's executor.
	// Returns an empty ExecutorStatus if nothing was saved yet.
	LoadStatus(ctx context.Context, agentID string) (*ExecutorStatus, error)

	// LoadAllStatus loads the status of every agent that has one
	LoadAllStatus(ctx context.Context) (map[string]*ExecutorStatus, error)
}

// fileStatusPersistence implements StatusPersistence using local filesystem
type fileStatusPersistence struct {
	basePath string
}

// NewFileStatusPersistence creates a file-based status persistence storing one directory
// per agent under basePath
func NewFileStatusPersistence(basePath string) StatusPersistence {
	return &fileStatusPersistence{
		basePath: basePath,
	}
}

// SaveStatus writes the status to the agent's directory, replacing the previous file atomically
func (f *fileStatusPersistence) SaveStatus(_ context.Context, agentID string, status *ExecutorStatus) error {
	agentDir := filepath.Join(f.basePath, agentID)
	if err := os.MkdirAll(agentDir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory for agent '%s': %w", agentID, err)
	}

	filePath := filepath.Join(agentDir, StatusFileName)

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status for agent '%s': %w", agentID, err)
	}

	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file for agent '%s': %w", agentID, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file for agent '%s': %w", agentID, err)
	}

	return nil
}

// LoadStatus reads the agent's status file
func (f *fileStatusPersistence) LoadStatus(_ context.Context, agentID string) (*ExecutorStatus, error) {
	filePath := filepath.Join(f.basePath, agentID, StatusFileName)

	// #nosec G304 -- filePath is built from the configured base path and a validated agent ID
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ExecutorStatus{AgentID: agentID}, nil
		}
		return nil, fmt.Errorf("failed to read status file for agent '%s': %w", agentID, err)
	}

	var status ExecutorStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status for agent '%s': %w", agentID, err)
	}

	return &status, nil
}

// LoadAllStatus loads the status of every agent directory under the base path
func (f *fileStatusPersistence) LoadAllStatus(ctx context.Context) (map[string]*ExecutorStatus, error) {
	result := make(map[string]*ExecutorStatus)

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		agentID := entry.Name()
		status, err := f.LoadStatus(ctx, agentID)
		if err != nil {
			// Keep loading the other agents
			slog.Warn("Skipping unreadable status file", "agent", agentID, "error", err)
			continue
		}

		result[agentID] = status
	}

	return result, nil
}

// PersistingObserver returns an Observer that saves every status it receives
func PersistingObserver(persistence StatusPersistence) Observer {
	return ObserverFunc(func(status ExecutorStatus) {
		if err := persistence.SaveStatus(context.Background(), status.AgentID, &status); err != nil {
			slog.Error("Failed to persist executor status", "agent", status.AgentID, "error", err)
		}
	})
}
