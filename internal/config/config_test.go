package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/runctl/internal/job"
)

const validConfig = `settings:
  runMode: supported
  lockMode: yield-once
  retry:
    codes: ["stopped-server-down"]
    maxRetries: 5
    baseInterval: 10s
  staggerInterval: 500ms
agents:
  - id: ad
    name: Active Directory
    lockedAgents: [hr]
    staleImportInterval: 24h
    partitions:
      - name: corp
        default: true
        runProfiles:
          deltaImport: AD-DI
          fullImport: AD-FI
          export: AD-EX
          deltaSync: AD-DS
          fullSync: AD-FS
      - name: lab
        runProfiles:
          deltaImport: LAB-DI
    thresholds:
      staging:
        deletes: 100
    triggers:
      - type: interval
        interval: 15m
        runProfileType: deltaImport
  - id: hr
    partitions:
      - name: default
        runProfiles:
          export: HR-EX
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(WithConfigPath(writeConfig(t, validConfig)))
	require.NoError(t, err)

	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, RunModeSupported, cfg.Settings.GetRunMode())
	assert.Equal(t, LockModeYieldOnce, cfg.Settings.GetLockMode())
	assert.Equal(t, []string{"stopped-server-down"}, cfg.Settings.GetRetryCodes())
	assert.Equal(t, 5, cfg.Settings.GetMaxRetries())
	assert.Equal(t, 10*time.Second, cfg.Settings.GetRetryBaseInterval())
	assert.Equal(t, 500*time.Millisecond, cfg.Settings.GetStaggerInterval())
	assert.True(t, cfg.Settings.GetSerializeSyncSteps())

	ad := cfg.Agents[0]
	assert.Equal(t, "Active Directory", ad.GetName())
	assert.Equal(t, 24*time.Hour, ad.GetStaleImportInterval())
	assert.Equal(t, "interval", ad.Triggers[0].Name, "trigger name defaults to its type")
	assert.Equal(t, 100, ad.Thresholds.Staging.Deletes)

	hr := cfg.Agents[1]
	assert.Equal(t, "hr", hr.GetName(), "name defaults to id")
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "no agents",
			content: "settings: {}\nagents: []\n",
			errMsg:  "at least one agent must be configured",
		},
		{
			name:    "missing id",
			content: "agents:\n  - name: x\n    partitions: [{name: p}]\n",
			errMsg:  "agent[0]: id is required",
		},
		{
			name:    "duplicate id",
			content: "agents:\n  - id: a\n    partitions: [{name: p}]\n  - id: a\n    partitions: [{name: p}]\n",
			errMsg:  "duplicate agent id 'a'",
		},
		{
			name:    "no partitions",
			content: "agents:\n  - id: a\n",
			errMsg:  "at least one partition must be configured",
		},
		{
			name:    "two default partitions",
			content: "agents:\n  - id: a\n    partitions: [{name: p, default: true}, {name: q, default: true}]\n",
			errMsg:  "only one partition may be marked as default",
		},
		{
			name:    "unknown locked agent",
			content: "agents:\n  - id: a\n    lockedAgents: [b]\n    partitions: [{name: p}]\n",
			errMsg:  "lockedAgents references unknown agent 'b'",
		},
		{
			name:    "self lock",
			content: "agents:\n  - id: a\n    lockedAgents: [a]\n    partitions: [{name: p}]\n",
			errMsg:  "cannot contain the agent itself",
		},
		{
			name:    "invalid run mode",
			content: "settings: {runMode: always}\nagents:\n  - id: a\n    partitions: [{name: p}]\n",
			errMsg:  "runMode must be one of",
		},
		{
			name:    "invalid lock mode",
			content: "settings: {lockMode: fair}\nagents:\n  - id: a\n    partitions: [{name: p}]\n",
			errMsg:  "lockMode must be one of",
		},
		{
			name:    "invalid duration",
			content: "settings: {staggerInterval: soon}\nagents:\n  - id: a\n    partitions: [{name: p}]\n",
			errMsg:  "staggerInterval must be a valid duration",
		},
		{
			name:    "trigger without type",
			content: "agents:\n  - id: a\n    partitions: [{name: p}]\n    triggers: [{name: t}]\n",
			errMsg:  "trigger[0]: type is required",
		},
		{
			name:    "trigger with bad profile type",
			content: "agents:\n  - id: a\n    partitions: [{name: p}]\n    triggers: [{type: interval, runProfileType: purge}]\n",
			errMsg:  "unknown run profile type",
		},
		{
			name:    "trigger with unknown partition",
			content: "agents:\n  - id: a\n    partitions: [{name: p}]\n    triggers: [{type: interval, partition: q}]\n",
			errMsg:  "partition 'q' is not configured",
		},
		{
			name:    "history without path",
			content: "history: {retention: 24h}\nagents:\n  - id: a\n    partitions: [{name: p}]\n",
			errMsg:  "history.path is required",
		},
		{
			name:    "history with bad retention",
			content: "history: {path: h.db, retention: forever}\nagents:\n  - id: a\n    partitions: [{name: p}]\n",
			errMsg:  "history.retention must be a valid duration",
		},
		{
			name:    "malformed yaml",
			content: "agents: [",
			errMsg:  "failed to parse YAML config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadConfig(WithConfigPath(writeConfig(t, tt.content)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadConfig_PathRequired(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")

	_, err = LoadConfig(WithConfigPath(""))
	require.Error(t, err)

	_, err = LoadConfig(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	require.Error(t, err)
}

func TestSettings_Defaults(t *testing.T) {
	t.Parallel()

	s := Settings{}
	assert.Equal(t, RunModeSupported, s.GetRunMode())
	assert.Equal(t, LockModeStrictYield, s.GetLockMode())
	assert.True(t, s.GetSerializeSyncSteps())
	assert.Equal(t, DefaultRetryCodes, s.GetRetryCodes())
	assert.Equal(t, defaultRetryCount, s.GetMaxRetries())
	assert.Equal(t, defaultRetryBaseInterval, s.GetRetryBaseInterval())
	assert.Equal(t, defaultPostRunSettleInterval, s.GetPostRunSettleInterval())
	assert.Equal(t, defaultStopTimeout, s.GetStopTimeout())
	assert.Equal(t, defaultShutdownTimeout, s.GetShutdownTimeout())
	assert.Equal(t, defaultUnmanagedChangesCheckInterval, s.GetUnmanagedChangesCheckInterval())

	off := false
	unlimited := -1
	s = Settings{SerializeSyncSteps: &off, Retry: &RetryConfig{MaxRetries: &unlimited, Codes: []string{}}}
	assert.False(t, s.GetSerializeSyncSteps())
	assert.Equal(t, -1, s.GetMaxRetries())
	assert.Empty(t, s.GetRetryCodes())

	var history *HistoryConfig
	assert.Zero(t, history.GetRetention())
	assert.Equal(t, 720*time.Hour, (&HistoryConfig{Path: "h.db", Retention: "720h"}).GetRetention())
}

func TestRunMode_IsExclusive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mode        RunMode
		requested   bool
		touchesSync bool
		expected    bool
	}{
		{name: "unsupported ignores request", mode: RunModeUnsupported, requested: true, touchesSync: true, expected: false},
		{name: "exclusive forces all", mode: RunModeExclusive, expected: true},
		{name: "supported plain import", mode: RunModeSupported, expected: false},
		{name: "supported sync job", mode: RunModeSupported, touchesSync: true, expected: true},
		{name: "supported requested", mode: RunModeSupported, requested: true, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.mode.IsExclusive(tt.requested, tt.touchesSync))
		})
	}
}

func TestAgentConfig_Resolution(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)
	ad := cfg.Agents[0]

	name, ok := ad.ResolveRunProfile(job.TypeDeltaSync, "")
	require.True(t, ok)
	assert.Equal(t, "AD-DS", name)

	name, ok = ad.ResolveRunProfile(job.TypeDeltaImport, "lab")
	require.True(t, ok)
	assert.Equal(t, "LAB-DI", name)

	_, ok = ad.ResolveRunProfile(job.TypeExport, "lab")
	assert.False(t, ok, "lab has no export profile")

	_, ok = ad.ResolveRunProfile(job.TypeExport, "unknown")
	assert.False(t, ok)

	assert.Equal(t, job.TypeFullSync, ad.RunProfileType("AD-FS"))
	assert.Equal(t, job.TypeNone, ad.RunProfileType("custom"))

	assert.True(t, ad.TouchesSync(job.Job{RunProfileName: "AD-DS"}))
	assert.False(t, ad.TouchesSync(job.Job{RunProfileName: "AD-DI"}))
	assert.False(t, ad.RequiresSyncLock(job.Job{RunProfileType: job.TypeDeltaImport}))

	ad.SyncLockOnDeltaImport = true
	assert.True(t, ad.RequiresSyncLock(job.Job{RunProfileType: job.TypeDeltaImport}))
	assert.False(t, ad.RequiresSyncLock(job.Job{RunProfileType: job.TypeFullImport}))
}

func TestAgentConfig_PartitionName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		agent    AgentConfig
		input    string
		expected string
	}{
		{
			name:     "named partition is kept",
			agent:    AgentConfig{Partitions: []PartitionConfig{{Name: "corp", Default: true}}},
			input:    "lab",
			expected: "lab",
		},
		{
			name:     "empty name maps to default partition",
			agent:    AgentConfig{Partitions: []PartitionConfig{{Name: "lab"}, {Name: "corp", Default: true}}},
			expected: "corp",
		},
		{
			name:     "empty name maps to first partition without default",
			agent:    AgentConfig{Partitions: []PartitionConfig{{Name: "lab"}, {Name: "corp"}}},
			expected: "lab",
		},
		{
			name:     "agent without partitions",
			agent:    AgentConfig{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.agent.PartitionName(tt.input))
		})
	}
}

func TestTriggerConfig_Job(t *testing.T) {
	t.Parallel()

	tc := TriggerConfig{Type: "interval", RunProfileType: "export", Partition: "corp", RunImmediate: true}
	j := tc.Job()
	assert.Equal(t, job.TypeExport, j.RunProfileType)
	assert.Equal(t, "corp", j.Partition)
	assert.True(t, j.RunImmediate)
	assert.Equal(t, time.Minute, tc.GetInterval(time.Minute))
}
