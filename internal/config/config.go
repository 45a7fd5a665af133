// Package config provides configuration loading and management for the run coordinator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/runctl/internal/job"
	"github.com/stacklok/runctl/internal/telemetry"
)

// EnvPrefix is the prefix of environment variables that override flags
const EnvPrefix = "RUNCTL"

// RunMode controls which jobs are executed exclusively
type RunMode string

const (
	// RunModeUnsupported never runs jobs exclusively
	RunModeUnsupported RunMode = "unsupported"

	// RunModeSupported runs a job exclusively when it requests it or touches synchronization
	RunModeSupported RunMode = "supported"

	// RunModeExclusive runs every job exclusively
	RunModeExclusive RunMode = "exclusive"
)

// LockMode selects how non-exclusive jobs yield to waiting exclusive jobs
type LockMode string

const (
	// LockModeStrictYield waits while any exclusive job with a lower QueueID is pending
	LockModeStrictYield LockMode = "strict-yield"

	// LockModeYieldOnce lets one pending exclusive job with a lower QueueID through, then proceeds
	LockModeYieldOnce LockMode = "yield-once"

	// LockModeNoYield never yields to pending exclusive jobs
	LockModeNoYield LockMode = "no-yield"
)

const (
	defaultRetryBaseInterval             = 30 * time.Second
	defaultRetryCount                    = 3
	defaultPostRunSettleInterval         = time.Second
	defaultStaggerInterval               = 2 * time.Second
	defaultStopTimeout                   = 30 * time.Second
	defaultShutdownTimeout               = 60 * time.Second
	defaultUnmanagedChangesCheckInterval = time.Hour
)

// DefaultRetryCodes are the result codes retried when no codes are configured
var DefaultRetryCodes = []string{
	"stopped-server-down",
	"stopped-connectivity",
	"stopped-database-connection-lost",
	"stopped-deadlocked",
}

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks; this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Settings  Settings          `yaml:"settings"`
	Agents    []AgentConfig     `yaml:"agents"`
	History   *HistoryConfig    `yaml:"history,omitempty"`
	StatusDir string            `yaml:"statusDir,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// Settings are the process-wide execution settings
type Settings struct {
	RunMode  RunMode  `yaml:"runMode,omitempty"`
	LockMode LockMode `yaml:"lockMode,omitempty"`

	// SerializeSyncSteps allows only one synchronization step at a time across all agents.
	// Defaults to true.
	SerializeSyncSteps *bool `yaml:"serializeSyncSteps,omitempty"`

	Retry *RetryConfig `yaml:"retry,omitempty"`

	// PostRunSettleInterval is slept after a run while its locks are still held
	PostRunSettleInterval string `yaml:"postRunSettleInterval,omitempty"`

	// StaggerInterval is the minimum gap between two executions starting anywhere
	StaggerInterval string `yaml:"staggerInterval,omitempty"`

	// StopTimeout bounds how long stopping one controller waits for its current job
	StopTimeout string `yaml:"stopTimeout,omitempty"`

	// ShutdownTimeout bounds how long process shutdown waits for all controllers
	ShutdownTimeout string `yaml:"shutdownTimeout,omitempty"`

	// UnmanagedChangesCheckInterval is how often agents are polled for pending changes
	// that no queued job will process. "0" disables the check.
	UnmanagedChangesCheckInterval string `yaml:"unmanagedChangesCheckInterval,omitempty"`
}

// RetryConfig defines which results are retried and how often
type RetryConfig struct {
	Codes []string `yaml:"codes,omitempty"`

	// MaxRetries is the number of retries after the first attempt. Negative means unlimited.
	MaxRetries *int `yaml:"maxRetries,omitempty"`

	BaseInterval string `yaml:"baseInterval,omitempty"`
}

// HistoryConfig defines where completed runs are recorded
type HistoryConfig struct {
	// Path is the SQLite database file
	Path string `yaml:"path"`

	// Retention is how long completed runs are kept. Empty keeps them forever.
	Retention string `yaml:"retention,omitempty"`
}

// GetRetention returns the history retention; zero keeps runs forever
func (h *HistoryConfig) GetRetention() time.Duration {
	if h == nil {
		return 0
	}
	return parseDurationOr(h.Retention, 0)
}

// AgentConfig defines a single connector agent
type AgentConfig struct {
	// ID is the stable identifier of the agent in the external system
	ID string `yaml:"id"`

	// Name is the display name. Defaults to ID.
	Name string `yaml:"name,omitempty"`

	Disabled bool `yaml:"disabled,omitempty"`

	// SyncLockOnDeltaImport makes delta imports of this agent take the sync-step lock
	SyncLockOnDeltaImport bool `yaml:"syncLockOnDeltaImport,omitempty"`

	// LockedAgents are agents that must never run at the same time as this one
	LockedAgents []string `yaml:"lockedAgents,omitempty"`

	// StaleImportInterval queues a delta import for a partition not imported within it
	StaleImportInterval string `yaml:"staleImportInterval,omitempty"`

	Partitions []PartitionConfig `yaml:"partitions"`
	Thresholds *ThresholdConfig  `yaml:"thresholds,omitempty"`
	Triggers   []TriggerConfig   `yaml:"triggers,omitempty"`
}

// PartitionConfig maps run profile types to names for one partition
type PartitionConfig struct {
	Name        string            `yaml:"name"`
	Default     bool              `yaml:"default,omitempty"`
	RunProfiles RunProfileMapping `yaml:"runProfiles"`
}

// RunProfileMapping holds the run profile name configured for each type
type RunProfileMapping struct {
	DeltaImport string `yaml:"deltaImport,omitempty"`
	FullImport  string `yaml:"fullImport,omitempty"`
	Export      string `yaml:"export,omitempty"`
	DeltaSync   string `yaml:"deltaSync,omitempty"`
	FullSync    string `yaml:"fullSync,omitempty"`
}

// ThresholdConfig defines limits that stop the controller when exceeded
type ThresholdConfig struct {
	Staging *StagingThresholds `yaml:"staging,omitempty"`
}

// StagingThresholds limit the number of changes one import step may stage. Zero means no limit.
type StagingThresholds struct {
	Adds       int `yaml:"adds,omitempty"`
	Updates    int `yaml:"updates,omitempty"`
	Renames    int `yaml:"renames,omitempty"`
	Deletes    int `yaml:"deletes,omitempty"`
	DeleteAdds int `yaml:"deleteAdds,omitempty"`
	Changes    int `yaml:"changes,omitempty"`
}

// TriggerConfig defines one trigger attached to an agent
type TriggerConfig struct {
	// Type selects the trigger variant
	Type string `yaml:"type"`

	// Name is the display name used as the Source of queued jobs. Defaults to Type.
	Name string `yaml:"name,omitempty"`

	Disabled bool   `yaml:"disabled,omitempty"`
	Interval string `yaml:"interval,omitempty"`

	RunProfileName string `yaml:"runProfileName,omitempty"`
	RunProfileType string `yaml:"runProfileType,omitempty"`
	Partition      string `yaml:"partition,omitempty"`
	Exclusive      bool   `yaml:"exclusive,omitempty"`
	RunImmediate   bool   `yaml:"runImmediate,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses and validates YAML configuration content
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Agents {
		if c.Agents[i].Name == "" {
			c.Agents[i].Name = c.Agents[i].ID
		}
		for j := range c.Agents[i].Triggers {
			if c.Agents[i].Triggers[j].Name == "" {
				c.Agents[i].Triggers[j].Name = c.Agents[i].Triggers[j].Type
			}
		}
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := c.Settings.validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}

	agentIDs := make(map[string]bool)
	for i, agent := range c.Agents {
		if agent.ID == "" {
			return fmt.Errorf("agent[%d]: id is required", i)
		}
		if agentIDs[agent.ID] {
			return fmt.Errorf("agent[%d]: duplicate agent id '%s'", i, agent.ID)
		}
		agentIDs[agent.ID] = true
	}

	for i := range c.Agents {
		if err := validateAgentConfig(&c.Agents[i], i, agentIDs); err != nil {
			return err
		}
	}

	if c.History != nil {
		if c.History.Path == "" {
			return fmt.Errorf("history.path is required when history is configured")
		}
		if err := validateDuration(c.History.Retention); err != nil {
			return fmt.Errorf("history.retention must be a valid duration: %w", err)
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

func (s *Settings) validate() error {
	switch s.RunMode {
	case "", RunModeUnsupported, RunModeSupported, RunModeExclusive:
	default:
		return fmt.Errorf("runMode must be one of %s, %s or %s, got %s",
			RunModeUnsupported, RunModeSupported, RunModeExclusive, s.RunMode)
	}

	switch s.LockMode {
	case "", LockModeStrictYield, LockModeYieldOnce, LockModeNoYield:
	default:
		return fmt.Errorf("lockMode must be one of %s, %s or %s, got %s",
			LockModeStrictYield, LockModeYieldOnce, LockModeNoYield, s.LockMode)
	}

	durations := map[string]string{
		"postRunSettleInterval":         s.PostRunSettleInterval,
		"staggerInterval":               s.StaggerInterval,
		"stopTimeout":                   s.StopTimeout,
		"shutdownTimeout":               s.ShutdownTimeout,
		"unmanagedChangesCheckInterval": s.UnmanagedChangesCheckInterval,
	}
	if s.Retry != nil {
		durations["retry.baseInterval"] = s.Retry.BaseInterval
	}
	for name, value := range durations {
		if err := validateDuration(value); err != nil {
			return fmt.Errorf("%s must be a valid duration (e.g., '30s', '5m'): %w", name, err)
		}
	}

	return nil
}

func validateAgentConfig(agent *AgentConfig, index int, agentIDs map[string]bool) error {
	prefix := fmt.Sprintf("agent[%d] (%s)", index, agent.ID)

	if len(agent.Partitions) == 0 {
		return fmt.Errorf("%s: at least one partition must be configured", prefix)
	}

	partitionNames := make(map[string]bool)
	defaults := 0
	for i, p := range agent.Partitions {
		if p.Name == "" {
			return fmt.Errorf("%s: partition[%d]: name is required", prefix, i)
		}
		if partitionNames[p.Name] {
			return fmt.Errorf("%s: partition[%d]: duplicate partition name '%s'", prefix, i, p.Name)
		}
		partitionNames[p.Name] = true
		if p.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("%s: only one partition may be marked as default", prefix)
	}

	for _, locked := range agent.LockedAgents {
		if locked == agent.ID {
			return fmt.Errorf("%s: lockedAgents cannot contain the agent itself", prefix)
		}
		if !agentIDs[locked] {
			return fmt.Errorf("%s: lockedAgents references unknown agent '%s'", prefix, locked)
		}
	}

	if err := validateDuration(agent.StaleImportInterval); err != nil {
		return fmt.Errorf("%s: staleImportInterval must be a valid duration: %w", prefix, err)
	}

	for i, trigger := range agent.Triggers {
		if err := validateTriggerConfig(&trigger, partitionNames); err != nil {
			return fmt.Errorf("%s: trigger[%d]: %w", prefix, i, err)
		}
	}

	return nil
}

func validateTriggerConfig(trigger *TriggerConfig, partitions map[string]bool) error {
	if trigger.Type == "" {
		return fmt.Errorf("type is required")
	}
	if err := validateDuration(trigger.Interval); err != nil {
		return fmt.Errorf("interval must be a valid duration: %w", err)
	}
	if _, err := job.ParseRunProfileType(trigger.RunProfileType); err != nil {
		return err
	}
	if trigger.Partition != "" && !partitions[trigger.Partition] {
		return fmt.Errorf("partition '%s' is not configured", trigger.Partition)
	}
	return nil
}

func validateDuration(value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("duration cannot be negative: %s", value)
	}
	return nil
}

// parseDurationOr returns the parsed duration or def when value is empty or invalid
func parseDurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// GetRunMode returns the run mode, defaulting to supported
func (s *Settings) GetRunMode() RunMode {
	if s.RunMode == "" {
		return RunModeSupported
	}
	return s.RunMode
}

// GetLockMode returns the lock fairness mode, defaulting to strict-yield
func (s *Settings) GetLockMode() LockMode {
	if s.LockMode == "" {
		return LockModeStrictYield
	}
	return s.LockMode
}

// GetSerializeSyncSteps reports whether synchronization steps are serialized
func (s *Settings) GetSerializeSyncSteps() bool {
	if s.SerializeSyncSteps == nil {
		return true
	}
	return *s.SerializeSyncSteps
}

// GetRetryCodes returns the result codes that are retried
func (s *Settings) GetRetryCodes() []string {
	if s.Retry == nil || s.Retry.Codes == nil {
		return slices.Clone(DefaultRetryCodes)
	}
	return slices.Clone(s.Retry.Codes)
}

// GetMaxRetries returns the number of retries after the first attempt
func (s *Settings) GetMaxRetries() int {
	if s.Retry == nil || s.Retry.MaxRetries == nil {
		return defaultRetryCount
	}
	return *s.Retry.MaxRetries
}

// GetRetryBaseInterval returns the base retry interval
func (s *Settings) GetRetryBaseInterval() time.Duration {
	if s.Retry == nil {
		return defaultRetryBaseInterval
	}
	return parseDurationOr(s.Retry.BaseInterval, defaultRetryBaseInterval)
}

// GetPostRunSettleInterval returns the post-run settle interval
func (s *Settings) GetPostRunSettleInterval() time.Duration {
	return parseDurationOr(s.PostRunSettleInterval, defaultPostRunSettleInterval)
}

// GetStaggerInterval returns the minimum interval between execution starts
func (s *Settings) GetStaggerInterval() time.Duration {
	return parseDurationOr(s.StaggerInterval, defaultStaggerInterval)
}

// GetStopTimeout returns how long stopping a controller waits
func (s *Settings) GetStopTimeout() time.Duration {
	return parseDurationOr(s.StopTimeout, defaultStopTimeout)
}

// GetShutdownTimeout returns how long process shutdown waits
func (s *Settings) GetShutdownTimeout() time.Duration {
	return parseDurationOr(s.ShutdownTimeout, defaultShutdownTimeout)
}

// GetUnmanagedChangesCheckInterval returns the pending changes poll interval; zero disables it
func (s *Settings) GetUnmanagedChangesCheckInterval() time.Duration {
	return parseDurationOr(s.UnmanagedChangesCheckInterval, defaultUnmanagedChangesCheckInterval)
}

// IsExclusive decides whether a job runs exclusively under the run mode.
// touchesSync reports whether the job performs a synchronization step.
func (m RunMode) IsExclusive(requested, touchesSync bool) bool {
	switch m {
	case RunModeUnsupported:
		return false
	case RunModeExclusive:
		return true
	default:
		return requested || touchesSync
	}
}

// GetStatusDir returns the directory where executor status files are written
func (c *Config) GetStatusDir() string {
	if c.StatusDir == "" {
		return "./data/status"
	}
	return c.StatusDir
}
