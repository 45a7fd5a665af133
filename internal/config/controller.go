package config

import (
	"time"

	"github.com/stacklok/runctl/internal/job"
)

// ControllerConfig is the configuration applied to one agent's executor.
// Version increases whenever the configuration is mutated.
type ControllerConfig struct {
	AgentConfig `yaml:",inline"`

	// Version is bumped by the Store on every mutation
	Version uint64 `yaml:"-"`

	// Missing marks an agent that no longer exists in the configuration
	Missing bool `yaml:"-"`
}

// NeedsRestart reports whether an executor that applied the applied version must be
// restarted to pick up the current version
func NeedsRestart(applied, current uint64) bool {
	return current > applied
}

// GetName returns the display name, falling back to the ID
func (a *AgentConfig) GetName() string {
	if a.Name == "" {
		return a.ID
	}
	return a.Name
}

// DefaultPartition returns the partition marked default, or the first partition
func (a *AgentConfig) DefaultPartition() *PartitionConfig {
	for i := range a.Partitions {
		if a.Partitions[i].Default {
			return &a.Partitions[i]
		}
	}
	if len(a.Partitions) > 0 {
		return &a.Partitions[0]
	}
	return nil
}

// Partition returns the named partition. An empty name selects the default partition.
func (a *AgentConfig) Partition(name string) *PartitionConfig {
	if name == "" {
		return a.DefaultPartition()
	}
	for i := range a.Partitions {
		if a.Partitions[i].Name == name {
			return &a.Partitions[i]
		}
	}
	return nil
}

// PartitionName maps the empty partition name that runs report for single-partition agents to
// the name of the default partition
func (a *AgentConfig) PartitionName(name string) string {
	if name != "" {
		return name
	}
	if p := a.DefaultPartition(); p != nil {
		return p.Name
	}
	return ""
}

// ResolveRunProfile returns the run profile name configured for the type on the partition
func (a *AgentConfig) ResolveRunProfile(t job.RunProfileType, partition string) (string, bool) {
	p := a.Partition(partition)
	if p == nil {
		return "", false
	}
	name := p.RunProfiles.Get(t)
	return name, name != ""
}

// RunProfileType returns the type a run profile name is configured as, searching every partition.
// Unknown names return job.TypeNone.
func (a *AgentConfig) RunProfileType(name string) job.RunProfileType {
	if name == "" {
		return job.TypeNone
	}
	for i := range a.Partitions {
		for _, t := range job.AllTypes {
			if a.Partitions[i].RunProfiles.Get(t) == name {
				return t
			}
		}
	}
	return job.TypeNone
}

// TouchesSync reports whether running the job performs a synchronization step
func (a *AgentConfig) TouchesSync(j job.Job) bool {
	t := j.RunProfileType
	if t == job.TypeNone {
		t = a.RunProfileType(j.RunProfileName)
	}
	return t.IsSync()
}

// RequiresSyncLock reports whether the job must hold the sync-step lock
func (a *AgentConfig) RequiresSyncLock(j job.Job) bool {
	t := j.RunProfileType
	if t == job.TypeNone {
		t = a.RunProfileType(j.RunProfileName)
	}
	if t.IsSync() {
		return true
	}
	return a.SyncLockOnDeltaImport && t == job.TypeDeltaImport
}

// GetStaleImportInterval returns the stale import interval; zero disables the check
func (a *AgentConfig) GetStaleImportInterval() time.Duration {
	return parseDurationOr(a.StaleImportInterval, 0)
}

// Get returns the name mapped for the type
func (m RunProfileMapping) Get(t job.RunProfileType) string {
	switch t {
	case job.TypeDeltaImport:
		return m.DeltaImport
	case job.TypeFullImport:
		return m.FullImport
	case job.TypeExport:
		return m.Export
	case job.TypeDeltaSync:
		return m.DeltaSync
	case job.TypeFullSync:
		return m.FullSync
	default:
		return ""
	}
}

// GetInterval returns the trigger interval or def when unset
func (t *TriggerConfig) GetInterval(def time.Duration) time.Duration {
	return parseDurationOr(t.Interval, def)
}

// Job builds the job the trigger requests
func (t *TriggerConfig) Job() job.Job {
	// Type was validated when the configuration was loaded
	profileType, _ := job.ParseRunProfileType(t.RunProfileType)
	return job.Job{
		RunProfileName: t.RunProfileName,
		RunProfileType: profileType,
		Partition:      t.Partition,
		Exclusive:      t.Exclusive,
		RunImmediate:   t.RunImmediate,
	}
}
