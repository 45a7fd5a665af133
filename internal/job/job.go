// Package job defines the execution parameters that flow through the run-profile queues.
package job

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// RunProfileType identifies the kind of operation a run profile performs
type RunProfileType string

const (
	// TypeNone means the job carries an explicit run profile name and no type
	TypeNone RunProfileType = ""

	// TypeDeltaImport stages changes made in the connected system since the last import
	TypeDeltaImport RunProfileType = "deltaImport"

	// TypeFullImport stages every object of the connected system
	TypeFullImport RunProfileType = "fullImport"

	// TypeExport writes pending changes to the connected system
	TypeExport RunProfileType = "export"

	// TypeDeltaSync synchronizes staged changes into the shared store
	TypeDeltaSync RunProfileType = "deltaSync"

	// TypeFullSync re-evaluates every staged object against the shared store
	TypeFullSync RunProfileType = "fullSync"
)

// AllTypes lists the concrete run profile types in a stable order
var AllTypes = []RunProfileType{TypeDeltaImport, TypeFullImport, TypeExport, TypeDeltaSync, TypeFullSync}

// ParseRunProfileType parses a run profile type name, accepting case-insensitive input
func ParseRunProfileType(s string) (RunProfileType, error) {
	if strings.TrimSpace(s) == "" {
		return TypeNone, nil
	}
	for _, t := range AllTypes {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return TypeNone, fmt.Errorf("unknown run profile type %q", s)
}

// IsImport reports whether the type is a delta or full import
func (t RunProfileType) IsImport() bool {
	return t == TypeDeltaImport || t == TypeFullImport
}

// IsSync reports whether the type is a delta or full synchronization
func (t RunProfileType) IsSync() bool {
	return t == TypeDeltaSync || t == TypeFullSync
}

// IsExport reports whether the type is an export
func (t RunProfileType) IsExport() bool {
	return t == TypeExport
}

func (t RunProfileType) String() string {
	if t == TypeNone {
		return "none"
	}
	return string(t)
}

// Job holds the parameters of one requested run profile execution
type Job struct {
	// RunProfileName is the resolved run profile name. Empty until resolved from the type.
	RunProfileName string `json:"runProfileName,omitempty"`

	// RunProfileType is used to resolve the name when RunProfileName is empty
	RunProfileType RunProfileType `json:"runProfileType,omitempty"`

	// Partition references the partition whose mapping resolves the name.
	// Empty selects the agent's default partition.
	Partition string `json:"partition,omitempty"`

	// Exclusive requires that no other job runs anywhere while this one executes
	Exclusive bool `json:"exclusive,omitempty"`

	// RunImmediate places the job at the front of the queue
	RunImmediate bool `json:"runImmediate,omitempty"`

	// QueueID is assigned when the job is queued and increases monotonically process-wide
	QueueID uint64 `json:"queueId,omitempty"`

	// Source describes who requested the job
	Source string `json:"source,omitempty"`
}

// Equal reports whether two jobs name the same run profile
func (j Job) Equal(other Job) bool {
	return j.RunProfileName != "" && j.RunProfileName == other.RunProfileName
}

// IsEmpty reports whether the job names neither a run profile nor a type
func (j Job) IsEmpty() bool {
	return j.RunProfileName == "" && j.RunProfileType == TypeNone
}

func (j Job) String() string {
	name := j.RunProfileName
	if name == "" {
		name = j.RunProfileType.String()
		if j.Partition != "" {
			name = fmt.Sprintf("%s (%s)", name, j.Partition)
		}
	}
	if j.Exclusive {
		name += " (exclusive)"
	}
	return name
}

// Sequence hands out QueueIDs. One Sequence is shared by every queue in the process
// so that IDs are comparable across agents.
type Sequence struct {
	last atomic.Uint64
}

// NewSequence creates a Sequence starting at 1
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next QueueID
func (s *Sequence) Next() uint64 {
	return s.last.Add(1)
}
