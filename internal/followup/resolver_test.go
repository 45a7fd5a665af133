package followup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/runctl/internal/bus"
	"github.com/stacklok/runctl/internal/client"
	"github.com/stacklok/runctl/internal/config"
	"github.com/stacklok/runctl/internal/job"
)

func testAgent() *config.AgentConfig {
	return &config.AgentConfig{
		ID:   "ad",
		Name: "Active Directory",
		Partitions: []config.PartitionConfig{
			{
				Name:    "corp",
				Default: true,
				RunProfiles: config.RunProfileMapping{
					DeltaImport: "CORP-DI",
					Export:      "CORP-EX",
					DeltaSync:   "CORP-DS",
				},
			},
			{
				Name: "lab",
				RunProfiles: config.RunProfileMapping{
					Export: "LAB-EX",
				},
			},
		},
	}
}

func exportStep(partition string) client.StepDetails {
	return client.StepDetails{Type: job.TypeExport, Partition: partition, Export: &client.ExportCounters{Updates: 2}}
}

func importStep(partition string, staged int) client.StepDetails {
	return client.StepDetails{Type: job.TypeDeltaImport, Partition: partition, Staging: &client.StagingCounters{Adds: staged}}
}

func syncStep(partition string, flows ...client.OutboundFlowCounters) client.StepDetails {
	return client.StepDetails{Type: job.TypeDeltaSync, Partition: partition, OutboundFlows: flows}
}

func TestResolve_ExportCallsForConfirmingImport(t *testing.T) {
	t.Parallel()

	result := Resolve(testAgent(), &client.RunDetails{Steps: []client.StepDetails{exportStep("corp")}})

	require.Len(t, result.Jobs, 1)
	assert.Equal(t, job.Job{
		RunProfileName: "CORP-DI",
		RunProfileType: job.TypeDeltaImport,
		Partition:      "corp",
		RunImmediate:   true,
	}, result.Jobs[0])
	assert.Empty(t, result.Notifications)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		steps         []client.StepDetails
		expectedJobs  []string
		expectedNotes []string
	}{
		{
			name:         "export followed by import is already confirmed",
			steps:        []client.StepDetails{exportStep("corp"), importStep("corp", 0)},
			expectedJobs: nil,
		},
		{
			name:         "import before export does not confirm it",
			steps:        []client.StepDetails{importStep("corp", 0), exportStep("corp")},
			expectedJobs: []string{"CORP-DI"},
		},
		{
			name:         "import with staged changes calls for sync",
			steps:        []client.StepDetails{importStep("corp", 3)},
			expectedJobs: []string{"CORP-DS"},
		},
		{
			name:         "import already synchronized",
			steps:        []client.StepDetails{importStep("corp", 3), syncStep("corp")},
			expectedJobs: nil,
		},
		{
			name:         "import without changes",
			steps:        []client.StepDetails{importStep("corp", 0)},
			expectedJobs: nil,
		},
		{
			name:         "empty partition uses the default",
			steps:        []client.StepDetails{exportStep("")},
			expectedJobs: []string{"CORP-DI"},
		},
		{
			name:         "missing profile is skipped",
			steps:        []client.StepDetails{exportStep("lab")},
			expectedJobs: nil,
		},
		{
			name:         "duplicate candidates collapse",
			steps:        []client.StepDetails{exportStep("corp"), syncStep("corp"), exportStep("")},
			expectedJobs: []string{"CORP-DI"},
		},
		{
			name: "sync with outbound changes notifies targets once",
			steps: []client.StepDetails{
				syncStep("corp",
					client.OutboundFlowCounters{TargetAgentID: "hr", Provisioning: 1},
					client.OutboundFlowCounters{TargetAgentID: "ldap"},
					client.OutboundFlowCounters{TargetAgentID: "ldap", AttributeFlows: 4},
					client.OutboundFlowCounters{TargetAgentID: "hr", Deprovisioning: 1},
				),
			},
			expectedNotes: []string{"hr", "ldap"},
		},
		{
			name: "full pipeline",
			steps: []client.StepDetails{
				importStep("corp", 5),
				syncStep("corp", client.OutboundFlowCounters{TargetAgentID: "hr", AttributeFlows: 1}),
				exportStep("corp"),
			},
			expectedJobs:  []string{"CORP-DI"},
			expectedNotes: []string{"hr"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := Resolve(testAgent(), &client.RunDetails{Steps: tt.steps})

			var names []string
			for _, j := range result.Jobs {
				assert.True(t, j.RunImmediate)
				names = append(names, j.RunProfileName)
			}
			assert.Equal(t, tt.expectedJobs, names)

			var targets []string
			for _, n := range result.Notifications {
				assert.Equal(t, bus.SyncComplete{SourceAgentID: "ad", SourceAgentName: "Active Directory", TargetAgentID: n.TargetAgentID}, n)
				targets = append(targets, n.TargetAgentID)
			}
			assert.Equal(t, tt.expectedNotes, targets)
		})
	}
}

func TestResolve_Nil(t *testing.T) {
	t.Parallel()

	assert.True(t, Resolve(testAgent(), nil).IsEmpty())
	assert.True(t, Resolve(nil, &client.RunDetails{}).IsEmpty())
}
