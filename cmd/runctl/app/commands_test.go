package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/runctl/internal/config"
	"github.com/stacklok/runctl/internal/versions"
)

const testConfig = `settings:
  runMode: exclusive
agents:
  - id: ad
    partitions:
      - name: corp
        default: true
        runProfiles:
          deltaImport: DI
  - id: hr
    disabled: true
    partitions:
      - name: default
        runProfiles:
          export: EX
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand_JSON(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version", "--format", "json")
	require.NoError(t, err)

	var info versions.VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, versions.GetVersionInfo(), info)
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantOut string
		wantErr string
	}{
		{
			name:    "valid configuration",
			content: testConfig,
			wantOut: "configuration is valid: 2 agents (1 enabled), run mode exclusive\n",
		},
		{
			name:    "no agents",
			content: "settings:\n  runMode: supported\n",
			wantErr: "at least one agent must be configured",
		},
		{
			name:    "invalid lock mode",
			content: "settings:\n  lockMode: sometimes\n",
			wantErr: "lockMode must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := execute(t, "validate", "--config", writeConfig(t, tt.content))
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOut, out)
		})
	}
}

func TestServeCommand_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "serve")
	require.ErrorContains(t, err, `required flag(s) "config" not set`)
}

func TestServeCommand_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "serve", "--config", writeConfig(t, "agents: []\n"), "--address", "127.0.0.1:0")
	require.ErrorContains(t, err, "failed to load configuration")
}

type fakeReloader struct {
	applied []*config.Config
	err     error
}

func (f *fakeReloader) Reload(cfg *config.Config) error {
	f.applied = append(f.applied, cfg)
	return f.err
}

func TestReloadConfig(t *testing.T) {
	t.Parallel()

	target := &fakeReloader{}
	reloadConfig(writeConfig(t, testConfig), target)
	require.Len(t, target.applied, 1)
	assert.Equal(t, config.RunModeExclusive, target.applied[0].Settings.RunMode)

	// an invalid file keeps the previous configuration
	reloadConfig(writeConfig(t, "agents: [\n"), target)
	assert.Len(t, target.applied, 1)

	failing := &fakeReloader{err: errors.New("restart failed")}
	assert.NotPanics(t, func() { reloadConfig(writeConfig(t, testConfig), failing) })
	assert.Len(t, failing.applied, 1)
}
