// Package app provides the command line interface of runctl.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/runctl/internal/config"
	"github.com/stacklok/runctl/internal/versions"
)

// newViper returns a viper instance reading RUNCTL_ environment variables.
// Every command binds its flags to its own instance.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// NewRootCmd creates the root command with every subcommand attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "runctl",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Run profile scheduler for identity synchronization agents",
		Long: `runctl schedules and serializes run profile executions across the agents of an
identity synchronization store. It honors cross-agent locking, retries transient failures,
chains follow-up runs and serves a status and control API.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to read format flag: %w", err)
			}

			if format == "json" {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}

			slog.Info("runctl version",
				"version", info.Version,
				"commit", info.Commit,
				"built", info.BuildDate,
				"go", info.GoVersion,
				"platform", info.Platform)
			return nil
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}

func newValidateCmd() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(config.WithConfigPath(v.GetString("config")))
			if err != nil {
				return err
			}

			enabled := 0
			for _, agent := range cfg.Agents {
				if !agent.Disabled {
					enabled++
				}
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %d agents (%d enabled), run mode %s\n",
				len(cfg.Agents), enabled, cfg.Settings.GetRunMode())
			return err
		},
	}
	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	mustBind(v, "config", cmd)
	return cmd
}

// mustBind binds the named flag of cmd to v. Binding only fails on programming errors.
func mustBind(v *viper.Viper, name string, cmd *cobra.Command) {
	if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", name, err))
	}
}
