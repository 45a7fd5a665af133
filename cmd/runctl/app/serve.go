package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	runctl "github.com/stacklok/runctl/internal/app"
	"github.com/stacklok/runctl/internal/client/dryrun"
	"github.com/stacklok/runctl/internal/config"
)

const (
	defaultGracefulTimeout = 90 * time.Second // controllers get shutdownTimeout, the rest is for the HTTP server
	defaultRunDuration     = 2 * time.Second
)

func newServeCmd() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the controllers and the status API",
		Long: `Start one controller per configured agent and serve the status and control API.

The server requires a configuration file (--config) that specifies:
- Global settings (run mode, lock mode, retries, timeouts)
- Agents with their partitions, run profiles, thresholds and triggers

Run profiles are executed by the dry-run client, which logs every run and reports success.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	cmd.Flags().String("address", ":8080", "Address to listen on")
	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	cmd.Flags().Bool("watch-config", false, "Reload the configuration when the file changes")
	cmd.Flags().Duration("run-duration", defaultRunDuration, "Simulated duration of dry-run executions")

	for _, name := range []string{"address", "config", "watch-config", "run-duration"} {
		mustBind(v, name, cmd)
	}
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(fmt.Sprintf("failed to mark config flag as required: %v", err))
	}
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := v.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration", "path", configPath, "agent_count", len(cfg.Agents),
		"run_mode", cfg.Settings.GetRunMode(), "lock_mode", cfg.Settings.GetLockMode())

	app, err := runctl.NewApp(ctx,
		runctl.WithConfig(cfg),
		runctl.WithAddress(v.GetString("address")),
		runctl.WithClientFactory(dryrun.Factory(dryrun.WithRunDuration(v.GetDuration("run-duration")))),
	)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if v.GetBool("watch-config") {
		watchConfig(configPath, app)
	}

	served := make(chan error, 1)
	go func() { served <- app.Start() }()

	var serveErr error
	select {
	case serveErr = <-served:
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	stopErr := app.Stop(defaultGracefulTimeout)
	if errors.Is(serveErr, runctl.ErrTerminationRequested) {
		slog.Error("Stopping after a controller requested process termination", "error", serveErr)
	}
	return errors.Join(serveErr, stopErr)
}

// reloader applies configuration changes
type reloader interface {
	Reload(cfg *config.Config) error
}

// watchConfig reloads the configuration whenever the file changes. A file that fails to load
// keeps the previous configuration in effect.
func watchConfig(path string, target reloader) {
	w := viper.New()
	w.SetConfigFile(path)
	w.SetConfigType("yaml")
	if err := w.ReadInConfig(); err != nil {
		slog.Warn("Failed to read configuration for watching", "path", path, "error", err)
	}

	w.OnConfigChange(func(e fsnotify.Event) {
		reloadConfig(e.Name, target)
	})
	w.WatchConfig()
	slog.Info("Watching configuration for changes", "path", path)
}

func reloadConfig(path string, target reloader) {
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		slog.Error("Ignoring invalid configuration change", "path", path, "error", err)
		return
	}
	if err := target.Reload(cfg); err != nil {
		slog.Error("Some controllers failed to apply the new configuration", "error", err)
		return
	}
	slog.Info("Applied configuration change", "path", path)
}
