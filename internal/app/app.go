// Package app provides application lifecycle management for the run controller.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/stacklok/runctl/internal/config"
)

// ErrTerminationRequested is returned by Run when a controller script asked for the process to stop
var ErrTerminationRequested = errors.New("process termination requested")

// App encapsulates all components needed to run the controllers and their API server.
// It provides lifecycle management and graceful shutdown capabilities.
type App struct {
	config     *config.Config
	components *Components
	httpServer *http.Server
	fatal      chan error

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the controllers and the HTTP server on the configured address.
// This method blocks until the HTTP server stops, the context is cancelled or a
// controller requests process termination.
func (app *App) Start() error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(listener)
}

// Serve is Start on an existing listener
func (app *App) Serve(listener net.Listener) error {
	// agents that fail to start are reported and stay stopped, the others keep running
	if err := app.components.Coordinator.Start(app.ctx); err != nil {
		slog.Error("Some controllers failed to start", "error", err)
	}

	if store := app.components.History; store != nil {
		if retention := app.config.History.GetRetention(); retention > 0 {
			go pruneHistory(app.ctx, store, retention, defaultPruneInterval)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "address", listener.Addr().String())
		serveErr <- app.httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case err := <-app.fatal:
		return fmt.Errorf("%w: %w", ErrTerminationRequested, err)
	case <-app.ctx.Done():
		return nil
	}
}

// Stop gracefully stops the application with the given timeout.
// It stops the controllers first and then shuts down the HTTP server.
func (app *App) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.components.Coordinator.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to stop controllers", "error", err)
		errs = append(errs, err)
	}

	// Cancel the application context
	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}

	if err := app.components.Telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Failed to flush telemetry", "error", err)
	}

	if app.components.History != nil {
		if err := app.components.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close run history: %w", err))
		}
	}

	slog.Info("Server shutdown complete")
	return errors.Join(errs...)
}

// Reload applies a new configuration to the running controllers
func (app *App) Reload(cfg *config.Config) error {
	// the new configuration is in effect even if some controllers failed to restart
	_, err := app.components.Coordinator.Reload(cfg)
	app.config = cfg
	return err
}

// GetConfig returns the application configuration
func (app *App) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server
func (app *App) GetHTTPServer() *http.Server {
	return app.httpServer
}

// GetComponents returns the application components
func (app *App) GetComponents() *Components {
	return app.components
}
