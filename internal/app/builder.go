package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/runctl/internal/api"
	"github.com/stacklok/runctl/internal/client/dryrun"
	"github.com/stacklok/runctl/internal/config"
	"github.com/stacklok/runctl/internal/coordinator"
	"github.com/stacklok/runctl/internal/executor"
	"github.com/stacklok/runctl/internal/history"
	"github.com/stacklok/runctl/internal/lock"
	"github.com/stacklok/runctl/internal/status"
	"github.com/stacklok/runctl/internal/telemetry"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	// executorTracerName names the tracer of executor spans
	executorTracerName = "github.com/stacklok/runctl/executor"
)

// AppOption configures the application builder
type AppOption func(*appConfig) error

// appConfig collects the inputs of NewApp
type appConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	clientFactory coordinator.ClientFactory
	hookFactory   coordinator.HookFactory
	telemetry     *telemetry.Telemetry

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...AppOption) (*appConfig, error) {
	cfg := &appConfig{
		address:        defaultHTTPAddress,
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	return cfg, nil
}

// NewApp wires the configuration into a ready to start application
func NewApp(ctx context.Context, opts ...AppOption) (*App, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	tel := cfg.telemetry
	if tel == nil {
		tel, err = telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.config.Telemetry))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	var historyStore *history.Store
	if cfg.config.History != nil {
		historyStore, err = history.Open(cfg.config.History.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
		slog.Info("Run history enabled", "path", cfg.config.History.Path)
	}

	// Ensure cleanup happens on error
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			_ = historyStore.Close()
		}
	}()

	fatal := make(chan error, 1)
	coord, err := buildCoordinator(cfg, tel, historyStore, fatal)
	if err != nil {
		return nil, fmt.Errorf("failed to build coordinator: %w", err)
	}

	httpServer, err := buildHTTPServer(cfg, tel, coord, historyStore)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	cleanupNeeded = false

	return &App{
		config: cfg.config,
		components: &Components{
			Coordinator: coord,
			History:     historyStore,
			Telemetry:   tel,
		},
		httpServer: httpServer,
		fatal:      fatal,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) AppOption {
	return func(cfg *appConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) AppOption {
	return func(cfg *appConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) AppOption {
	return func(cfg *appConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithClientFactory sets how execution clients are created. Defaults to dry-run clients.
func WithClientFactory(f coordinator.ClientFactory) AppOption {
	return func(cfg *appConfig) error {
		cfg.clientFactory = f
		return nil
	}
}

// WithHookFactory sets the controller scripts of the agents
func WithHookFactory(f coordinator.HookFactory) AppOption {
	return func(cfg *appConfig) error {
		cfg.hookFactory = f
		return nil
	}
}

// WithTelemetry injects already initialized telemetry providers
func WithTelemetry(t *telemetry.Telemetry) AppOption {
	return func(cfg *appConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// buildCoordinator builds the lock registry, the executor observers and the coordinator
func buildCoordinator(
	b *appConfig,
	tel *telemetry.Telemetry,
	historyStore *history.Store,
	fatal chan<- error,
) (*coordinator.Coordinator, error) {
	slog.Info("Initializing controllers", "agent_count", len(b.config.Agents))

	metrics, err := telemetry.NewExecutionMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create execution metrics: %w", err)
	}

	settings := b.config.Settings
	locks := lock.NewRegistry(
		lock.WithLockMode(settings.GetLockMode()),
		lock.WithStaggerInterval(settings.GetStaggerInterval()),
		lock.WithSyncSerialization(settings.GetSerializeSyncSteps()),
		lock.WithWaitObserver(func(agentID string, stage lock.Stage, waited time.Duration) {
			metrics.RecordLockWait(context.Background(), agentID, string(stage), waited)
		}),
	)

	execOpts := []executor.Option{
		executor.WithMetrics(metrics),
		executor.WithTracer(tel.TracerProvider().Tracer(executorTracerName)),
		executor.WithStatusObserver(status.PersistingObserver(status.NewFileStatusPersistence(b.config.GetStatusDir()))),
		executor.WithFatalHandler(fatalHandler(fatal)),
	}
	if historyStore != nil {
		execOpts = append(execOpts, executor.WithCompletionListener(historyListener(historyStore)))
	}

	clients := b.clientFactory
	if clients == nil {
		slog.Warn("No execution client configured, running in dry-run mode")
		clients = dryrun.Factory()
	}

	coordOpts := []coordinator.Option{
		coordinator.WithLockRegistry(locks),
		coordinator.WithExecutorOptions(execOpts...),
	}
	if b.hookFactory != nil {
		coordOpts = append(coordOpts, coordinator.WithHookFactory(b.hookFactory))
	}

	return coordinator.New(config.NewStore(b.config), clients, coordOpts...), nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(
	b *appConfig,
	tel *telemetry.Telemetry,
	coord *coordinator.Coordinator,
	historyStore *history.Store,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	middlewares := b.middlewares
	if middlewares == nil {
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	httpMetrics, err := telemetry.NewHTTPMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}
	// metrics and tracing wrap every request, including failed ones
	middlewares = append([]func(http.Handler) http.Handler{
		httpMetrics.Middleware,
		telemetry.TracingMiddleware(tel.TracerProvider()),
	}, middlewares...)

	serverOpts := []api.ServerOption{api.WithMiddlewares(middlewares...)}
	if historyStore != nil {
		serverOpts = append(serverOpts, api.WithHistory(historyStore))
	}
	if handler := tel.MetricsHandler(); handler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(handler))
	}

	server := &http.Server{
		Addr:         b.address,
		Handler:      api.NewServer(coord, serverOpts...),
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
