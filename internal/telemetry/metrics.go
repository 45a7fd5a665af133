package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ExecutionMetricsMeterName is the name used for the execution metrics meter
const ExecutionMetricsMeterName = "github.com/stacklok/runctl/executor"

// ExecutionMetrics holds the instruments recorded by executors. A nil *ExecutionMetrics
// records nothing.
type ExecutionMetrics struct {
	runDuration  metric.Float64Histogram
	runAttempts  metric.Int64Counter
	lockWait     metric.Float64Histogram
	queueLength  metric.Int64Gauge
	jobsEnqueued metric.Int64Counter
}

// NewExecutionMetrics creates the execution instruments. A nil provider returns nil.
func NewExecutionMetrics(provider metric.MeterProvider) (*ExecutionMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ExecutionMetricsMeterName)

	runDuration, err := meter.Float64Histogram(
		"runctl_run_duration_seconds",
		metric.WithDescription("Duration of run profile executions including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200),
	)
	if err != nil {
		return nil, err
	}

	runAttempts, err := meter.Int64Counter(
		"runctl_run_attempts_total",
		metric.WithDescription("Number of run profile execution attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	lockWait, err := meter.Float64Histogram(
		"runctl_lock_wait_seconds",
		metric.WithDescription("Time spent waiting for execution locks"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 1, 5, 15, 60, 300, 900, 3600),
	)
	if err != nil {
		return nil, err
	}

	queueLength, err := meter.Int64Gauge(
		"runctl_queue_length",
		metric.WithDescription("Number of jobs waiting in an agent's queue"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	jobsEnqueued, err := meter.Int64Counter(
		"runctl_jobs_enqueued_total",
		metric.WithDescription("Number of jobs added to agent queues"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	return &ExecutionMetrics{
		runDuration:  runDuration,
		runAttempts:  runAttempts,
		lockWait:     lockWait,
		queueLength:  queueLength,
		jobsEnqueued: jobsEnqueued,
	}, nil
}

// RecordRun records a finished execution and its attempt count
func (m *ExecutionMetrics) RecordRun(ctx context.Context, agent, runProfile, result string, attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("run_profile", runProfile),
		attribute.String("result", result),
	)
	m.runDuration.Record(ctx, duration.Seconds(), attrs)
	m.runAttempts.Add(ctx, int64(attempts), metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("run_profile", runProfile),
	))
}

// RecordLockWait records how long an acquisition stage waited
func (m *ExecutionMetrics) RecordLockWait(ctx context.Context, agent, stage string, waited time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Record(ctx, waited.Seconds(), metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("stage", stage),
	))
}

// RecordQueueLength records the current queue length of an agent
func (m *ExecutionMetrics) RecordQueueLength(ctx context.Context, agent string, length int) {
	if m == nil {
		return
	}
	m.queueLength.Record(ctx, int64(length), metric.WithAttributes(attribute.String("agent", agent)))
}

// RecordJobEnqueued counts a job added to an agent's queue
func (m *ExecutionMetrics) RecordJobEnqueued(ctx context.Context, agent, source string) {
	if m == nil {
		return
	}
	m.jobsEnqueued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("source", source),
	))
}
