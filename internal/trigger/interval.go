package trigger

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/stacklok/runctl/internal/config"
	"github.com/stacklok/runctl/internal/job"
)

const (
	// TypeInterval fires a fixed job on a schedule
	TypeInterval = "interval"

	// defaultTriggerInterval applies when an interval trigger has no interval configured
	defaultTriggerInterval = time.Hour

	// intervalJitter is the relative random offset applied to every tick
	intervalJitter = 0.05
)

// ticker is the shared start/stop plumbing of polling triggers
type ticker struct {
	name     string
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// nextInterval returns the interval with a small random offset so that triggers of different
// agents configured with the same interval drift apart
func (t *ticker) nextInterval() time.Duration {
	spread := int64(float64(t.interval) * intervalJitter)
	if spread <= 0 {
		return t.interval
	}
	//nolint:gosec // G404: Non-cryptographic randomness is sufficient for trigger jitter
	return t.interval + time.Duration(rand.Int64N(2*spread)-spread)
}

func (t *ticker) start(ctx context.Context, tick func(ctx context.Context)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return errors.New("trigger already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		timer := time.NewTimer(t.nextInterval())
		defer timer.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-timer.C:
				tick(loopCtx)
				timer.Reset(t.nextInterval())
			}
		}
	}(t.done)
	return nil
}

func (t *ticker) stop() error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// IntervalTrigger fires the same job every interval
type IntervalTrigger struct {
	ticker
	job job.Job
}

// NewIntervalTrigger builds an interval trigger from its configuration
func NewIntervalTrigger(cfg config.TriggerConfig) (Trigger, error) {
	j := cfg.Job()
	if j.IsEmpty() {
		return nil, errors.New("runProfileName or runProfileType is required")
	}
	return &IntervalTrigger{
		ticker: ticker{
			name:     triggerName(cfg),
			interval: cfg.GetInterval(defaultTriggerInterval),
		},
		job: j,
	}, nil
}

// DisplayName implements Trigger
func (t *IntervalTrigger) DisplayName() string {
	return t.name
}

// Start implements Trigger
func (t *IntervalTrigger) Start(ctx context.Context, _ Agent, sink Sink) error {
	return t.start(ctx, func(context.Context) {
		sink.Fire(t.job)
	})
}

// Stop implements Trigger
func (t *IntervalTrigger) Stop() error {
	return t.stop()
}

func triggerName(cfg config.TriggerConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return cfg.Type
}
