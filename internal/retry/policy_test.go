package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	p := Policy{RetryableCodes: []string{"stopped-server-down", "stopped-deadlocked"}}
	assert.True(t, p.ShouldRetry("stopped-deadlocked"))
	assert.False(t, p.ShouldRetry("success"))
	assert.False(t, p.ShouldRetry(""))
}

func TestPolicy_Delay(t *testing.T) {
	t.Parallel()

	p := Policy{BaseInterval: time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		base := time.Duration(attempt) * time.Second
		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, base-base/10)
			assert.LessOrEqual(t, d, base+base/10)
		}
	}

	assert.Zero(t, Policy{}.Delay(3))
}

func TestPolicy_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		maxRetries       int
		results          []string
		expectedAttempts int
		expectedResult   string
		exhausted        bool
	}{
		{
			name:             "always retryable stops after max retries",
			maxRetries:       3,
			results:          []string{"busy", "busy", "busy", "busy", "busy", "busy"},
			expectedAttempts: 4,
			expectedResult:   "busy",
			exhausted:        true,
		},
		{
			name:             "success on first attempt",
			maxRetries:       3,
			results:          []string{"success"},
			expectedAttempts: 1,
			expectedResult:   "success",
		},
		{
			name:             "recovers after retries",
			maxRetries:       3,
			results:          []string{"busy", "busy", "success"},
			expectedAttempts: 3,
			expectedResult:   "success",
		},
		{
			name:             "non retryable failure is final",
			maxRetries:       3,
			results:          []string{"completed-errors"},
			expectedAttempts: 1,
			expectedResult:   "completed-errors",
		},
		{
			name:             "zero retries",
			maxRetries:       0,
			results:          []string{"busy", "busy"},
			expectedAttempts: 1,
			expectedResult:   "busy",
			exhausted:        true,
		},
		{
			name:             "unlimited retries",
			maxRetries:       -1,
			results:          []string{"busy", "busy", "busy", "busy", "busy", "busy", "busy", "success"},
			expectedAttempts: 8,
			expectedResult:   "success",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := Policy{RetryableCodes: []string{"busy"}, MaxRetries: tt.maxRetries, BaseInterval: time.Millisecond}
			var seen []int
			outcome, err := p.Execute(context.Background(), func(_ context.Context, attempt int) (string, error) {
				seen = append(seen, attempt)
				return tt.results[attempt-1], nil
			})

			require.NoError(t, err)
			assert.Equal(t, tt.expectedAttempts, outcome.Attempts)
			assert.Len(t, seen, tt.expectedAttempts)
			assert.Equal(t, tt.expectedResult, outcome.Result)
			assert.Equal(t, tt.exhausted, outcome.Exhausted)
		})
	}
}

func TestPolicy_ExecuteAttemptError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p := Policy{RetryableCodes: []string{"busy"}, MaxRetries: 3, BaseInterval: time.Millisecond}

	outcome, err := p.Execute(context.Background(), func(context.Context, int) (string, error) {
		return "", boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, outcome.Attempts, "errors are not retried")
}

func TestPolicy_ExecuteCancelledDuringDelay(t *testing.T) {
	t.Parallel()

	p := Policy{RetryableCodes: []string{"busy"}, MaxRetries: -1, BaseInterval: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := p.Execute(ctx, func(context.Context, int) (string, error) {
			return "busy", nil
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
}
