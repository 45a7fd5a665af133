package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stacklok/runctl/internal/client"
)

// fakeClient simulates one agent. Runs complete with "success" unless resultFor says otherwise.
type fakeClient struct {
	mu        sync.Mutex
	runNumber int64
	last      *client.RunDetails
	calls     []string
	attempts  map[string]int

	// busy reports a run in progress that the fake did not start; Wait finishes it with unmanaged
	busy      bool
	unmanaged *client.RunDetails

	delay        time.Duration
	blocking     map[string]bool
	ignoreCancel map[string]time.Duration
	resultFor    func(name string, attempt int) string
	stepsFor     func(name string) []client.StepDetails

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	// shared counts executions across several fakes
	shared *concurrency
}

type concurrency struct {
	inFlight atomic.Int32
	max      atomic.Int32
}

func (c *concurrency) enter() {
	n := c.inFlight.Add(1)
	for {
		m := c.max.Load()
		if n <= m || c.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (c *concurrency) leave() {
	c.inFlight.Add(-1)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		attempts:     make(map[string]int),
		blocking:     make(map[string]bool),
		ignoreCancel: make(map[string]time.Duration),
		runNumber:    100,
	}
}

func (f *fakeClient) ExecuteRunProfile(ctx context.Context, name string) (string, error) {
	n := f.inFlight.Add(1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	defer f.inFlight.Add(-1)
	if f.shared != nil {
		f.shared.enter()
		defer f.shared.leave()
	}

	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.attempts[name]++
	attempt := f.attempts[name]
	blocking := f.blocking[name]
	stubborn, ignoring := f.ignoreCancel[name]
	delay := f.delay
	f.mu.Unlock()

	switch {
	case blocking:
		<-ctx.Done()
		return "", ctx.Err()
	case ignoring:
		time.Sleep(stubborn)
	case delay > 0:
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	result := client.ResultSuccess
	if f.resultFor != nil {
		result = f.resultFor(name, attempt)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.runNumber++
	details := &client.RunDetails{
		RunNumber:      f.runNumber,
		RunProfileName: name,
		Result:         result,
		StartTime:      time.Now(),
		EndTime:        time.Now(),
	}
	if f.stepsFor != nil {
		details.Steps = f.stepsFor(name)
	}
	f.last = details
	return result, nil
}

func (f *fakeClient) GetLastRun(context.Context) (*client.RunDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return nil, nil
	}
	copied := *f.last
	return &copied, nil
}

func (f *fakeClient) IsIdle(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.busy, nil
}

func (f *fakeClient) Wait(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		f.busy = false
		f.last = f.unmanaged
	}
	return nil
}

func (f *fakeClient) HasPendingImports(context.Context) (bool, error) { return false, nil }

func (f *fakeClient) HasPendingExports(context.Context) (bool, error) { return false, nil }

func (f *fakeClient) GetPendingImportPartitions(context.Context) ([]string, error) { return nil, nil }

func (f *fakeClient) GetPendingExportPartitions(context.Context) ([]string, error) { return nil, nil }

func (f *fakeClient) Stop(context.Context) error { return nil }

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}
