package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// journal records task executions and reverts in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string{}, j.entries...)
}

func recordingTask(j *journal, name string, execErr error) Task {
	return TaskFunc{
		TaskName: name,
		ExecuteFn: func(_ context.Context, _ *Store) error {
			j.add("exec:" + name)
			return execErr
		},
		RevertFn: func(_ context.Context, _ *Store, _ error) error {
			j.add("revert:" + name)
			return nil
		},
	}
}

func newTestEngine(t *testing.T, name string, factory FlowFactory, opts ...Option) *Engine {
	t.Helper()
	registry := NewRegistry()
	if err := registry.Register(name, factory); err != nil {
		t.Fatalf("Failed to register flow: %v", err)
	}
	opts = append([]Option{WithRetryBackoff(func(int, error) time.Duration { return time.Millisecond })}, opts...)
	return NewEngine(registry, opts...)
}

func TestEngine_Run_Success(t *testing.T) {
	output := NewKey[string]("output")
	input := NewKey[int]("input")

	eng := newTestEngine(t, "double", func(_ *Store) (*Flow, error) {
		return NewFlow("double").Add(TaskFunc{
			TaskName: "format",
			ExecuteFn: func(_ context.Context, s *Store) error {
				n, err := Require(s, input)
				if err != nil {
					return err
				}
				Put(s, output, time.Duration(n*2).String())
				return nil
			},
		}), nil
	})

	store := NewStore()
	Put(store, input, 21)

	result, err := eng.Run(context.Background(), "double", store)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	got, ok := Get(result, output)
	if !ok || got != "42ns" {
		t.Errorf("Expected output 42ns, got %q (present=%v)", got, ok)
	}
}

func TestEngine_Run_UnknownFlow(t *testing.T) {
	eng := NewEngine(NewRegistry())

	_, err := eng.Run(context.Background(), "missing", NewStore())
	if err == nil {
		t.Fatal("Expected error for unknown flow")
	}

	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != ErrCodeUnknownFlow {
		t.Errorf("Expected UNKNOWN_FLOW error, got: %v", err)
	}
}

func TestEngine_Run_RevertsInReverseOrder(t *testing.T) {
	j := &journal{}
	boom := errors.New("boom")

	eng := newTestEngine(t, "failing", func(_ *Store) (*Flow, error) {
		return NewFlow("failing").
			Add(recordingTask(j, "first", nil)).
			Add(recordingTask(j, "second", nil)).
			Add(recordingTask(j, "third", boom)).
			Add(recordingTask(j, "never", nil)), nil
	})

	_, err := eng.Run(context.Background(), "failing", NewStore())
	if err == nil {
		t.Fatal("Expected flow to fail")
	}

	var flowErr *FlowError
	if !errors.As(err, &flowErr) {
		t.Fatalf("Expected *FlowError, got %T", err)
	}
	if flowErr.Task != "third" {
		t.Errorf("Expected failed task third, got %s", flowErr.Task)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Expected error to unwrap to task error, got: %v", err)
	}

	want := []string{
		"exec:first", "exec:second", "exec:third",
		"revert:third", "revert:second", "revert:first",
	}
	got := j.snapshot()
	if len(got) != len(want) {
		t.Fatalf("Expected journal %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected journal[%d]=%s, got %s", i, want[i], got[i])
		}
	}
}

func TestEngine_RunFlow_RevertErrorsCollected(t *testing.T) {
	boom := errors.New("boom")
	revertBoom := errors.New("revert boom")

	flow := NewFlow("revert-errors").
		Add(TaskFunc{
			TaskName: "update-db",
			RevertFn: func(context.Context, *Store, error) error { return revertBoom },
		}).
		Add(TaskFunc{
			TaskName:  "push-config",
			ExecuteFn: func(context.Context, *Store) error { return boom },
		})

	result, err := NewEngine(NewRegistry()).RunFlow(context.Background(), flow, NewStore())

	var flowErr *FlowError
	if !errors.As(err, &flowErr) {
		t.Fatalf("Expected *FlowError, got %v", err)
	}
	if !errors.Is(flowErr, boom) {
		t.Errorf("Expected original error to be preserved, got: %v", flowErr.Err)
	}
	if flowErr.RevertErrs["update-db"] != revertBoom {
		t.Errorf("Expected revert error for update-db, got: %v", flowErr.RevertErrs)
	}
	if result.Status != RunStatusReverted {
		t.Errorf("Expected run status reverted, got %s", result.Status)
	}
	if result.Tasks["update-db"].Status != TaskStatusRevertFailed {
		t.Errorf("Expected update-db revert_failed, got %s", result.Tasks["update-db"].Status)
	}
}

func TestEngine_RunFlow_RetriesRetryableErrors(t *testing.T) {
	attempts := 0
	flow := NewFlow("retry").Add(TaskFunc{
		TaskName: "flaky",
		ExecuteFn: func(context.Context, *Store) error {
			attempts++
			if attempts < 3 {
				return NewTransientError("agent not ready", nil)
			}
			return nil
		},
	}, Retries(3))

	eng := NewEngine(NewRegistry(), WithRetryBackoff(func(int, error) time.Duration { return 0 }))
	result, err := eng.RunFlow(context.Background(), flow, NewStore())
	if err != nil {
		t.Fatalf("Expected success after retries, got: %v", err)
	}
	if result.Tasks["flaky"].Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Tasks["flaky"].Attempts)
	}
}

func TestEngine_RunFlow_PermanentErrorsNotRetried(t *testing.T) {
	attempts := 0
	flow := NewFlow("no-retry").Add(TaskFunc{
		TaskName: "broken",
		ExecuteFn: func(context.Context, *Store) error {
			attempts++
			return NewPermanentError("bad input", nil)
		},
	}, Retries(5))

	_, err := NewEngine(NewRegistry()).RunFlow(context.Background(), flow, NewStore())
	if err == nil {
		t.Fatal("Expected failure")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestEngine_RunFlow_PanicBecomesError(t *testing.T) {
	flow := NewFlow("panic").Add(TaskFunc{
		TaskName:  "explode",
		ExecuteFn: func(context.Context, *Store) error { panic("kaboom") },
	})

	_, err := NewEngine(NewRegistry()).RunFlow(context.Background(), flow, NewStore())
	if err == nil || !IsPermanent(err) {
		t.Fatalf("Expected permanent error from panic, got: %v", err)
	}
}

func TestEngine_RunFlow_ParallelLevel(t *testing.T) {
	var mu sync.Mutex
	running, peak := 0, 0

	track := func(name string) Task {
		return TaskFunc{
			TaskName: name,
			ExecuteFn: func(context.Context, *Store) error {
				mu.Lock()
				running++
				if running > peak {
					peak = running
				}
				mu.Unlock()

				time.Sleep(20 * time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return nil
			},
		}
	}

	flow := NewFlow("parallel").Parallel(track("a"), track("b"), track("c"), track("d"))

	_, err := NewEngine(NewRegistry(), WithMaxParallel(2)).RunFlow(context.Background(), flow, NewStore())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if peak > 2 {
		t.Errorf("Expected at most 2 concurrent tasks, got %d", peak)
	}
}

func TestEngine_RunFlow_CancelledContext(t *testing.T) {
	j := &journal{}
	ctx, cancel := context.WithCancel(context.Background())

	flow := NewFlow("cancel").
		Add(TaskFunc{
			TaskName: "first",
			ExecuteFn: func(context.Context, *Store) error {
				j.add("exec:first")
				cancel()
				return nil
			},
			RevertFn: func(context.Context, *Store, error) error {
				j.add("revert:first")
				return nil
			},
		}).
		Add(recordingTask(j, "second", nil))

	result, err := NewEngine(NewRegistry()).RunFlow(ctx, flow, NewStore())
	if err == nil {
		t.Fatal("Expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got: %v", err)
	}
	if result.Status != RunStatusCancelled {
		t.Errorf("Expected cancelled status, got %s", result.Status)
	}
	if result.Tasks["second"].Status != TaskStatusSkipped {
		t.Errorf("Expected second to be skipped, got %s", result.Tasks["second"].Status)
	}

	got := j.snapshot()
	if len(got) != 2 || got[1] != "revert:first" {
		t.Errorf("Expected first to be reverted, got %v", got)
	}
}

func TestEngine_PublishesEvents(t *testing.T) {
	var mu sync.Mutex
	var types []EventType

	publisher := EventPublisherFunc(func(_ context.Context, ev *Event) error {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, ev.Type)
		return nil
	})

	flow := NewFlow("events").Add(noopTask("only"))
	if _, err := NewEngine(NewRegistry(), WithEventPublisher(publisher)).RunFlow(context.Background(), flow, NewStore()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []EventType{EventTypeFlowStarted, EventTypeTaskStarted, EventTypeTaskCompleted, EventTypeFlowCompleted}
	if len(types) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Expected event[%d]=%s, got %s", i, want[i], types[i])
		}
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	registry := NewRegistry()
	factory := func(*Store) (*Flow, error) { return NewFlow("x"), nil }

	if err := registry.Register("x", factory); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := registry.Register("x", factory); err == nil {
		t.Error("Expected duplicate registration to fail")
	}

	if names := registry.Names(); len(names) != 1 || names[0] != "x" {
		t.Errorf("Expected [x], got %v", names)
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		err     error
		want    time.Duration
	}{
		{"transient first", 0, NewTransientError("x", nil), time.Second},
		{"transient third", 2, NewTransientError("x", nil), 4 * time.Second},
		{"throttled", 1, NewThrottledError("x", nil), 10 * time.Second},
		{"conflict", 0, NewConflictError("x", nil), 2 * time.Second},
		{"capped", 10, NewTransientError("x", nil), time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calculateBackoff(tt.attempt, tt.err); got != tt.want {
				t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}
