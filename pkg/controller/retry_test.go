package controller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/octane-lb/octane/pkg/engine"
	"github.com/octane-lb/octane/pkg/models"
	"github.com/octane-lb/octane/pkg/stores"
)

var errTransient = errors.New("transient")

func always(error) bool { return true }

func TestRetryPolicyBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: time.Second},
		{attempt: 1, want: time.Second},
		{attempt: 2, want: 2 * time.Second},
		{attempt: 4, want: 4 * time.Second},
		{attempt: 5, want: 5 * time.Second},
		{attempt: 6, want: 5 * time.Second},
		{attempt: 14, want: 5 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicyExhausts(t *testing.T) {
	clk := &recordingClock{}
	p := testPolicy(clk)

	calls := 0
	var notified []int
	err := p.Call(context.Background(), func() error {
		calls++
		return errTransient
	}, always, func(_ error, attempt int) {
		notified = append(notified, attempt)
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Call() error = %v, want ExhaustedError", err)
	}
	if exhausted.Attempts != 15 || calls != 15 {
		t.Errorf("attempts = %d, calls = %d, want 15", exhausted.Attempts, calls)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("exhausted error does not unwrap to the last attempt error")
	}
	if len(notified) != 15 {
		t.Errorf("notified %d times, want 15", len(notified))
	}

	want := []time.Duration{1, 2, 3, 4, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5}
	waits := clk.Waits()
	if len(waits) != len(want) {
		t.Fatalf("waited %d times, want %d: %v", len(waits), len(want), waits)
	}
	var total time.Duration
	for i, w := range waits {
		if w != want[i]*time.Second {
			t.Errorf("wait %d = %v, want %v", i+1, w, want[i]*time.Second)
		}
		total += w
	}
	if total != 60*time.Second {
		t.Errorf("total wait = %v, want 60s", total)
	}
}

func TestRetryPolicyStopsOnFatal(t *testing.T) {
	clk := &recordingClock{}
	p := testPolicy(clk)

	fatal := errors.New("fatal")
	calls := 0
	err := p.Call(context.Background(), func() error {
		calls++
		return fatal
	}, func(err error) bool { return !errors.Is(err, fatal) }, nil)

	if !errors.Is(err, fatal) {
		t.Fatalf("Call() error = %v, want fatal", err)
	}
	if calls != 1 || len(clk.Waits()) != 0 {
		t.Errorf("calls = %d, waits = %v, want one call and no wait", calls, clk.Waits())
	}
}

func TestRetryPolicySucceedsAfterRetries(t *testing.T) {
	clk := &recordingClock{}
	p := testPolicy(clk)

	calls := 0
	err := p.Call(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, always, nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if got := clk.Waits(); len(got) != 2 || got[0] != time.Second || got[1] != 2*time.Second {
		t.Errorf("waits = %v, want [1s 2s]", got)
	}
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	clk := &recordingClock{block: true}
	p := testPolicy(clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Call(ctx, func() error { return errTransient }, always, nil)
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) || !errors.Is(err, errTransient) {
			t.Errorf("Call() error = %v, want cancellation joined with the last error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Call() did not return after cancel")
	}
}

func TestAwaitPendingNonFatalExhaustion(t *testing.T) {
	f := newWorkerFixture()
	f.addPool("pool-1", "lb-1", models.ProvisioningActive)
	w := f.worker(Config{})

	pool, err := awaitPending(context.Background(), w, "pool", "pool-1", w.repo.GetPool,
		func(p *models.Pool) models.ProvisioningStatus { return p.ProvisioningStatus })
	if err != nil {
		t.Fatalf("awaitPending() error = %v, want nil", err)
	}
	if pool == nil || pool.ID != "pool-1" {
		t.Fatalf("awaitPending() = %+v, want last snapshot", pool)
	}
	if got := f.repo.readsOf("pool-1"); got != 15 {
		t.Errorf("reads = %d, want 15", got)
	}
}

func TestAwaitPendingReturnsOnPendingUpdate(t *testing.T) {
	f := newWorkerFixture()
	f.addPool("pool-1", "lb-1", models.ProvisioningPendingUpdate)
	f.repo.missing["pool-1"] = 2
	w := f.worker(Config{})

	if _, err := awaitPending(context.Background(), w, "pool", "pool-1", w.repo.GetPool,
		func(p *models.Pool) models.ProvisioningStatus { return p.ProvisioningStatus }); err != nil {
		t.Fatalf("awaitPending() error = %v", err)
	}
	if got := f.repo.readsOf("pool-1"); got != 3 {
		t.Errorf("reads = %d, want 3", got)
	}
}

func TestAwaitPendingNeverSeen(t *testing.T) {
	f := newWorkerFixture()
	w := f.worker(Config{})

	_, err := awaitPending(context.Background(), w, "pool", "pool-1", w.repo.GetPool,
		func(p *models.Pool) models.ProvisioningStatus { return p.ProvisioningStatus })
	if !stores.IsNotFound(err) || !engine.IsNotFound(err) {
		t.Fatalf("awaitPending() error = %v, want not found", err)
	}
}

func TestAwaitPendingDeletedWhileWaiting(t *testing.T) {
	f := newWorkerFixture()
	w := f.worker(Config{})

	reads := 0
	get := func(_ context.Context, id string) (*models.Pool, error) {
		reads++
		if reads <= 3 {
			return &models.Pool{ID: id, ProvisioningStatus: models.ProvisioningActive}, nil
		}
		return nil, fmt.Errorf("pool %s: %w", id, stores.ErrNotFound)
	}

	pool, err := awaitPending(context.Background(), w, "pool", "pool-1", get,
		func(p *models.Pool) models.ProvisioningStatus { return p.ProvisioningStatus })
	if !engine.IsNotFound(err) {
		t.Fatalf("awaitPending() error = %v, want not found", err)
	}
	if pool != nil {
		t.Errorf("awaitPending() = %+v, want nil", pool)
	}
	if reads != 15 {
		t.Errorf("reads = %d, want 15", reads)
	}
}

func TestMustExistExhaustion(t *testing.T) {
	f := newWorkerFixture()
	w := f.worker(Config{})

	_, err := mustExist(context.Background(), w, "load balancer", "lb-1", w.repo.GetLoadBalancer)
	if !errors.Is(err, stores.ErrNotFound) {
		t.Errorf("errors.Is(err, ErrNotFound) = false for %v", err)
	}
	if !engine.IsNotFound(err) {
		t.Errorf("engine.IsNotFound(err) = false for %v", err)
	}
	if got := f.repo.readsOf("lb-1"); got != 15 {
		t.Errorf("reads = %d, want 15", got)
	}
}

func TestMustExistAppearsLate(t *testing.T) {
	f := newWorkerFixture()
	f.addLoadBalancer("lb-1", models.ProvisioningPendingCreate)
	f.repo.missing["lb-1"] = 4
	w := f.worker(Config{})

	lb, err := mustExist(context.Background(), w, "load balancer", "lb-1", w.repo.GetLoadBalancer)
	if err != nil {
		t.Fatalf("mustExist() error = %v", err)
	}
	if lb.ID != "lb-1" {
		t.Errorf("mustExist() = %s", lb.ID)
	}
	if got := f.repo.readsOf("lb-1"); got != 5 {
		t.Errorf("reads = %d, want 5", got)
	}
}
