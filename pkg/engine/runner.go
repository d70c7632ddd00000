package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BackoffFunc returns the wait before retry attempt+1 of a task.
type BackoffFunc func(attempt int, err error) time.Duration

// Option configures an Engine.
type Option func(*Engine)

// WithMaxParallel bounds the number of tasks of one level running at once.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithEventPublisher sets the publisher that receives execution events.
func WithEventPublisher(p EventPublisher) Option {
	return func(e *Engine) {
		e.eventPublisher = p
	}
}

// WithRetryBackoff replaces the backoff used between task retries.
func WithRetryBackoff(fn BackoffFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.backoff = fn
		}
	}
}

// Engine runs flows from a Registry. It executes a flow level by level,
// running independent tasks of a level in parallel, and reverts completed
// tasks when one fails.
type Engine struct {
	// registry resolves flow names
	registry *Registry

	// maxParallel is the maximum number of concurrent workers per level
	maxParallel int

	// eventPublisher publishes execution events
	eventPublisher EventPublisher

	// backoff computes the delay between task retries
	backoff BackoffFunc
}

// NewEngine creates a new engine over the given registry.
func NewEngine(registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:    registry,
		maxParallel: 10,
		backoff:     calculateBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the engine's flow registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Run builds the named flow for store and executes it. The returned store
// is the same store, holding the tasks' outputs.
func (e *Engine) Run(ctx context.Context, flowName string, store *Store) (*Store, error) {
	if store == nil {
		store = NewStore()
	}

	flow, err := e.registry.Build(flowName, store)
	if err != nil {
		return nil, err
	}

	if _, err := e.RunFlow(ctx, flow, store); err != nil {
		return store, err
	}
	return store, nil
}

// run holds the mutable state of one flow execution.
type run struct {
	result *RunResult
	flow   *Flow

	mu        sync.Mutex
	completed []string
	failed    []string
	firstErr  error
	firstTask string
}

// RunFlow executes an already built flow. On failure the error is a
// *FlowError and the returned result records every task's outcome.
func (e *Engine) RunFlow(ctx context.Context, flow *Flow, store *Store) (*RunResult, error) {
	graph, err := NewDAGBuilder().BuildGraph(flow)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph for flow %s: %w", flow.Name(), err)
	}

	r := &run{
		flow: flow,
		result: &RunResult{
			ID:        uuid.New().String(),
			Flow:      flow.Name(),
			Status:    RunStatusRunning,
			StartedAt: time.Now(),
			Tasks:     make(map[string]*TaskResult, len(flow.nodes)),
		},
	}
	for level, names := range graph.Levels {
		for _, name := range names {
			r.result.Tasks[name] = &TaskResult{Task: name, Level: level, Status: TaskStatusPending}
		}
	}

	e.publishEvent(ctx, r, "", EventTypeFlowStarted, "Flow started", "info")

	for _, names := range graph.Levels {
		if err := ctx.Err(); err != nil {
			r.recordFailure("", NewPermanentError("execution cancelled", err).WithCode(ErrCodeInternal))
			break
		}

		e.executeLevelParallel(ctx, r, store, names)

		if r.firstErr != nil {
			break
		}
	}

	if r.firstErr == nil {
		r.finish(RunStatusSucceeded)
		e.publishEvent(ctx, r, "", EventTypeFlowCompleted, "Flow completed successfully", "info")
		return r.result, nil
	}

	revertErrs := e.revert(ctx, r, store)

	status := RunStatusReverted
	if ctx.Err() != nil {
		status = RunStatusCancelled
	}
	r.finish(status)

	e.publishEvent(ctx, r, r.firstTask, EventTypeFlowFailed,
		fmt.Sprintf("Flow failed: %v", r.firstErr), "error")

	return r.result, &FlowError{
		Flow:       flow.Name(),
		Task:       r.firstTask,
		Err:        r.firstErr,
		RevertErrs: revertErrs,
	}
}

// executeLevelParallel executes all tasks of a level using a worker pool.
func (e *Engine) executeLevelParallel(ctx context.Context, r *run, store *Store, names []string) {
	workerCount := e.maxParallel
	if len(names) < workerCount {
		workerCount = len(names)
	}

	workQueue := make(chan *node, len(names))
	for _, name := range names {
		workQueue <- r.flow.index[name]
	}
	close(workQueue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for n := range workQueue {
				if ctx.Err() != nil {
					r.setStatus(n.task.Name(), TaskStatusSkipped)
					continue
				}
				if err := e.executeTask(ctx, r, store, n); err != nil {
					r.recordFailure(n.task.Name(), err)
				}
			}
		}()
	}

	wg.Wait()
}

// executeTask executes a single task with retry logic.
func (e *Engine) executeTask(ctx context.Context, r *run, store *Store, n *node) error {
	name := n.task.Name()
	tr := r.result.Tasks[name]

	r.setStatus(name, TaskStatusRunning)
	e.publishEvent(ctx, r, name, EventTypeTaskStarted, fmt.Sprintf("Started task %s", name), "info")

	startTime := time.Now()
	var err error

	for attempt := 0; attempt <= n.retries; attempt++ {
		r.mu.Lock()
		tr.Attempts = attempt + 1
		r.mu.Unlock()

		err = e.invoke(ctx, n, store)
		if err == nil {
			break
		}

		if !IsRetryable(err) || attempt >= n.retries {
			break
		}

		backoff := e.backoff(attempt, err)
		e.publishEvent(ctx, r, name, EventTypeTaskRetrying,
			fmt.Sprintf("Retrying after failure (attempt %d/%d): %v", attempt+1, n.retries+1, err),
			"warning")

		if !sleep(ctx, backoff) {
			err = ctx.Err()
			break
		}
	}

	r.mu.Lock()
	tr.StartedAt = startTime
	tr.CompletedAt = time.Now()
	tr.Duration = tr.CompletedAt.Sub(startTime)
	tr.Err = err
	r.mu.Unlock()

	if err != nil {
		r.setStatus(name, TaskStatusFailed)
		e.publishEvent(ctx, r, name, EventTypeTaskFailed,
			fmt.Sprintf("Task %s failed: %v", name, err), "error")
		return err
	}

	r.mu.Lock()
	tr.Status = TaskStatusSucceeded
	r.completed = append(r.completed, name)
	r.mu.Unlock()

	e.publishEvent(ctx, r, name, EventTypeTaskCompleted, fmt.Sprintf("Completed task %s", name), "info")
	return nil
}

// invoke runs one attempt of a task, converting panics into errors.
func (e *Engine) invoke(ctx context.Context, n *node, store *Store) (err error) {
	execCtx := ctx
	if n.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = NewPermanentError(fmt.Sprintf("task %s panicked: %v", n.task.Name(), rec), nil).
				WithCode(ErrCodeTaskFailed)
		}
	}()

	return n.task.Execute(execCtx, store)
}

// revert calls Revert on the failed tasks and then on every completed task,
// newest first. Reverts run even if ctx is cancelled.
func (e *Engine) revert(ctx context.Context, r *run, store *Store) map[string]error {
	revertCtx := context.WithoutCancel(ctx)

	r.mu.Lock()
	order := make([]string, 0, len(r.failed)+len(r.completed))
	order = append(order, r.failed...)
	for i := len(r.completed) - 1; i >= 0; i-- {
		order = append(order, r.completed[i])
	}
	cause := r.firstErr
	r.mu.Unlock()

	var revertErrs map[string]error
	for _, name := range order {
		n := r.flow.index[name]
		if err := safeRevert(revertCtx, n.task, store, cause); err != nil {
			if revertErrs == nil {
				revertErrs = make(map[string]error)
			}
			revertErrs[name] = err
			r.setStatus(name, TaskStatusRevertFailed)
			e.publishEvent(revertCtx, r, name, EventTypeTaskReverted,
				fmt.Sprintf("Revert of task %s failed: %v", name, err), "error")
			continue
		}
		if r.status(name) != TaskStatusFailed {
			r.setStatus(name, TaskStatusReverted)
		}
		e.publishEvent(revertCtx, r, name, EventTypeTaskReverted, fmt.Sprintf("Reverted task %s", name), "warning")
	}

	for name, tr := range r.result.Tasks {
		if tr.Status == TaskStatusPending {
			r.setStatus(name, TaskStatusSkipped)
		}
	}

	return revertErrs
}

func safeRevert(ctx context.Context, task Task, store *Store, cause error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("revert of %s panicked: %v", task.Name(), rec)
		}
	}()
	return task.Revert(ctx, store, cause)
}

func (r *run) recordFailure(task string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if task != "" {
		r.failed = append(r.failed, task)
		// keep revert order stable when several tasks of a level fail
		sort.SliceStable(r.failed, func(i, j int) bool {
			return r.flow.index[r.failed[i]].order > r.flow.index[r.failed[j]].order
		})
	}
	if r.firstErr == nil {
		r.firstErr = err
		r.firstTask = task
	}
}

func (r *run) setStatus(task string, status TaskStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Tasks[task].Status = status
}

func (r *run) status(task string) TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result.Tasks[task].Status
}

func (r *run) finish(status RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Status = status
	r.result.CompletedAt = time.Now()
	r.result.Duration = r.result.CompletedAt.Sub(r.result.StartedAt)
}

// sleep waits for d and returns false if ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// calculateBackoff calculates exponential backoff by error class.
func calculateBackoff(attempt int, err error) time.Duration {
	baseDelay := 1 * time.Second

	if IsThrottled(err) {
		baseDelay = 5 * time.Second
	} else if IsConflict(err) {
		baseDelay = 2 * time.Second
	}

	// delay = baseDelay * 2^attempt
	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))

	if delay > time.Minute {
		delay = time.Minute
	}

	return delay
}

// publishEvent publishes an execution event.
func (e *Engine) publishEvent(
	ctx context.Context,
	r *run,
	task string,
	eventType EventType,
	message, level string,
) {
	if e.eventPublisher == nil {
		return
	}

	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     r.result.ID,
		Flow:      r.result.Flow,
		Task:      task,
		Message:   message,
		Level:     level,
	}

	// publish errors never fail execution
	_ = e.eventPublisher.Publish(ctx, event)
}
