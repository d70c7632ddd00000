package engine

import (
	"context"
	"time"
)

// Task is one reversible step of a flow.
type Task interface {
	// Name identifies the task within its flow. Names must be unique per flow.
	Name() string

	// Execute performs the step. Results are written to the store.
	Execute(ctx context.Context, store *Store) error

	// Revert undoes the step after a failure elsewhere in the flow. cause is
	// the error that failed the flow. Revert is also called on the task that
	// failed, so it must tolerate a partially applied Execute.
	Revert(ctx context.Context, store *Store, cause error) error
}

// TaskFunc adapts plain functions to the Task interface. A nil RevertFn
// makes Revert a no-op.
type TaskFunc struct {
	TaskName  string
	ExecuteFn func(ctx context.Context, store *Store) error
	RevertFn  func(ctx context.Context, store *Store, cause error) error
}

// Name implements Task.
func (t TaskFunc) Name() string {
	return t.TaskName
}

// Execute implements Task.
func (t TaskFunc) Execute(ctx context.Context, store *Store) error {
	if t.ExecuteFn == nil {
		return nil
	}
	return t.ExecuteFn(ctx, store)
}

// Revert implements Task.
func (t TaskFunc) Revert(ctx context.Context, store *Store, cause error) error {
	if t.RevertFn == nil {
		return nil
	}
	return t.RevertFn(ctx, store, cause)
}

// TaskStatus represents the state of a task within a run.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusRunning indicates the task is executing.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusSucceeded indicates the task executed successfully.
	TaskStatusSucceeded TaskStatus = "succeeded"

	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusReverted indicates the task was reverted after a flow failure.
	TaskStatusReverted TaskStatus = "reverted"

	// TaskStatusRevertFailed indicates the task's revert returned an error.
	TaskStatusRevertFailed TaskStatus = "revert_failed"

	// TaskStatusSkipped indicates the task never ran because the flow failed first.
	TaskStatusSkipped TaskStatus = "skipped"
)

// IsTerminal returns true if the status is final.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusReverted,
		TaskStatusRevertFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// TaskResult records the outcome of one task.
type TaskResult struct {
	Task        string        `json:"task"`
	Level       int           `json:"level"`
	Status      TaskStatus    `json:"status"`
	Attempts    int           `json:"attempts"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	Err         error         `json:"-"`
}

// RunStatus represents the outcome of a flow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusReverted  RunStatus = "reverted"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunResult summarizes a flow run.
type RunResult struct {
	ID          string                 `json:"id"`
	Flow        string                 `json:"flow"`
	Status      RunStatus              `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	Duration    time.Duration          `json:"duration"`
	Tasks       map[string]*TaskResult `json:"tasks"`
}

// EventType identifies the kind of execution event.
type EventType string

const (
	EventTypeFlowStarted   EventType = "flow.started"
	EventTypeFlowCompleted EventType = "flow.completed"
	EventTypeFlowFailed    EventType = "flow.failed"
	EventTypeTaskStarted   EventType = "task.started"
	EventTypeTaskCompleted EventType = "task.completed"
	EventTypeTaskFailed    EventType = "task.failed"
	EventTypeTaskReverted  EventType = "task.reverted"
	EventTypeTaskRetrying  EventType = "task.retrying"
)

// Event is published by the engine as a flow progresses.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Flow      string    `json:"flow"`
	Task      string    `json:"task,omitempty"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
}
