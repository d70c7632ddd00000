package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass decides whether the engine retries a failed task.
type ErrorClass string

const (
	// ErrorClassTransient failures may succeed on retry.
	ErrorClassTransient ErrorClass = "transient"
	// ErrorClassThrottled failures hit a rate limit or quota and are retried
	// with a longer backoff.
	ErrorClassThrottled ErrorClass = "throttled"
	// ErrorClassConflict failures raced another writer and are retried
	// immediately.
	ErrorClassConflict ErrorClass = "conflict"
	// ErrorClassPermanent failures are never retried.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError is a classified error. Stores, drivers and tasks return it so
// the engine can pick a retry policy and callers can test for NOT_FOUND.
// nolint:revive
type EngineError struct {
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
	Code    string     `json:"code,omitempty"`
	// Resource is the ID of the entity involved, if any.
	Resource  string `json:"resource,omitempty"`
	Operation string `json:"operation,omitempty"`
	Err       error  `json:"-"`
}

func (e *EngineError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Class, e.Message)
	var ctx []string
	if e.Resource != "" {
		ctx = append(ctx, "resource="+e.Resource)
	}
	if e.Operation != "" {
		ctx = append(ctx, "operation="+e.Operation)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		sb.WriteString(": " + e.Err.Error())
	}
	return sb.String()
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is matches another EngineError with the same class and code.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{Class: class, Message: message, Err: err}
}

func NewTransientError(message string, err error) *EngineError {
	return newError(ErrorClassTransient, message, err)
}

func NewThrottledError(message string, err error) *EngineError {
	return newError(ErrorClassThrottled, message, err)
}

func NewConflictError(message string, err error) *EngineError {
	return newError(ErrorClassConflict, message, err)
}

func NewPermanentError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, message, err)
}

// NewNotFoundError creates a permanent error coded NOT_FOUND.
func NewNotFoundError(message string, err error) *EngineError {
	return NewPermanentError(message, err).WithCode(ErrCodeNotFound)
}

func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// classIs reports whether the outermost EngineError in err's chain has one
// of classes.
func classIs(err error, classes ...ErrorClass) bool {
	var e *EngineError
	if !errors.As(err, &e) {
		return false
	}
	for _, c := range classes {
		if e.Class == c {
			return true
		}
	}
	return false
}

func IsTransient(err error) bool { return classIs(err, ErrorClassTransient) }
func IsThrottled(err error) bool { return classIs(err, ErrorClassThrottled) }
func IsConflict(err error) bool  { return classIs(err, ErrorClassConflict) }
func IsPermanent(err error) bool { return classIs(err, ErrorClassPermanent) }

// IsRetryable reports whether the engine may retry a task that returned err.
func IsRetryable(err error) bool {
	return classIs(err, ErrorClassTransient, ErrorClassThrottled, ErrorClassConflict)
}

// IsNotFound reports whether any EngineError in the chain is coded
// NOT_FOUND, including ones wrapped by an outer EngineError.
func IsNotFound(err error) bool {
	var e *EngineError
	for errors.As(err, &e) {
		if e.Code == ErrCodeNotFound {
			return true
		}
		err = e.Err
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeTaskFailed       = "TASK_FAILED"
	ErrCodeUnknownFlow      = "UNKNOWN_FLOW"
	ErrCodeMissingParameter = "MISSING_PARAMETER"
)

// FlowError is returned by Engine.Run when a task of a flow fails.
// It unwraps to the task's error.
type FlowError struct {
	// Flow is the name of the flow that failed.
	Flow string

	// Task is the name of the first task that failed.
	Task string

	// Err is the error returned by the failed task.
	Err error

	// RevertErrs holds errors returned while reverting completed tasks, keyed by task name.
	RevertErrs map[string]error
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	msg := fmt.Sprintf("flow %s failed at task %s: %v", e.Flow, e.Task, e.Err)
	if len(e.RevertErrs) > 0 {
		msg += fmt.Sprintf(" (%d revert errors)", len(e.RevertErrs))
	}
	return msg
}

// Unwrap returns the task error.
func (e *FlowError) Unwrap() error {
	return e.Err
}
