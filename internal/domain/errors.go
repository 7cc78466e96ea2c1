package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("task not found")
	ErrInvalidTransition    = errors.New("task not in expected state")
	ErrExecution            = errors.New("execution failed")
	ErrIsolationUnavailable = errors.New("isolation unavailable")
	ErrEffectScan           = errors.New("effect scan failed")
	ErrSchedulerRunning     = errors.New("scheduler already running")
)

// NewValidationError wraps ErrValidation with a formatted detail.
func NewValidationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the task id.
func NotFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// InvalidTransitionError reports a compare-and-set that lost: the task was not
// in any of the allowed source states.
type InvalidTransitionError struct {
	TaskID  string
	Current TaskStatus
	Target  TaskStatus
	Allowed []TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	if e.Target == "" {
		return fmt.Sprintf("%s: task %s is %s (expected one of [%s])",
			ErrInvalidTransition, e.TaskID, e.Current, strings.Join(allowed, ", "))
	}
	return fmt.Sprintf("%s: task %s is %s, cannot move to %s (expected one of [%s])",
		ErrInvalidTransition, e.TaskID, e.Current, e.Target, strings.Join(allowed, ", "))
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// ExecutionError is a subprocess launch or runtime failure.
type ExecutionError struct {
	Op       string
	TimedOut bool
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s: %s: timed out", ErrExecution, e.Op)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrExecution, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", ErrExecution, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExecution}
	}
	return []error{ErrExecution, e.Err}
}

// IsolationUnavailableError means the platform sandbox primitive is missing.
type IsolationUnavailableError struct {
	Provider string
	Reason   string
}

func (e *IsolationUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrIsolationUnavailable, e.Provider, e.Reason)
}

func (e *IsolationUnavailableError) Unwrap() error { return ErrIsolationUnavailable }

// EffectScanError is a filesystem walk failure on one subpath.
type EffectScanError struct {
	Path string
	Err  error
}

func (e *EffectScanError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrEffectScan, e.Path, e.Err)
}

func (e *EffectScanError) Unwrap() []error { return []error{ErrEffectScan, e.Err} }
