package executor

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted is the cause of a task whose until condition never held.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrTaskTimeout is the cause of a task that ran past its timeout.
	ErrTaskTimeout = errors.New("task timed out")
	// ErrMaxFailPercentage halts a play when a serial batch fails too many hosts.
	ErrMaxFailPercentage = errors.New("maximum failure percentage exceeded")
	// ErrAnyErrorsFatal halts a play with any_errors_fatal after the first host failure.
	ErrAnyErrorsFatal = errors.New("host failure in play with any_errors_fatal")
)

// TaskError is a failed task on one host.
type TaskError struct {
	Host string
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q failed on %s: %v", e.Task, e.Host, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// IgnoredTaskError is a task failure that ignore_errors kept from failing the host.
type IgnoredTaskError struct {
	Host string
	Task string
	Err  error
}

func (e *IgnoredTaskError) Error() string {
	return fmt.Sprintf("ignored failure of task %q on %s: %v", e.Task, e.Host, e.Err)
}

func (e *IgnoredTaskError) Unwrap() error {
	return e.Err
}
