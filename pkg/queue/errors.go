package queue

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrWaitTimeout reports a task that sat in the waiting set longer than
	// the configured wait limit. The task never reached the handler.
	ErrWaitTimeout = errors.New("queue: wait timeout")

	// ErrProcessTimeout reports a handler that did not call done within the
	// configured process limit.
	ErrProcessTimeout = errors.New("queue: process timeout")

	// ErrHandlerPanic reports a handler that panicked before calling done.
	ErrHandlerPanic = errors.New("queue: handler panic")
)

// TimeoutError is delivered to the Failure and Done listeners when a task
// exceeds one of the queue limits. The result passed alongside it is the
// original task.
type TimeoutError struct {
	Kind    error // ErrWaitTimeout or ErrProcessTimeout
	Task    any
	Limit   time.Duration
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v: %s elapsed, limit %s", e.Kind, e.Elapsed.Round(time.Millisecond), e.Limit)
}

func (e *TimeoutError) Unwrap() error { return e.Kind }
