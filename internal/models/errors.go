package models

import (
	"errors"
	"fmt"
)

// ErrRejected marks a send the transport refused outright (bad chat, malformed
// payload). It is permanent: the dispatcher must not retry it.
var ErrRejected = errors.New("rejected by transport")

// ErrRevisionConflict is returned by the state store when a compare-and-swap
// persist lost against a concurrent run that wrote a newer revision.
var ErrRevisionConflict = errors.New("task state revision conflict")

// FetchError aborts a run before any state mutation.
type FetchError struct {
	Task string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for task %s: %v", e.Task, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StateError is a durable read/write failure. A run that cannot load or
// persist state must not proceed.
type StateError struct {
	Op   string
	Task string
	Err  error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s failed for task %s: %v", e.Op, e.Task, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// ClassificationError marks one malformed or unclassifiable observation. The
// observation is skipped with a warning; the run continues.
type ClassificationError struct {
	Symbol string
	Err    error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed for %s: %v", e.Symbol, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// DeliveryError is a per-event failure after retries were exhausted. Never
// fatal to the run.
type DeliveryError struct {
	EventID  string
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery failed for %s after %d attempt(s): %v", e.EventID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
