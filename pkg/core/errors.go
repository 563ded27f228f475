package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDimensionMismatch indicates that two vectors of different lengths
	// were compared. Dimensions are never silently coerced.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidWeights indicates a malformed importance weight
	// configuration (negative weight, or all weights zero).
	ErrInvalidWeights = errors.New("invalid importance weights")

	// ErrProtected indicates an attempted transition on a protected memory.
	ErrProtected = errors.New("memory is protected")

	// ErrSummarization indicates that the summarization service failed
	// after bounded retries. The affected cluster is left untouched.
	ErrSummarization = errors.New("summarization failed")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrVersionConflict indicates a compare-and-swap write lost a race
	// with a concurrent mutation of the same record.
	ErrVersionConflict = errors.New("version conflict")
)

// LifecycleError wraps errors with operation context.
//
// It records which lifecycle operation failed so callers and logs can tell
// a decay-sweep failure from a consolidation failure.
type LifecycleError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message in the form "mnemo: <Op>: <Err>".
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("mnemo: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is / errors.As.
func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// NewLifecycleError creates a LifecycleError wrapping err. If err is nil,
// it returns nil so it can be used on every return path:
//
//	return NewLifecycleError("DecaySweep", err)
func NewLifecycleError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &LifecycleError{Op: op, Err: err}
}
