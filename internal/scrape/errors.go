package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors surfaced by the job store and dispatcher.
var (
	// ErrNotFound is returned when a job id is unknown.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a status change violates the
	// job lifecycle state machine.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrInvalidState is returned for operator actions against a job whose
	// current status does not permit them (e.g. retrying a non-failed job).
	ErrInvalidState = errors.New("job is not in a valid state for this action")
	// ErrQueueClosed is returned by queue operations after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)

// ErrorKind partitions pipeline failures for retry decisions.
type ErrorKind string

// Error kinds, in order of decreasing retry-friendliness.
const (
	// KindTransient covers timeouts, network errors, and selectors not yet
	// present within the wait budget. Retryable with backoff.
	KindTransient ErrorKind = "transient"
	// KindConflict covers natural-key races and constraint violations.
	// Retried once immediately by the reconciler, then terminal.
	KindConflict ErrorKind = "conflict"
	// KindValidation covers malformed submissions such as a missing
	// required option. Never retried.
	KindValidation ErrorKind = "validation"
	// KindStructural covers unknown target types and fundamentally
	// unexpected page shapes. Never retried.
	KindStructural ErrorKind = "structural"
)

// PipelineError carries a classified failure across the worker boundary.
type PipelineError struct {
	Kind ErrorKind
	msg  string
	err  error
}

func (e *PipelineError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *PipelineError) Unwrap() error { return e.err }

func newPipelineError(kind ErrorKind, msg string, err error) *PipelineError {
	return &PipelineError{Kind: kind, msg: msg, err: err}
}

// NewTransientError wraps err as a retryable extraction failure.
func NewTransientError(msg string, err error) error {
	return newPipelineError(KindTransient, msg, err)
}

// NewValidationError marks a submission problem that no retry can fix.
func NewValidationError(msg string) error {
	return newPipelineError(KindValidation, msg, nil)
}

// NewStructuralError marks a non-retryable extraction failure.
func NewStructuralError(msg string, err error) error {
	return newPipelineError(KindStructural, msg, err)
}

// NewConflictError marks a concurrent-write race in the entity store.
func NewConflictError(msg string, err error) error {
	return newPipelineError(KindConflict, msg, err)
}

// Classify maps an arbitrary pipeline error to its kind. Unclassified errors
// default to transient since unknown failures are most often environmental.
func Classify(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindTransient
}

// IsRetryable reports whether the backoff schedule applies to err.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindTransient:
		return true
	default:
		return false
	}
}

// IsConflict reports whether err is a natural-key write race.
func IsConflict(err error) bool {
	return Classify(err) == KindConflict
}
