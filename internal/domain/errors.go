package domain

import (
	"errors"
)

// Sentinel errors for the orchestrator API. Callers match with errors.Is;
// call sites wrap them with fmt.Errorf("%w: ...") for context.
var (
	// ErrValidation rejects a malformed submission synchronously; the task
	// is never enqueued.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned for status/cancel on an unknown or evicted id.
	ErrNotFound = errors.New("task not found")

	// ErrBackpressure is the fast-fail on a full queue; the task is never
	// created and the caller may retry.
	ErrBackpressure = errors.New("queue full")
)

// Oracle failure modes. Internal to the policy engine: they trigger the
// rule-only fallback and are recorded in the decision audit trail, never
// surfaced to callers.
var (
	ErrOracleTimeout     = errors.New("oracle timeout")
	ErrOracleUnavailable = errors.New("oracle unavailable")
)
