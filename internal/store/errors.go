package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshsymonds/apisentry/internal/models"
)

// ErrAssetNotFound is returned for operations on assets removed from the store.
var ErrAssetNotFound = errors.New("asset not found")

// ErrTriageUnsupported is returned when the repository cannot update finding status.
var ErrTriageUnsupported = errors.New("repository does not support triage")

// RepositoryError wraps a failure at the persistence boundary. The cache is
// left at its last known-good state when one is returned.
type RepositoryError struct {
	Err error
	Op  string
}

// Error implements the error interface.
func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the operation may succeed if retried.
func (e *RepositoryError) Retryable() bool {
	return !errors.Is(e.Err, ErrAssetNotFound) && !errors.Is(e.Err, context.Canceled)
}

// TransitionError rejects a triage move the transition table does not allow.
type TransitionError struct {
	FindingID string
	From      models.FindingStatus
	To        models.FindingStatus
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("finding %s: transition %s -> %s not allowed", e.FindingID, e.From, e.To)
}

// Retryable reports false; the same transition fails again.
func (e *TransitionError) Retryable() bool { return false }

// IsRepositoryError checks if the error is a repository boundary failure.
func IsRepositoryError(err error) bool {
	var e *RepositoryError
	return errors.As(err, &e)
}

// IsTransitionError checks if the error is a rejected triage transition.
func IsTransitionError(err error) bool {
	var e *TransitionError
	return errors.As(err, &e)
}
