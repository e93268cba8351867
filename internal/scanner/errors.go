package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type of scan error.
type ErrorType string

const (
	// ErrorTypeEngine indicates the scan engine failed.
	ErrorTypeEngine ErrorType = "engine"
	// ErrorTypeContext indicates the caller's context was canceled or hit its
	// own deadline.
	ErrorTypeContext ErrorType = "context"
	// ErrorTypeLease indicates the cross-process lease could not be taken or checked.
	ErrorTypeLease ErrorType = "lease"
)

// ScanError represents a structured error from a scan run.
type ScanError struct {
	Err       error
	AssetID   string
	Type      ErrorType
	Message   string
	Retryable bool
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s %s error: %s", e.AssetID, e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *ScanError) Unwrap() error {
	return e.Err
}

// NewScanError creates a new structured scan error.
func NewScanError(assetID string, errType ErrorType, err error) *ScanError {
	return &ScanError{
		AssetID:   assetID,
		Type:      errType,
		Message:   err.Error(),
		Err:       err,
		Retryable: isRetryable(errType),
	}
}

func isRetryable(errType ErrorType) bool {
	switch errType {
	case ErrorTypeEngine, ErrorTypeLease:
		return true
	default:
		return false
	}
}

// WrapError wraps an error with scan context.
func WrapError(assetID string, err error) error {
	if err == nil {
		return nil
	}

	var se *ScanError
	var te *ScanTimeoutError
	var ce *ConflictError
	if errors.As(err, &se) || errors.As(err, &te) || errors.As(err, &ce) {
		return err
	}

	errType := ErrorTypeEngine
	if errors.Is(err, context.Canceled) {
		errType = ErrorTypeContext
	}
	return NewScanError(assetID, errType, err)
}

// ScanTimeoutError reports a scan that exceeded its deadline.
type ScanTimeoutError struct {
	AssetID string
	Timeout time.Duration
}

// Error implements the error interface.
func (e *ScanTimeoutError) Error() string {
	return fmt.Sprintf("scan of asset %s timed out after %s", e.AssetID, e.Timeout)
}

// Retryable reports that a timed-out scan may be retried.
func (e *ScanTimeoutError) Retryable() bool { return true }

// Is lets errors.Is(err, context.DeadlineExceeded) match timeouts.
func (e *ScanTimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// ConflictError reports an operation rejected because another one owns the asset.
type ConflictError struct {
	AssetID string
	Reason  string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on asset %s: %s", e.AssetID, e.Reason)
}

// Retryable reports that the caller may retry once the other operation ends.
func (e *ConflictError) Retryable() bool { return true }

// IsTimeoutError checks if the error is a scan timeout.
func IsTimeoutError(err error) bool {
	var e *ScanTimeoutError
	return errors.As(err, &e)
}

// IsConflictError checks if the error is a concurrency conflict.
func IsConflictError(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsEngineError checks if the error came from the scan engine.
func IsEngineError(err error) bool {
	var e *ScanError
	return errors.As(err, &e) && e.Type == ErrorTypeEngine
}
