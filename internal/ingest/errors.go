package ingest

import (
	"errors"
	"fmt"
)

// ParseError reports a document that could not be read at the top level.
type ParseError struct {
	Err      error
	Location string
	Message  string
	Variant  Variant
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("parse %s at %s: %s", e.Variant, e.Location, e.Message)
	}
	return fmt.Sprintf("parse %s: %s", e.Variant, e.Message)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Retryable is always false; the same bytes fail the same way.
func (e *ParseError) Retryable() bool { return false }

func newParseError(v Variant, location string, err error) *ParseError {
	return &ParseError{Variant: v, Location: location, Message: err.Error(), Err: err}
}

func parseErrorf(v Variant, location, format string, args ...any) *ParseError {
	return &ParseError{Variant: v, Location: location, Message: fmt.Sprintf(format, args...)}
}

// ValidationError reports a draft field that cannot become an asset.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Retryable is always false.
func (e *ValidationError) Retryable() bool { return false }

// FormatDetectionError reports input that was expected to be structured but
// matched no variant.
type FormatDetectionError struct {
	Hint string
}

// Error implements the error interface.
func (e *FormatDetectionError) Error() string {
	return fmt.Sprintf("could not detect input format for %q", e.Hint)
}

// Retryable is always false.
func (e *FormatDetectionError) Retryable() bool { return false }

// IsParseError checks if the error is a ParseError.
func IsParseError(err error) bool {
	var e *ParseError
	return errors.As(err, &e)
}

// IsValidationError checks if the error is a ValidationError.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsFormatDetectionError checks if the error is a FormatDetectionError.
func IsFormatDetectionError(err error) bool {
	var e *FormatDetectionError
	return errors.As(err, &e)
}
