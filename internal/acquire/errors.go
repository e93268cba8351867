package acquire

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// AcquisitionError reports that raw input could not be obtained. It is kept
// apart from parse errors and is never retried.
type AcquisitionError struct {
	Err    error
	Source string
}

// Error implements the error interface.
func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquiring %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Retryable always reports false.
func (e *AcquisitionError) Retryable() bool { return false }

// IsAcquisitionError checks if the error is an input acquisition failure.
func IsAcquisitionError(err error) bool {
	var e *AcquisitionError
	return errors.As(err, &e)
}

// IsNotFound reports whether the input did not exist, locally or in S3.
func IsNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var noBucket *types.NoSuchBucket
	return errors.Is(err, fs.ErrNotExist) || errors.As(err, &noKey) || errors.As(err, &noBucket)
}

// IsPermissionDenied reports whether the input could not be read due to permissions.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}
