package scanner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("a", nil))

	conflict := &ConflictError{AssetID: "a", Reason: "busy"}
	assert.Same(t, conflict, WrapError("a", conflict))

	wrapped := WrapError("a", errors.New("boom"))
	assert.True(t, IsEngineError(wrapped))

	canceled := WrapError("a", context.Canceled)
	var se *ScanError
	assert.ErrorAs(t, canceled, &se)
	assert.Equal(t, ErrorTypeContext, se.Type)
	assert.False(t, se.Retryable)
	assert.ErrorIs(t, canceled, context.Canceled)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "conflict on asset a: busy", (&ConflictError{AssetID: "a", Reason: "busy"}).Error())
	assert.Contains(t, (&ScanTimeoutError{AssetID: "a"}).Error(), "timed out")
	assert.Equal(t, "scan a engine error: boom", NewScanError("a", ErrorTypeEngine, errors.New("boom")).Error())
}
