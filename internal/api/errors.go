package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/joshsymonds/apisentry/internal/database"
	"github.com/joshsymonds/apisentry/internal/ingest"
	"github.com/joshsymonds/apisentry/internal/scanner"
	"github.com/joshsymonds/apisentry/internal/store"
)

// badRequest marks malformed request bodies and parameters.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

// tooLarge marks request bodies over the configured limit.
type tooLarge struct {
	limit int64
}

func (e *tooLarge) Error() string {
	return fmt.Sprintf("request body exceeds %d bytes", e.limit)
}

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

// classify maps an error onto a status code and a stable kind label.
func classify(err error) (int, string) {
	var bad *badRequest
	var big *tooLarge
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, "bad_request"
	case errors.As(err, &big):
		return http.StatusRequestEntityTooLarge, "too_large"
	case ingest.IsValidationError(err):
		return http.StatusUnprocessableEntity, "validation"
	case ingest.IsParseError(err):
		return http.StatusBadRequest, "parse"
	case ingest.IsFormatDetectionError(err):
		return http.StatusUnsupportedMediaType, "format_detection"
	case scanner.IsConflictError(err):
		return http.StatusConflict, "conflict"
	case store.IsTransitionError(err):
		return http.StatusConflict, "transition"
	case scanner.IsTimeoutError(err):
		return http.StatusGatewayTimeout, "scan_timeout"
	case errors.Is(err, store.ErrAssetNotFound), errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrTriageUnsupported):
		return http.StatusNotImplemented, "unsupported"
	case store.IsRepositoryError(err), scanner.IsEngineError(err):
		return http.StatusBadGateway, "repository"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func isRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var se *scanner.ScanError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
