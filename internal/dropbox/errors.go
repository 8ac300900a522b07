// Package dropbox provides an HTTP client for the Dropbox v2 API with
// automatic retry, request pacing, token refresh, and error classification.
package dropbox

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, dropbox.ErrForbidden) to check.
var (
	ErrBadRequest  = errors.New("dropbox: bad request")
	ErrAuthExpired = errors.New("dropbox: access token expired or invalid")
	ErrForbidden   = errors.New("dropbox: access denied")
	ErrNotFound    = errors.New("dropbox: not found")
	ErrUnsupported = errors.New("dropbox: entry has no downloadable content")
	ErrRateLimited = errors.New("dropbox: too many requests")
	ErrServerError = errors.New("dropbox: server error")
)

// ErrRefreshFailed indicates the token refresh exchange itself failed.
// A broken refresh cannot self-heal, so this is fatal to the whole run.
var ErrRefreshFailed = errors.New("dropbox: credential refresh failed")

// APIError wraps a sentinel error with the HTTP status code and the API
// error message body for debugging. RetryAfter carries the server's
// Retry-After hint for 429 responses, zero when absent.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dropbox: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrAuthExpired
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		// Dropbox reports entries with no exportable binary content
		// (Paper docs, some Google-format imports) as 409 conflicts.
		return ErrUnsupported
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// IsSkippable reports whether err marks an entry that must be silently
// skipped rather than surfaced as a failure.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

// isRetryable reports whether the given HTTP status code should be retried.
// 401 is handled separately (refresh then retry) and 403/404/409 never are.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
