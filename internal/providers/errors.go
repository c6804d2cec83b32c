package providers

import (
	"errors"
	"strings"
)

var (
	// ErrMissingAPIKey is returned by constructors when no credential is
	// configured.
	ErrMissingAPIKey = errors.New("providers: API key is required")

	// ErrInitTimeout is emitted when a backend produces no chunk within
	// the initialization window.
	ErrInitTimeout = errors.New("providers: stream produced no output before init timeout")

	// ErrStreamStalled is emitted when a live stream stops producing
	// chunks for longer than the stall window.
	ErrStreamStalled = errors.New("providers: stream stalled mid-response")
)

// retryable reports whether an error is worth another attempt. Rate limits,
// server-side 5xx, timeouts, and connection resets are transient; auth and
// validation failures are not.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	for _, s := range []string{
		"rate_limit", "rate limit", "429", "too many requests",
		"500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"overloaded",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host", "broken pipe", "eof",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
