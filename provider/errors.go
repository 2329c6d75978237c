package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies a failure. Callers branch on kind, never on
// message text.
type ErrorKind string

const (
	// KindNetworkTransient covers timeouts, connection resets, and 5xx
	// responses. Retryable.
	KindNetworkTransient ErrorKind = "network_transient"

	// KindRateLimited is a 429. Retryable with backoff, kept distinct
	// from generic transient failures for telemetry.
	KindRateLimited ErrorKind = "rate_limited"

	// KindAuthFailed is a rejected credential. Never retried.
	KindAuthFailed ErrorKind = "authentication_failed"

	// KindUnsupportedShape means the request asks for something the
	// target model or backend cannot serve, caught before or during the
	// first attempt. Never retried.
	KindUnsupportedShape ErrorKind = "unsupported_request_shape"

	// KindResponseParse means the model's output could not be decoded
	// into the requested type.
	KindResponseParse ErrorKind = "response_parse"

	// KindCancelled is cooperative cancellation, not a failure.
	KindCancelled ErrorKind = "operation_cancelled"

	// KindInsufficientResponses means a multi-model call ended below
	// quorum.
	KindInsufficientResponses ErrorKind = "insufficient_responses"

	// KindRegistryUnavailable means no model listing could be fetched.
	KindRegistryUnavailable ErrorKind = "registry_unavailable"
)

// Retryable reports whether failures of this kind may be retried.
func (k ErrorKind) Retryable() bool {
	return k == KindNetworkTransient || k == KindRateLimited
}

// Error is a classified failure from a backend or from the engine itself.
type Error struct {
	Kind       ErrorKind
	Provider   string
	Model      string
	Status     int    // HTTP status, 0 when not applicable
	Message    string
	RetryAfter time.Duration // backoff hint from a rate-limit response
	Raw        string        // raw response body for diagnostics
	Cause      error
}

func (e *Error) Error() string {
	var b []byte
	b = fmt.Appendf(b, "%s", e.Kind)
	if e.Provider != "" {
		b = fmt.Appendf(b, " [%s]", e.Provider)
	}
	if e.Status != 0 {
		b = fmt.Appendf(b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b = fmt.Appendf(b, ": %s", e.Message)
	}
	if e.Cause != nil {
		b = fmt.Appendf(b, ": %v", e.Cause)
	}
	return string(b)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the error may be retried with backoff.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// AsError unwraps err to a classified *Error if there is one.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// ClassifyStatus maps an HTTP status code to an error kind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthFailed
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status >= 500:
		return KindNetworkTransient
	default:
		return KindUnsupportedShape
	}
}

// ParseRetryAfter interprets a Retry-After header value, which is either
// a delay in seconds or an HTTP date. Returns 0 when absent or invalid.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
