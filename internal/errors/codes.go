package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies why fetching or accepting remote content failed
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindRateLimited
	KindTimeout
	KindTransport
	KindValidationFailed
)

// String returns the log/metric label for the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport_error"
	case KindValidationFailed:
		return "validation_failed"
	default:
		return "unknown"
	}
}

// FetchError is a structured failure from the repository client or validator
type FetchError struct {
	Kind       Kind
	Message    string
	Repository string
	Path       string
	StatusCode int
	RetryAfter time.Duration // server-provided wait, rate limits only
	Cause      error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s:%s)", msg, e.Repository, e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether another attempt may succeed.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindTransport:
		return true
	default:
		return false
	}
}

// HTTPStatus maps the kind onto an HTTP status for the admin API.
func (e *FetchError) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindValidationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// WithLocation records which file the failure concerns.
func (e *FetchError) WithLocation(repository, path string) *FetchError {
	e.Repository = repository
	e.Path = path
	return e
}

// NewFetchError creates a new FetchError
func NewFetchError(kind Kind, message string, cause error) *FetchError {
	return &FetchError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// Convenience constructors for common errors

func NotFound(message string) *FetchError {
	return NewFetchError(KindNotFound, message, nil)
}

func Forbidden(statusCode int, message string) *FetchError {
	e := NewFetchError(KindForbidden, message, nil)
	e.StatusCode = statusCode
	return e
}

func RateLimited(statusCode int, retryAfter time.Duration) *FetchError {
	e := NewFetchError(KindRateLimited, fmt.Sprintf("rate limited, retry after %v", retryAfter), nil)
	e.StatusCode = statusCode
	e.RetryAfter = retryAfter
	return e
}

func Timeout(cause error) *FetchError {
	return NewFetchError(KindTimeout, "request timed out", cause)
}

func Transport(message string, cause error) *FetchError {
	return NewFetchError(KindTransport, message, cause)
}

func ServerError(statusCode int) *FetchError {
	e := NewFetchError(KindTransport, fmt.Sprintf("server returned %d", statusCode), nil)
	e.StatusCode = statusCode
	return e
}

func ValidationFailed(reason string) *FetchError {
	return NewFetchError(KindValidationFailed, reason, nil)
}

// AsFetchError extracts a FetchError from an error chain
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if stderrors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf extracts the kind from an error; unknown errors are KindUnknown
func KindOf(err error) Kind {
	if fe, ok := AsFetchError(err); ok {
		return fe.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is a retryable FetchError
func IsRetryable(err error) bool {
	if fe, ok := AsFetchError(err); ok {
		return fe.Retryable()
	}
	return false
}
