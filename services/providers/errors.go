package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ErrorKind names one member of the closed provider error taxonomy
type ErrorKind string

const (
	KindRateLimit ErrorKind = "rate_limit"
	KindTimeout   ErrorKind = "timeout"
	KindAuth      ErrorKind = "auth"
	KindQuota     ErrorKind = "quota"
	KindServer    ErrorKind = "server_error"
	KindClient    ErrorKind = "client_error"
	KindNetwork   ErrorKind = "network"
	KindUnknown   ErrorKind = "unknown"
)

// RateLimitError reports an HTTP 429 from the provider
type RateLimitError struct {
	Provider string
	// RetryAfterSeconds comes from the Retry-After header when the provider
	// sent one; zero means the provider gave no hint.
	RetryAfterSeconds int64
}

func (e *RateLimitError) Error() string {
	if e.RetryAfterSeconds > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %ds", e.Provider, e.RetryAfterSeconds)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// TimeoutError reports a call that exceeded its deadline
type TimeoutError struct {
	Provider  string
	ElapsedMs int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %dms", e.Provider, e.ElapsedMs)
}

// AuthError reports an HTTP 401: the credential was rejected
type AuthError struct {
	Provider string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication rejected", e.Provider)
}

// QuotaError reports an HTTP 403 quota or billing rejection
type QuotaError struct {
	Provider string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: quota exhausted", e.Provider)
}

// ServerError reports an HTTP 5xx from the provider
type ServerError struct {
	Provider   string
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: upstream server error (status %d)", e.Provider, e.StatusCode)
}

// ClientError reports a 4xx other than 401, 403 and 429. The request itself
// is malformed; retrying elsewhere cannot help, so it never triggers fallback.
type ClientError struct {
	Provider   string
	StatusCode int
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: request rejected (status %d)", e.Provider, e.StatusCode)
}

// NetworkError reports a transport failure before any HTTP status arrived
type NetworkError struct {
	Provider string
	Cause    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network failure: %v", e.Provider, e.Cause)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// KindOf maps any error to its taxonomy kind. Errors outside the taxonomy
// report KindUnknown.
func KindOf(err error) ErrorKind {
	var (
		rateLimit *RateLimitError
		timeout   *TimeoutError
		auth      *AuthError
		quota     *QuotaError
		server    *ServerError
		client    *ClientError
		network   *NetworkError
	)
	switch {
	case errors.As(err, &rateLimit):
		return KindRateLimit
	case errors.As(err, &timeout):
		return KindTimeout
	case errors.As(err, &auth):
		return KindAuth
	case errors.As(err, &quota):
		return KindQuota
	case errors.As(err, &server):
		return KindServer
	case errors.As(err, &client):
		return KindClient
	case errors.As(err, &network):
		return KindNetwork
	default:
		return KindUnknown
	}
}

// ShouldFallback reports whether the orchestrator may try another provider
// after err. Total over all errors: only a ClientError pins the failure to
// the request itself; everything else is a provider-side condition.
func ShouldFallback(err error) bool {
	return KindOf(err) != KindClient
}

// ClassifyStatus maps a non-2xx HTTP response to its taxonomy error.
// retryAfter is the raw Retry-After header value, empty when absent.
func ClassifyStatus(provider string, statusCode int, retryAfter string) error {
	switch {
	case statusCode == 429:
		return &RateLimitError{Provider: provider, RetryAfterSeconds: parseRetryAfter(retryAfter)}
	case statusCode == 401:
		return &AuthError{Provider: provider}
	case statusCode == 403:
		return &QuotaError{Provider: provider}
	case statusCode >= 500:
		return &ServerError{Provider: provider, StatusCode: statusCode}
	default:
		return &ClientError{Provider: provider, StatusCode: statusCode}
	}
}

// ClassifyTransport maps a transport-level failure to its taxonomy error.
// Deadline expiry anywhere in the call becomes a TimeoutError carrying the
// elapsed wall time; everything else is a NetworkError.
func ClassifyTransport(provider string, elapsed time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: provider, ElapsedMs: elapsed.Milliseconds()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Provider: provider, ElapsedMs: elapsed.Milliseconds()}
	}
	return &NetworkError{Provider: provider, Cause: err}
}

// parseRetryAfter reads the delay-seconds form of a Retry-After header.
// The HTTP-date form is rare on LLM APIs and is treated as no hint.
func parseRetryAfter(value string) int64 {
	if value == "" {
		return 0
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return seconds
}
