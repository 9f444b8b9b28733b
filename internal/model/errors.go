// Package model holds the data types shared across the broker: tool
// identifiers, schemas, backend descriptors, invocation records, and the
// error-kind taxonomy every broker translates into an HTTP response.
package model

import "fmt"

// Kind is the closed set of error kinds the brokers and the top-level
// invocation handler can surface to a caller.
type Kind string

const (
	KindBadArguments        Kind = "BadArguments"
	KindForbidden           Kind = "Forbidden"
	KindRateLimited         Kind = "RateLimited"
	KindQuotaExceeded       Kind = "QuotaExceeded"
	KindUpstreamError       Kind = "UpstreamError"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindTimeout             Kind = "Timeout"
	KindSandboxUnavailable  Kind = "SandboxUnavailable"
	KindInternal            Kind = "Internal"
)

// Error is the structured error every broker handler returns. It carries
// enough information to render an HTTP response body and to decide the
// HTTP status code, without brokers needing to know about each other's
// internals.
type Error struct {
	Kind         Kind     `json:"kind"`
	Message      string   `json:"message"`
	RetryAfterMs int64    `json:"retryAfterMs,omitempty"`
	Allowlist    []string `json:"allowlist,omitempty"`
	cause        error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind wrapping a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// HTTPStatus maps a Kind to the status code the brokers write in §7.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadArguments:
		return 400
	case KindForbidden:
		return 403
	case KindRateLimited:
		return 429
	case KindQuotaExceeded:
		return 429
	case KindUpstreamError:
		return 502
	case KindUpstreamUnavailable:
		return 503
	case KindTimeout:
		return 504
	case KindSandboxUnavailable:
		return 503
	default:
		return 500
	}
}
