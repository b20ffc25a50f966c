package hub

import (
	"errors"
	"fmt"
)

// ErrorKind is the application-level discriminator carried on JSON-RPC
// error objects.
type ErrorKind string

const (
	KindAuthError       ErrorKind = "auth_error"
	KindNotConnected    ErrorKind = "not_connected"
	KindProviderError   ErrorKind = "provider_error"
	KindRateLimited     ErrorKind = "rate_limited"
	KindValidationError ErrorKind = "validation_error"
	KindInternalError   ErrorKind = "internal_error"
)

// Error is a typed hub error. Message is always safe to return to the
// caller; sensitive detail belongs in the wrapped cause, which is logged
// but never serialized.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Public returns the caller-facing message with no wrapped detail.
func (e *Error) Public() string { return e.Message }

// NewAuthenticationError reports a missing, invalid or expired credential.
func NewAuthenticationError(message string) *Error {
	return &Error{Kind: KindAuthError, Message: message}
}

// NewAuthorizationError reports a user that is not approved or inactive.
func NewAuthorizationError(message string) *Error {
	return &Error{Kind: KindAuthError, Message: message}
}

// NewNotConnectedError reports a missing or disabled provider connection.
func NewNotConnectedError(provider string) *Error {
	return &Error{Kind: KindNotConnected, Message: fmt.Sprintf("no enabled connection for provider %q", provider)}
}

// NewTokenExpiredError reports a credential that expired and could not be
// refreshed. The cause keeps refresh detail for logs.
func NewTokenExpiredError(provider string, cause error) *Error {
	return &Error{
		Kind:    KindAuthError,
		Message: fmt.Sprintf("credential for provider %q expired and refresh failed", provider),
		cause:   cause,
	}
}

// NewProviderError reports an upstream failure. The status code is kept in
// the message when known; the upstream body stays in the cause.
func NewProviderError(provider string, status int, cause error) *Error {
	msg := fmt.Sprintf("provider %q request failed", provider)
	if status > 0 {
		msg = fmt.Sprintf("provider %q request failed with status %d", provider, status)
	}
	return &Error{Kind: KindProviderError, Message: msg, cause: cause}
}

// NewValidationError reports a schema or shape violation.
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidationError, Message: message}
}

// NewRateLimitError reports a throttled caller.
func NewRateLimitError(message string) *Error {
	return &Error{Kind: KindRateLimited, Message: message}
}

// NewInternalError wraps an unexpected failure with a generic message.
func NewInternalError(cause error) *Error {
	return &Error{Kind: KindInternalError, Message: "internal error", cause: cause}
}

// KindOf extracts the error kind, defaulting to internal_error for
// untyped errors.
func KindOf(err error) ErrorKind {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind
	}
	return KindInternalError
}

// PublicMessage returns the caller-safe message for any error. Untyped
// errors collapse to a generic message so internal detail never leaks.
func PublicMessage(err error) string {
	var he *Error
	if errors.As(err, &he) {
		return he.Public()
	}
	return "internal error"
}
