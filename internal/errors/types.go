package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes an error for callers and for the HTTP surface.
type Kind string

const (
	KindAuthDenied       Kind = "auth_denied"
	KindNotFound         Kind = "not_found"
	KindBadInput         Kind = "bad_input"
	KindConflict         Kind = "conflict"
	KindComplianceDenied Kind = "compliance_denied"
	KindRateLimited      Kind = "rate_limited"
	KindProviderError    Kind = "provider_error"
	KindInternal         Kind = "internal"
)

// AppError is the structured error returned by every gateway operation.
// Message is safe to show to callers; Cause never is.
type AppError struct {
	Kind     Kind   `json:"error"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Provider string `json:"provider,omitempty"`
	// ResetAt is a hint for rate_limited errors (RFC 3339).
	ResetAt string `json:"reset_at,omitempty"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error kind to a response status code.
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindAuthDenied:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindBadInput:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindComplianceDenied:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the caller-visible message. Internal errors never leak
// their underlying text.
func (e *AppError) UserMessage() string {
	if e.Kind == KindInternal {
		return "an internal error occurred"
	}
	return e.Message
}

func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

func Wrap(err error, kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: err}
}

// AuthDenied builds an auth_denied error.
func AuthDenied(message string) *AppError {
	return New(KindAuthDenied, message)
}

// NotFound builds a not_found error for the named resource.
func NotFound(resource string) *AppError {
	return New(KindNotFound, resource+" not found")
}

// BadInput builds a bad_input error naming the offending field.
func BadInput(field, message string) *AppError {
	return &AppError{Kind: KindBadInput, Message: message, Field: field}
}

// Conflict builds a conflict error.
func Conflict(message string) *AppError {
	return New(KindConflict, message)
}

// ComplianceDenied builds a compliance_denied error carrying the gate reason.
func ComplianceDenied(reason string) *AppError {
	return &AppError{Kind: KindComplianceDenied, Message: reason, Reason: reason}
}

// RateLimited builds a rate_limited error naming the binding limit and when
// the window resets.
func RateLimited(limit, resetAt string) *AppError {
	return &AppError{
		Kind:    KindRateLimited,
		Message: fmt.Sprintf("rate limit exceeded: %s", limit),
		Reason:  limit,
		ResetAt: resetAt,
	}
}

// ProviderError wraps an upstream failure. The provider's raw error text is
// kept on Cause for logs and never echoed to the caller.
func ProviderError(provider string, cause error) *AppError {
	return &AppError{
		Kind:     KindProviderError,
		Message:  fmt.Sprintf("%s request failed", provider),
		Provider: provider,
		Cause:    cause,
	}
}

// Internal wraps a programmer or infrastructure error.
func Internal(cause error) *AppError {
	return &AppError{Kind: KindInternal, Message: "internal error", Cause: cause}
}

// KindOf extracts the kind from any error, defaulting to internal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// As unwraps err into an *AppError, synthesizing an internal one when err is
// not structured.
func As(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
