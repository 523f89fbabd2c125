package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers and services MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField   ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidTime    ErrorCode = "validation_invalid_schedule_time"
	ErrCodeValidationContentLength  ErrorCode = "validation_content_too_long"
	ErrCodeValidationInvalidAccount ErrorCode = "validation_invalid_target_account"
	ErrCodeValidationInvalidInput   ErrorCode = "validation_invalid_input"

	// Auth (401/403)
	ErrCodeAuthTokenMissing  ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid  ErrorCode = "auth_token_invalid"
	ErrCodeAuthInternalToken ErrorCode = "auth_internal_token_rejected"

	// Not Found (404)
	ErrCodeNotFoundPublication  ErrorCode = "not_found_publication"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundJob          ErrorCode = "not_found_job"

	// Conflict (409)
	ErrCodeConflictStatus     ErrorCode = "conflict_publication_status"
	ErrCodeConflictConcurrent ErrorCode = "conflict_concurrent_modification"

	// Plan limits (403)
	ErrCodeQuotaPosts      ErrorCode = "quota_posts_exceeded"
	ErrCodeQuotaScheduling ErrorCode = "quota_scheduling_not_allowed"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamLinkedIn    ErrorCode = "upstream_linkedin_unavailable"
	ErrCodeUpstreamStripe      ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamEmail       ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"

	// Publish-specific
	ErrCodePublishRejected ErrorCode = "publish_rejected"
	ErrCodePublishTimeout  ErrorCode = "publish_timeout"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case s == string(ErrCodeAuthInternalToken):
		return http.StatusForbidden
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "quota_"):
		return http.StatusForbidden
	case s == string(ErrCodeUpstreamRateLimited):
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	case s == string(ErrCodePublishRejected):
		return http.StatusUnprocessableEntity
	case s == string(ErrCodePublishTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type used throughout the platform.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`

	// Retryable marks transient failures that may succeed on a later attempt
	// (rate limits, network timeouts, temporary store unavailability). The
	// publish worker counts these against the attempt budget; everything else
	// is terminal on first occurrence.
	Retryable bool `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewRetryableError creates an AppError flagged as transient.
func NewRetryableError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: true,
	}
}

// HasCode reports whether the error chain contains an AppError with the
// given code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable reports whether the error chain contains an AppError marked
// retryable. Plain (non-AppError) errors are treated as retryable: network
// and driver failures surface as bare errors, and retrying them is the safe
// default under at-least-once delivery.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return true
}
