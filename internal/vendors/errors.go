package vendors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCategory is the normalized vendor failure taxonomy.
type ErrorCategory string

const (
	// ErrorTimeout indicates the vendor took too long to respond
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates the vendor returned invalid or malformed data
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorAuthentication indicates credential or permission issues
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorProviderOutage indicates the vendor is unavailable (or the circuit is open)
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorContractMismatch indicates the vendor API changed shape
	ErrorContractMismatch ErrorCategory = "contract_mismatch"

	// ErrorNotFound indicates the vendor has no record for the subject
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorRateLimited indicates too many requests
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorRejected indicates the vendor processed the request and refused the
	// input with a structured reason (unreadable document, wrong side, ...)
	ErrorRejected ErrorCategory = "rejected"

	// ErrorCanceled indicates the caller abandoned the request
	ErrorCanceled ErrorCategory = "canceled"

	// ErrorInternal indicates an unexpected failure on our side
	ErrorInternal ErrorCategory = "internal"
)

// Error is a normalized vendor call failure.
type Error struct {
	Category   ErrorCategory
	API        API
	Reason     string // vendor's structured failure code, set for ErrorRejected
	Message    string
	Underlying error
	Retryable  bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("vendor %s [%s]: %s", e.API, e.Category, e.Message)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError creates a normalized vendor error. Timeouts, cancellations,
// outages and rate limits are retryable; everything else needs different input.
func NewError(category ErrorCategory, api API, message string, underlying error) *Error {
	retryable := category == ErrorTimeout ||
		category == ErrorCanceled ||
		category == ErrorProviderOutage ||
		category == ErrorRateLimited

	return &Error{
		Category:   category,
		API:        api,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// Rejected builds an ErrorRejected carrying the vendor's reason code.
func Rejected(api API, reason, message string) *Error {
	e := NewError(ErrorRejected, api, message, nil)
	e.Reason = reason
	return e
}

// AsError normalizes any client error into *Error for api.
func AsError(api API, err error) *Error {
	if err == nil {
		return nil
	}
	var ve *Error
	if errors.As(err, &ve) {
		if ve.API == "" {
			ve.API = api
		}
		return ve
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorTimeout, api, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError(ErrorCanceled, api, "request canceled", err)
	}
	return NewError(ErrorInternal, api, "request failed", err)
}

// IsRetryable checks if an error is worth retrying with the same input.
func IsRetryable(err error) bool {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error.
func GetCategory(err error) ErrorCategory {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Category
	}
	return ErrorInternal
}
