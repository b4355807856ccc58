// Package domainerrors carries coded errors across layer boundaries.
//
// Stores return sentinel errors (pkg/platform/sentinel); services and the
// workflow core translate them into coded errors so callers can branch on a
// stable Code instead of string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	CodeInternal           Code = "internal"
	CodeNotFound           Code = "not_found"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvariantViolation Code = "invariant_violation"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeUnavailable        Code = "unavailable"
	CodeMissingData        Code = "missing_data"
	CodeVendorFailure      Code = "vendor_failure"

	// Structural workflow errors. These are never retried automatically.
	CodeUnexpectedActionForState Code = "unexpected_action_for_state"
	CodeStateKindMismatch        Code = "state_kind_mismatch"
	CodeConfigKindMismatch       Code = "config_kind_mismatch"
	CodeConcurrentStateChange    Code = "concurrent_state_change"
)

var fatalCodes = map[Code]bool{
	CodeUnexpectedActionForState: true,
	CodeStateKindMismatch:        true,
	CodeConfigKindMismatch:       true,
	CodeConcurrentStateChange:    true,
	CodeInvariantViolation:       true,
}

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is is an alias of HasCode kept for call sites that read better with it.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsFatal reports whether err is a structural error that must not be retried.
func IsFatal(err error) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if fatalCodes[de.Code] {
			return true
		}
		err = de.Err
	}
	return false
}
