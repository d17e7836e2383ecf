// Package exception provides the error types shared by the tide engine, its
// status stores and its queue transports. Every failure the engine can hit
// maps onto one sentinel so callers classify with errors.Is regardless of
// which layer wrapped it.
package exception

import (
	"errors"
	"fmt"
	"runtime"
)

// Sentinel errors, one per failure class the engine distinguishes.
var (
	// ErrDecode marks a payload that could not be decoded. Such deliveries are dropped.
	ErrDecode = errors.New("DecodeError")
	// ErrStatusVanished marks a status record that disappeared while the work loop was running.
	ErrStatusVanished = errors.New("NotFoundInternalError")
	// ErrConcurrencyConflict marks a write carrying a stale concurrency token.
	ErrConcurrencyConflict = errors.New("ConcurrencyConflict")
	// ErrConflict marks a create against an identity that already exists.
	ErrConflict = errors.New("Conflict")
	// ErrSimulatedFailure is the deliberate fault raised on request by a message.
	ErrSimulatedFailure = errors.New("SimulatedFailure")
	// ErrStoreUnavailable marks a transient storage failure.
	ErrStoreUnavailable = errors.New("StoreUnavailable")
)

// TideError carries the module that failed, a short message, the wrapped cause
// and whether the queue may usefully redeliver the message.
type TideError struct {
	// Module is where the error occurred (e.g. "store", "processor", "queue").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped cause, usually joined with a sentinel.
	OriginalErr error
	// StackTrace is captured at construction for debugging.
	StackTrace string

	retryable bool
}

// NewTideError creates a TideError wrapping originalErr.
func NewTideError(module, message string, originalErr error, retryable bool) *TideError {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)

	return &TideError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		StackTrace:  string(buf[:n]),
		retryable:   retryable,
	}
}

// NewTideErrorf creates a TideError with a formatted message and no cause.
func NewTideErrorf(module, format string, a ...interface{}) *TideError {
	return NewTideError(module, fmt.Sprintf(format, a...), nil, false)
}

func withSentinel(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return errors.Join(sentinel, cause)
}

// NewDecodeError reports a payload that could not be decoded.
func NewDecodeError(module, message string, cause error) *TideError {
	return NewTideError(module, message, withSentinel(ErrDecode, cause), false)
}

// NewStatusVanishedError reports a record that was expected but is gone.
func NewStatusVanishedError(module, message string) *TideError {
	return NewTideError(module, message, ErrStatusVanished, false)
}

// NewConcurrencyConflict reports a write rejected because its token was stale.
// The queue retries it on redelivery.
func NewConcurrencyConflict(module, message string, cause error) *TideError {
	return NewTideError(module, message, withSentinel(ErrConcurrencyConflict, cause), true)
}

// NewConflict reports a create against an existing identity.
func NewConflict(module, message string, cause error) *TideError {
	return NewTideError(module, message, withSentinel(ErrConflict, cause), false)
}

// NewSimulatedFailure creates the deliberate fault for a delivery.
func NewSimulatedFailure(module, message string) *TideError {
	return NewTideError(module, message, ErrSimulatedFailure, true)
}

// NewStoreUnavailable wraps a transient storage error.
func NewStoreUnavailable(module, message string, cause error) *TideError {
	return NewTideError(module, message, withSentinel(ErrStoreUnavailable, cause), true)
}

// Error implements the error interface.
func (e *TideError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Is and errors.As.
func (e *TideError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports whether redelivery may succeed.
func (e *TideError) IsRetryable() bool {
	return e.retryable
}

// IsTideError reports whether err is, or wraps, a TideError.
func IsTideError(err error) bool {
	var te *TideError
	return errors.As(err, &te)
}

// IsRetryable reports whether err is worth redelivering. Errors that are not
// TideErrors are assumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TideError
	if errors.As(err, &te) {
		return te.IsRetryable()
	}
	return true
}

func IsDecode(err error) bool              { return errors.Is(err, ErrDecode) }
func IsStatusVanished(err error) bool      { return errors.Is(err, ErrStatusVanished) }
func IsConcurrencyConflict(err error) bool { return errors.Is(err, ErrConcurrencyConflict) }
func IsConflict(err error) bool            { return errors.Is(err, ErrConflict) }
func IsSimulatedFailure(err error) bool    { return errors.Is(err, ErrSimulatedFailure) }
func IsStoreUnavailable(err error) bool    { return errors.Is(err, ErrStoreUnavailable) }

// ExtractErrorMessage returns the Message of a TideError, or err.Error() otherwise.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var te *TideError
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}
