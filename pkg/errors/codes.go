package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique identifier for specific error conditions in Snowy.
type ErrorCode int

const (
	ErrCodeUnknown       ErrorCode = 1000
	ErrCodeConfigInvalid ErrorCode = 1001

	// Supervisor
	ErrCodeProcessStartFail ErrorCode = 2001
	ErrCodeRetryExhausted   ErrorCode = 2002

	// Bridge
	ErrCodeSocketBindFailed ErrorCode = 3001
	ErrCodeBadRequest       ErrorCode = 3002
	ErrCodeRouteNotFound    ErrorCode = 3003

	// Capabilities
	ErrCodeCapabilityFailed  ErrorCode = 4001
	ErrCodeCapabilityTimeout ErrorCode = 4002
	ErrCodeCapabilityBusy    ErrorCode = 4003

	// Credentials & relay
	ErrCodeCredentialFailed ErrorCode = 5001
	ErrCodeWebhookFailed    ErrorCode = 5002
)

// SnowyError is a custom error type that provides structured error information,
// including an error code, the operation being performed, and the underlying cause.
type SnowyError struct {
	// Code is the specific error code.
	Code ErrorCode
	// Msg is a human-readable description of the error.
	Msg string
	// Operation describes the action being performed when the error occurred.
	Operation string
	// Err is the underlying error that caused this error, if any.
	Err error
}

// Error returns a formatted string representation of the error.
func (e *SnowyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %s (cause: %v)", e.Code, e.Operation, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Operation, e.Msg)
}

// Unwrap returns the underlying error.
func (e *SnowyError) Unwrap() error {
	return e.Err
}

// New creates a new SnowyError with the specified code, operation, message, and underlying error.
func New(code ErrorCode, op, msg string, err error) error {
	return &SnowyError{
		Code:      code,
		Msg:       msg,
		Operation: op,
		Err:       err,
	}
}

// CodeOf returns the code of the first SnowyError in err's chain,
// or ErrCodeUnknown when there is none.
func CodeOf(err error) ErrorCode {
	var se *SnowyError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeUnknown
}

// Personal.AI order the ending
