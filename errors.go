package clientrt

import (
	"errors"
	"fmt"
	"time"

	"github.com/ambiyansyah-risyal/clientrt/interceptor"
)

// Sentinel errors for common failure scenarios
var (
	// ErrInvalidConfig is returned by Invoke on a client whose configuration
	// failed validation, and wraps config file validation failures.
	ErrInvalidConfig = errors.New("clientrt: invalid configuration")

	// ErrNilOperation is returned when Invoke is called without an operation.
	ErrNilOperation = errors.New("clientrt: nil operation")
)

// Error types carried by ClientError.
const (
	ErrorTypeValidation = "ValidationError"
	ErrorTypeOperation  = "OperationError"
)

// ClientError describes a failure of the client itself rather than of a
// single call.
type ClientError struct {
	Type         string
	Message      string
	Cause        error
	Operation    string
	InvocationID string
	Attempt      int
	MaxAttempts  int
	Timestamp    time.Time
	Duration     time.Duration
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.InvocationID != "" {
		msg = fmt.Sprintf("[%s] %s", e.InvocationID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is. A validation error also matches
// ErrInvalidConfig.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if target == ErrInvalidConfig {
		return e.Type == ErrorTypeValidation
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Operation != "" {
		info += fmt.Sprintf("Operation: %s\n", e.Operation)
	}
	if e.InvocationID != "" {
		info += fmt.Sprintf("Invocation ID: %s\n", e.InvocationID)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxAttempts)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsTransient reports whether err ended a call for a reason that a later
// call might not hit: a timeout, a connector failure or a broken response.
func IsTransient(err error) bool {
	var orchErr *interceptor.OrchestratorError
	if !errors.As(err, &orchErr) {
		return false
	}
	switch orchErr.Kind {
	case interceptor.ErrorKindTimeout, interceptor.ErrorKindConnector, interceptor.ErrorKindResponse:
		return true
	default:
		return false
	}
}
