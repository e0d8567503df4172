package interceptor

import (
	"errors"
	"fmt"

	"github.com/ambiyansyah-risyal/clientrt/transport"
)

// ErrorKind identifies where in the orchestration an error came from.
type ErrorKind int

const (
	// ErrorKindOperation is a modeled error returned by the service.
	ErrorKindOperation ErrorKind = iota
	// ErrorKindInterceptor is a failure returned by an interceptor hook.
	ErrorKindInterceptor
	// ErrorKindTimeout is an operation or attempt timeout.
	ErrorKindTimeout
	// ErrorKindConnector is a failure to dispatch or receive.
	ErrorKindConnector
	// ErrorKindResponse is a failure to construct or deserialize a response.
	ErrorKindResponse
	// ErrorKindOther is anything else.
	ErrorKindOther
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindOperation:
		return "operation error"
	case ErrorKindInterceptor:
		return "interceptor error"
	case ErrorKindTimeout:
		return "timeout error"
	case ErrorKindConnector:
		return "connector error"
	case ErrorKindResponse:
		return "response error"
	default:
		return "other error"
	}
}

// OrchestratorError is the error recorded in the interceptor context when an
// attempt or call fails. Unwrap exposes the cause so callers can use
// errors.As to reach the original service error.
type OrchestratorError struct {
	Kind ErrorKind
	Err  error
}

// OperationError wraps a modeled service error.
func OperationError(err error) *OrchestratorError {
	return &OrchestratorError{Kind: ErrorKindOperation, Err: err}
}

// InterceptorError wraps a failed interceptor hook.
func InterceptorError(err error) *OrchestratorError {
	return &OrchestratorError{Kind: ErrorKindInterceptor, Err: err}
}

// TimeoutError wraps an operation or attempt timeout.
func TimeoutError(err error) *OrchestratorError {
	return &OrchestratorError{Kind: ErrorKindTimeout, Err: err}
}

// ConnectorError wraps a connector failure.
func ConnectorError(err *transport.ConnectorError) *OrchestratorError {
	return &OrchestratorError{Kind: ErrorKindConnector, Err: err}
}

// ResponseError wraps a failure to build or deserialize the response.
func ResponseError(err error) *OrchestratorError {
	return &OrchestratorError{Kind: ErrorKindResponse, Err: err}
}

// OtherError wraps anything else.
func OtherError(err error) *OrchestratorError {
	return &OrchestratorError{Kind: ErrorKindOther, Err: err}
}

// Error implements error interface.
func (e *OrchestratorError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *OrchestratorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *OrchestratorError) IsOperationError() bool   { return e != nil && e.Kind == ErrorKindOperation }
func (e *OrchestratorError) IsInterceptorError() bool { return e != nil && e.Kind == ErrorKindInterceptor }
func (e *OrchestratorError) IsTimeoutError() bool     { return e != nil && e.Kind == ErrorKindTimeout }
func (e *OrchestratorError) IsConnectorError() bool   { return e != nil && e.Kind == ErrorKindConnector }
func (e *OrchestratorError) IsResponseError() bool    { return e != nil && e.Kind == ErrorKindResponse }

// AsConnectorError returns the connector error for ErrorKindConnector.
func (e *OrchestratorError) AsConnectorError() (*transport.ConnectorError, bool) {
	if !e.IsConnectorError() {
		return nil, false
	}
	var connErr *transport.ConnectorError
	ok := errors.As(e.Err, &connErr)
	return connErr, ok
}

// AsOperationError returns the service error for ErrorKindOperation.
func (e *OrchestratorError) AsOperationError() (error, bool) {
	if !e.IsOperationError() {
		return nil, false
	}
	return e.Err, true
}

// HookError is a failure returned by a named interceptor hook.
type HookError struct {
	Hook        string
	Interceptor string
	Err         error
}

// Error implements error interface.
func (e *HookError) Error() string {
	if e.Interceptor == "" {
		return fmt.Sprintf("%s interceptor failed: %v", e.Hook, e.Err)
	}
	return fmt.Sprintf("%s interceptor %q failed: %v", e.Hook, e.Interceptor, e.Err)
}

// Unwrap returns the underlying cause.
func (e *HookError) Unwrap() error { return e.Err }
