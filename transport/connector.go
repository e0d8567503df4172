// Package transport defines the connector boundary between the client runtime
// and the network, plus connector implementations built on net/http and resty.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/ambiyansyah-risyal/clientrt/types"
)

// Connector turns a request into a response. Implementations must honour ctx
// cancellation and return connector failures as *ConnectorError.
type Connector interface {
	Call(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Call calls f(ctx, req).
func (f ConnectorFunc) Call(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// ConnectorErrorKind distinguishes the broad failure modes of a connector.
type ConnectorErrorKind int

const (
	ConnectorErrorOther ConnectorErrorKind = iota
	ConnectorErrorTimeout
	ConnectorErrorIO
)

func (k ConnectorErrorKind) String() string {
	switch k {
	case ConnectorErrorTimeout:
		return "timeout"
	case ConnectorErrorIO:
		return "io"
	default:
		return "other"
	}
}

// ConnectorError is a failure to dispatch a request or receive its response.
type ConnectorError struct {
	Kind ConnectorErrorKind
	// Hint is the retry kind an Other error wants to be treated as, if any.
	Hint *types.ErrorKind
	Err  error
}

// TimeoutError wraps err as a connector timeout.
func TimeoutError(err error) *ConnectorError {
	return &ConnectorError{Kind: ConnectorErrorTimeout, Err: err}
}

// IOError wraps err as a connector I/O failure.
func IOError(err error) *ConnectorError {
	return &ConnectorError{Kind: ConnectorErrorIO, Err: err}
}

// OtherError wraps err with an optional retry hint.
func OtherError(err error, hint *types.ErrorKind) *ConnectorError {
	return &ConnectorError{Kind: ConnectorErrorOther, Hint: hint, Err: err}
}

// Error implements error interface.
func (e *ConnectorError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err == nil {
		return fmt.Sprintf("connector error (%s)", e.Kind)
	}
	return fmt.Sprintf("connector error (%s): %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnectorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTimeout reports whether the connector timed out.
func (e *ConnectorError) IsTimeout() bool { return e != nil && e.Kind == ConnectorErrorTimeout }

// IsIO reports whether the connector failed on I/O.
func (e *ConnectorError) IsIO() bool { return e != nil && e.Kind == ConnectorErrorIO }

// IsOther returns the hint carried by an Other error.
func (e *ConnectorError) IsOther() (*types.ErrorKind, bool) {
	if e == nil || e.Kind != ConnectorErrorOther {
		return nil, false
	}
	return e.Hint, true
}

// ClassifyError converts an arbitrary transport failure into a
// *ConnectorError. Errors that already are connector errors pass through.
func ClassifyError(err error) *ConnectorError {
	if err == nil {
		return nil
	}

	var connErr *ConnectorError
	if errors.As(err, &connErr) {
		return connErr
	}

	if errors.Is(err, types.ErrTimedOut) || errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimeoutError(err)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return IOError(err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return IOError(err)
	}

	return OtherError(err, nil)
}
