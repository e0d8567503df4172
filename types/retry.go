// Package types holds the classification primitives shared by the retry,
// timeout and orchestration packages. It has no dependencies on the rest of
// the module so that generated service code can import it freely.
package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind describes why a failed call may succeed if it is attempted again.
type ErrorKind int

const (
	// TransientError covers connection resets, timeouts and other failures
	// that are expected to clear up on their own.
	TransientError ErrorKind = iota
	// ThrottlingError means the server asked the client to slow down.
	ThrottlingError
	// ServerError is a generic server side failure considered retryable.
	ServerError
	// ClientError is a failure caused by the caller. It is never retried.
	ClientError
)

// String returns the display name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case TransientError:
		return "transient error"
	case ThrottlingError:
		return "throttling error"
	case ServerError:
		return "server error"
	case ClientError:
		return "client error"
	default:
		return fmt.Sprintf("unknown error kind (%d)", int(k))
	}
}

// ProvideErrorKind is implemented by modeled operation errors that know
// whether they are retryable. RetryableErrorKind returns nil when the error
// has no opinion.
type ProvideErrorKind interface {
	RetryableErrorKind() *ErrorKind
}

// ProvideErrorMetadata is implemented by operation errors that carry a
// service error code such as "ThrottlingException".
type ProvideErrorMetadata interface {
	ErrorCode() string
}

// Kind returns a pointer to k, for use with ProvideErrorKind.
func Kind(k ErrorKind) *ErrorKind {
	return &k
}

type retryKindClass int

const (
	retryKindUnnecessary retryKindClass = iota
	retryKindUnretryable
	retryKindError
	retryKindExplicit
)

// RetryKind is the outcome of classifying a single attempt. The zero value
// is Unnecessary.
type RetryKind struct {
	class retryKindClass
	kind  ErrorKind
	delay time.Duration
}

// RetryKindError reports a retryable failure of the given kind.
func RetryKindError(kind ErrorKind) RetryKind {
	return RetryKind{class: retryKindError, kind: kind}
}

// RetryKindExplicit reports that the server specified exactly when to retry.
func RetryKindExplicit(delay time.Duration) RetryKind {
	return RetryKind{class: retryKindExplicit, delay: delay}
}

// RetryKindUnretryableFailure reports a failure that must not be retried.
func RetryKindUnretryableFailure() RetryKind {
	return RetryKind{class: retryKindUnretryable}
}

// RetryKindUnnecessary reports a successful attempt.
func RetryKindUnnecessary() RetryKind {
	return RetryKind{}
}

// ErrorKind returns the error kind and true when k is an Error kind.
func (k RetryKind) ErrorKind() (ErrorKind, bool) {
	return k.kind, k.class == retryKindError
}

// ExplicitDelay returns the delay and true when k is an Explicit kind.
func (k RetryKind) ExplicitDelay() (time.Duration, bool) {
	return k.delay, k.class == retryKindExplicit
}

// IsUnnecessary reports whether the attempt succeeded.
func (k RetryKind) IsUnnecessary() bool { return k.class == retryKindUnnecessary }

// IsUnretryableFailure reports whether the attempt failed permanently.
func (k RetryKind) IsUnretryableFailure() bool { return k.class == retryKindUnretryable }

func (k RetryKind) String() string {
	switch k.class {
	case retryKindError:
		return "error(" + k.kind.String() + ")"
	case retryKindExplicit:
		return "explicit(" + k.delay.String() + ")"
	case retryKindUnretryable:
		return "unretryable failure"
	default:
		return "unnecessary"
	}
}

// ErrTimedOut is the marker at the bottom of every timeout error chain. Use
// errors.Is(err, ErrTimedOut) instead of matching on messages.
var ErrTimedOut = errors.New("timed out")

// IsTimeout reports whether err is, or wraps, a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimedOut)
}
