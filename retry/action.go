// Package retry decides whether a failed attempt should be retried and
// rations retries across callers.
//
// Classifiers inspect an attempt and return a RetryAction. The orchestrator
// combines the opinions of every registered classifier by priority, asks a
// TokenBucket for permission to retry, and waits out the backoff computed by
// a Strategy.
package retry

import (
	"fmt"
	"time"

	"github.com/ambiyansyah-risyal/clientrt/types"
)

// RetryReason explains why a retry was indicated.
type RetryReason struct {
	Kind types.ErrorKind
	// RetryAfter is an explicit delay requested by the server, if any.
	RetryAfter *time.Duration
}

func (r RetryReason) String() string {
	if r.RetryAfter != nil {
		return fmt.Sprintf("%s (retry after %s)", r.Kind, *r.RetryAfter)
	}
	return r.Kind.String()
}

type actionKind int

const (
	actionNone actionKind = iota
	actionRetry
	actionForbidden
)

// RetryAction is the verdict of a classifier. The zero value is
// NoActionIndicated.
type RetryAction struct {
	kind   actionKind
	reason RetryReason
}

var (
	// NoActionIndicated means the classifier has no opinion.
	NoActionIndicated = RetryAction{}
	// RetryForbidden vetoes any retry, whatever other classifiers say.
	RetryForbidden = RetryAction{kind: actionForbidden}
)

// RetryIndicated returns an action asking for a retry for reason.
func RetryIndicated(reason RetryReason) RetryAction {
	return RetryAction{kind: actionRetry, reason: reason}
}

// RetryableError indicates a retry for an error of the given kind.
func RetryableError(kind types.ErrorKind) RetryAction {
	return RetryIndicated(RetryReason{Kind: kind})
}

// RetryableErrorWithDelay indicates a retry after an explicit delay.
func RetryableErrorWithDelay(kind types.ErrorKind, d time.Duration) RetryAction {
	return RetryIndicated(RetryReason{Kind: kind, RetryAfter: &d})
}

func TransientError() RetryAction  { return RetryableError(types.TransientError) }
func ThrottlingError() RetryAction { return RetryableError(types.ThrottlingError) }
func ServerError() RetryAction     { return RetryableError(types.ServerError) }
func ClientError() RetryAction     { return RetryableError(types.ClientError) }

// ShouldRetry reports whether a retry was indicated.
func (a RetryAction) ShouldRetry() bool { return a.kind == actionRetry }

// IsForbidden reports whether retries were vetoed.
func (a RetryAction) IsForbidden() bool { return a.kind == actionForbidden }

// IsNoAction reports whether the classifier had no opinion.
func (a RetryAction) IsNoAction() bool { return a.kind == actionNone }

// Reason returns the retry reason when a retry was indicated.
func (a RetryAction) Reason() (RetryReason, bool) {
	return a.reason, a.kind == actionRetry
}

// RetryKind converts the action into the RetryKind used for token bucket
// accounting. Actions that do not indicate a retry map to an unretryable
// failure.
func (a RetryAction) RetryKind() types.RetryKind {
	if a.kind != actionRetry {
		return types.RetryKindUnretryableFailure()
	}
	if a.reason.RetryAfter != nil {
		return types.RetryKindExplicit(*a.reason.RetryAfter)
	}
	return types.RetryKindError(a.reason.Kind)
}

// Equal reports whether two actions are the same verdict for the same reason.
func (a RetryAction) Equal(b RetryAction) bool {
	if a.kind != b.kind || a.reason.Kind != b.reason.Kind {
		return false
	}
	if a.reason.RetryAfter == nil || b.reason.RetryAfter == nil {
		return a.reason.RetryAfter == b.reason.RetryAfter
	}
	return *a.reason.RetryAfter == *b.reason.RetryAfter
}

func (a RetryAction) String() string {
	switch a.kind {
	case actionRetry:
		return fmt.Sprintf("retry (%s)", a.reason)
	case actionForbidden:
		return "retry forbidden"
	default:
		return "no action indicated"
	}
}
