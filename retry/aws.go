package retry

import (
	"errors"
	"strconv"
	"time"

	"github.com/ambiyansyah-risyal/clientrt/interceptor"
	"github.com/ambiyansyah-risyal/clientrt/types"
)

// RetryAfterHeader carries an explicit retry delay in milliseconds.
const RetryAfterHeader = "x-amz-retry-after"

// ThrottlingErrorCodes are service error codes that mean "slow down".
var ThrottlingErrorCodes = []string{
	"Throttling",
	"ThrottlingException",
	"ThrottledException",
	"RequestThrottledException",
	"TooManyRequestsException",
	"ProvisionedThroughputExceededException",
	"TransactionInProgressException",
	"RequestLimitExceeded",
	"BandwidthLimitExceeded",
	"LimitExceededException",
	"RequestThrottled",
	"SlowDown",
	"PriorRequestNotComplete",
	"EC2ThrottledException",
}

// TransientErrorCodes are service error codes for failures that clear up.
var TransientErrorCodes = []string{
	"RequestTimeout",
	"RequestTimeoutException",
}

// AWSErrorCodeClassifier classifies operation errors by their service error
// code, and honours an explicit x-amz-retry-after delay.
type AWSErrorCodeClassifier struct {
	throttling map[string]struct{}
	transient  map[string]struct{}
}

// NewAWSErrorCodeClassifier returns a classifier using ThrottlingErrorCodes
// and TransientErrorCodes.
func NewAWSErrorCodeClassifier() AWSErrorCodeClassifier {
	return AWSErrorCodeClassifier{
		throttling: stringSet(ThrottlingErrorCodes),
		transient:  stringSet(TransientErrorCodes),
	}
}

func (AWSErrorCodeClassifier) Name() string { return "AWS Error Code" }

func (AWSErrorCodeClassifier) Priority() Priority {
	return WithHigherPriorityThan(ModeledAsRetryablePriority())
}

// ClassifyRetry implements Classifier.
func (c AWSErrorCodeClassifier) ClassifyRetry(ctx *interceptor.Context) RetryAction {
	err := ctx.Error()
	if err == nil {
		return NoActionIndicated
	}

	var retryAfter *time.Duration
	if resp := ctx.Response(); resp != nil {
		if raw := resp.Header.Get(RetryAfterHeader); raw != "" {
			if ms, perr := strconv.ParseUint(raw, 10, 64); perr == nil {
				d := time.Duration(ms) * time.Millisecond
				retryAfter = &d
			}
		}
	}

	kind, known := c.kindFor(err)
	switch {
	case known:
		return RetryIndicated(RetryReason{Kind: kind, RetryAfter: retryAfter})
	case retryAfter != nil:
		return RetryIndicated(RetryReason{Kind: types.TransientError, RetryAfter: retryAfter})
	default:
		return NoActionIndicated
	}
}

func (c AWSErrorCodeClassifier) kindFor(err *interceptor.OrchestratorError) (types.ErrorKind, bool) {
	opErr, ok := err.AsOperationError()
	if !ok {
		return 0, false
	}
	var meta types.ProvideErrorMetadata
	if !errors.As(opErr, &meta) {
		return 0, false
	}
	code := meta.ErrorCode()
	if _, ok := c.throttling[code]; ok {
		return types.ThrottlingError, true
	}
	if _, ok := c.transient[code]; ok {
		return types.TransientError, true
	}
	return 0, false
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
