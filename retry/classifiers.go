package retry

import (
	"errors"

	"github.com/ambiyansyah-risyal/clientrt/interceptor"
	"github.com/ambiyansyah-risyal/clientrt/types"
)

// DefaultRetryableStatusCodes are the statuses retried by default.
var DefaultRetryableStatusCodes = []int{500, 502, 503, 504}

// HTTPStatusCodeClassifier marks responses with a retryable status code as
// transient errors.
type HTTPStatusCodeClassifier struct {
	codes map[int]struct{}
}

// NewHTTPStatusCodeClassifier returns a classifier for codes, or for
// DefaultRetryableStatusCodes when none are given.
func NewHTTPStatusCodeClassifier(codes ...int) HTTPStatusCodeClassifier {
	if len(codes) == 0 {
		codes = DefaultRetryableStatusCodes
	}
	set := make(map[int]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return HTTPStatusCodeClassifier{codes: set}
}

func (HTTPStatusCodeClassifier) Name() string       { return "HTTP Status Code" }
func (HTTPStatusCodeClassifier) Priority() Priority { return HTTPStatusCodePriority() }

// ClassifyRetry implements Classifier.
func (c HTTPStatusCodeClassifier) ClassifyRetry(ctx *interceptor.Context) RetryAction {
	resp := ctx.Response()
	if resp == nil {
		return NoActionIndicated
	}
	if _, ok := c.codes[resp.StatusCode]; ok {
		return TransientError()
	}
	return NoActionIndicated
}

// ModeledAsRetryableClassifier trusts operation errors that declare their
// own retry kind through types.ProvideErrorKind.
type ModeledAsRetryableClassifier struct{}

func (ModeledAsRetryableClassifier) Name() string       { return "Errors Modeled As Retryable" }
func (ModeledAsRetryableClassifier) Priority() Priority { return ModeledAsRetryablePriority() }

// ClassifyRetry implements Classifier.
func (ModeledAsRetryableClassifier) ClassifyRetry(ctx *interceptor.Context) RetryAction {
	opErr, ok := ctx.Error().AsOperationError()
	if !ok {
		return NoActionIndicated
	}
	var provider types.ProvideErrorKind
	if !errors.As(opErr, &provider) {
		return NoActionIndicated
	}
	if kind := provider.RetryableErrorKind(); kind != nil {
		return RetryableError(*kind)
	}
	return NoActionIndicated
}

// TransientErrorClassifier handles failures below the service layer:
// timeouts, broken responses and connector errors.
type TransientErrorClassifier struct{}

func (TransientErrorClassifier) Name() string       { return "Retryable Transient Errors" }
func (TransientErrorClassifier) Priority() Priority { return TransientErrorPriority() }

// ClassifyRetry implements Classifier.
func (TransientErrorClassifier) ClassifyRetry(ctx *interceptor.Context) RetryAction {
	err := ctx.Error()
	if err == nil {
		return NoActionIndicated
	}
	switch {
	case err.IsResponseError(), err.IsTimeoutError():
		return TransientError()
	case err.IsConnectorError():
		connErr, ok := err.AsConnectorError()
		if !ok {
			return NoActionIndicated
		}
		if connErr.IsTimeout() || connErr.IsIO() {
			return TransientError()
		}
		if hint, ok := connErr.IsOther(); ok && hint != nil {
			return RetryableError(*hint)
		}
	}
	return NoActionIndicated
}
