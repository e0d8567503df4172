package clientrt

import (
	"context"
	"fmt"

	"github.com/ambiyansyah-risyal/clientrt/interceptor"
)

const (
	// InvocationIDHeader carries an id shared by every attempt of one
	// invocation.
	InvocationIDHeader = "amz-sdk-invocation-id"
	// RequestInfoHeader carries the attempt number and the attempt limit.
	RequestInfoHeader = "amz-sdk-request"
)

type invocationIDKey struct{}

// requestInfoInterceptor stamps the invocation id once and the attempt
// header on every attempt.
type requestInfoInterceptor struct {
	interceptor.Base
	newID       func() string
	maxAttempts int
}

func newRequestInfoInterceptor(newID func() string, maxAttempts int) requestInfoInterceptor {
	return requestInfoInterceptor{newID: newID, maxAttempts: maxAttempts}
}

func (requestInfoInterceptor) Name() string { return "RequestInfo" }

func (i requestInfoInterceptor) ModifyBeforeRetryLoop(_ context.Context, v interceptor.BeforeTransmitMut) error {
	id := i.newID()
	v.SetProperty(invocationIDKey{}, id)
	if v.Request().Header.Get(InvocationIDHeader) == "" {
		v.Request().Header.Set(InvocationIDHeader, id)
	}
	return nil
}

func (i requestInfoInterceptor) ModifyBeforeTransmit(_ context.Context, v interceptor.BeforeTransmitMut) error {
	v.Request().Header.Set(RequestInfoHeader, fmt.Sprintf("attempt=%d; max=%d", v.Attempt(), i.maxAttempts))
	return nil
}

// invocationID returns the id stamped on the call, or "" before the retry
// loop was reached.
func invocationID(ictx *interceptor.Context) string {
	v, ok := ictx.Property(invocationIDKey{})
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}
