package timeout

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/ambiyansyah-risyal/clientrt/clock"
	"github.com/ambiyansyah-risyal/clientrt/transport"
)

// Settings are the connector level timeouts. A nil field disables that
// timeout.
type Settings struct {
	Connect *time.Duration
	Read    *time.Duration
}

// WithConnect returns a copy of s with the connect timeout set to d.
func (s Settings) WithConnect(d time.Duration) Settings {
	s.Connect = &d
	return s
}

// WithRead returns a copy of s with the read timeout set to d.
func (s Settings) WithRead(d time.Duration) Settings {
	s.Read = &d
	return s
}

// Wrap bounds every call of c by the read timeout. A timeout surfaces as a
// *transport.ConnectorError of kind timeout.
func (s Settings) Wrap(c transport.Connector, sleeper clock.Sleeper) transport.Connector {
	if s.Read == nil {
		return c
	}
	svc := NewReadTimeout[*http.Request, *http.Response](
		ServiceFunc[*http.Request, *http.Response](c.Call),
		NewConfig(sleeper, s.Read),
	)
	return transport.ConnectorFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		resp, err := svc.Call(ctx, req)
		var timeoutErr *HTTPTimeoutError
		if errors.As(err, &timeoutErr) {
			return nil, transport.TimeoutError(err)
		}
		return resp, err
	})
}

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type dialTarget struct {
	network string
	address string
}

// DialContext bounds dial by the connect timeout.
func (s Settings) DialContext(dial DialFunc, sleeper clock.Sleeper) DialFunc {
	if s.Connect == nil {
		return dial
	}
	svc := NewConnectTimeout[dialTarget, net.Conn](
		ServiceFunc[dialTarget, net.Conn](func(ctx context.Context, t dialTarget) (net.Conn, error) {
			return dial(ctx, t.network, t.address)
		}),
		NewConfig(sleeper, s.Connect),
	)
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		return svc.Call(ctx, dialTarget{network: network, address: address})
	}
}

// Transport returns transport.DefaultTransport with its dialer bounded by
// the connect timeout.
func (s Settings) Transport(sleeper clock.Sleeper) *http.Transport {
	t := transport.DefaultTransport()
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}
	t.DialContext = s.DialContext(dialer.DialContext, sleeper)
	return t
}

// Connector builds an HTTP connector honouring both timeouts.
func (s Settings) Connector(sleeper clock.Sleeper) transport.Connector {
	return s.Wrap(transport.NewHTTPConnectorWithTransport(s.Transport(sleeper)), sleeper)
}

// APICallTimeouts bound a whole operation and each of its attempts.
type APICallTimeouts struct {
	OperationTimeout *Config
	AttemptTimeout   *Config
}

// NewAPICallTimeouts returns timeouts for the given durations. A nil
// duration disables that timeout.
func NewAPICallTimeouts(sleeper clock.Sleeper, operation, attempt *time.Duration) APICallTimeouts {
	return APICallTimeouts{
		OperationTimeout: NewConfig(sleeper, operation),
		AttemptTimeout:   NewConfig(sleeper, attempt),
	}
}

// RunOperation bounds fn, which drives every attempt of an operation. The
// returned Release ends the context fn ran under; callers hand it to the
// response that outlives fn.
func (t APICallTimeouts) RunOperation(ctx context.Context, fn func(ctx context.Context) error) (Release, error) {
	_, release, err := Run(ctx, KindOperation, t.OperationTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return release, err
}

// RunAttempt bounds fn, which drives a single attempt.
func (t APICallTimeouts) RunAttempt(ctx context.Context, fn func(ctx context.Context) error) (Release, error) {
	_, release, err := Run(ctx, KindAttempt, t.AttemptTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return release, err
}
