// Package timeout races connector calls against a sleep and turns a lost
// race into a typed timeout error.
package timeout

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ambiyansyah-risyal/clientrt/clock"
	"github.com/ambiyansyah-risyal/clientrt/types"
)

// Phase labels carried by HTTPTimeoutError.
const (
	KindConnect   = "HTTP connect"
	KindRead      = "HTTP read"
	KindOperation = "API call (all attempts including retries)"
	KindAttempt   = "API call (single attempt)"
)

// Service is anything that turns a request into a response, honouring ctx.
type Service[Req, Resp any] interface {
	Call(ctx context.Context, req Req) (Resp, error)
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Call calls f(ctx, req).
func (f ServiceFunc[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// Config enables a timeout. A nil Sleeper uses clock.SystemSleeper.
type Config struct {
	Sleeper  clock.Sleeper
	Duration time.Duration
}

// NewConfig returns a Config for d, or nil when d is nil.
func NewConfig(sleeper clock.Sleeper, d *time.Duration) *Config {
	if d == nil {
		return nil
	}
	return &Config{Sleeper: sleeper, Duration: *d}
}

// HTTPTimeoutError reports that a phase did not finish in time. It unwraps
// to types.ErrTimedOut.
type HTTPTimeoutError struct {
	Kind     string
	Duration time.Duration
}

// Error implements error interface.
func (e *HTTPTimeoutError) Error() string {
	return fmt.Sprintf("%s timeout occurred after %s", e.Kind, e.Duration)
}

// Unwrap returns types.ErrTimedOut.
func (e *HTTPTimeoutError) Unwrap() error { return types.ErrTimedOut }

// Wrapped is a Service bounded by a timeout.
type Wrapped[Req, Resp any] struct {
	inner Service[Req, Resp]
	kind  string
	cfg   *Config
}

// New wraps inner with a timeout labelled kind. A nil cfg disables the
// timeout and calls inner directly.
func New[Req, Resp any](kind string, inner Service[Req, Resp], cfg *Config) *Wrapped[Req, Resp] {
	return &Wrapped[Req, Resp]{inner: inner, kind: kind, cfg: cfg}
}

// NewConnectTimeout bounds the connect phase.
func NewConnectTimeout[Req, Resp any](inner Service[Req, Resp], cfg *Config) *Wrapped[Req, Resp] {
	return New(KindConnect, inner, cfg)
}

// NewReadTimeout bounds the whole HTTP exchange up to the response head.
func NewReadTimeout[Req, Resp any](inner Service[Req, Resp], cfg *Config) *Wrapped[Req, Resp] {
	return New(KindRead, inner, cfg)
}

// Enabled reports whether calls are raced against a timeout.
func (w *Wrapped[Req, Resp]) Enabled() bool { return w.cfg != nil }

type result[Resp any] struct {
	resp Resp
	err  error
}

// Release ends the context a finished call ran under. It is safe to call
// more than once.
type Release func()

func noRelease() {}

// Call runs the inner service. With a timeout configured, the inner call and
// the sleep race on separate goroutines. A lost race cancels the inner call
// and closes whatever it returns late. A won race keeps the call context
// alive until the body of a returned *http.Response is closed.
func (w *Wrapped[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	if w.cfg == nil {
		return w.inner.Call(ctx, req)
	}
	resp, release, err := race(ctx, w.kind, w.cfg, false, func(ctx context.Context) (Resp, error) {
		return w.inner.Call(ctx, req)
	})
	if err != nil {
		release()
		return resp, err
	}
	if r, ok := any(resp).(*http.Response); ok {
		ReleaseOnClose(r, release)
	} else {
		release()
	}
	return resp, nil
}

// Run bounds fn with a timeout labelled kind. A nil cfg calls fn directly.
// Unlike Wrapped.Call, Run does not return until fn has returned, so fn may
// share unsynchronized state with the caller. When fn wins, the context it
// ran under stays live until release is called.
func Run[T any](ctx context.Context, kind string, cfg *Config, fn func(ctx context.Context) (T, error)) (T, Release, error) {
	if cfg == nil {
		out, err := fn(ctx)
		return out, noRelease, err
	}
	return race(ctx, kind, cfg, true, fn)
}

// ReleaseOnClose defers release until the body of resp is closed. Without a
// body, release runs immediately.
func ReleaseOnClose(resp *http.Response, release Release) {
	if resp == nil || resp.Body == nil {
		release()
		return
	}
	resp.Body = &releaseBody{ReadCloser: resp.Body, release: release}
}

type releaseBody struct {
	io.ReadCloser
	release Release
}

func (b *releaseBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

func race[T any](ctx context.Context, kind string, cfg *Config, wait bool, fn func(ctx context.Context) (T, error)) (T, Release, error) {
	sleeper := cfg.Sleeper
	if sleeper == nil {
		sleeper = clock.SystemSleeper()
	}

	// The call context outlives a won race: a response body may still be
	// reading from it. Only the sleep is stopped on return.
	callCtx, cancelCall := context.WithCancel(ctx)
	sleepCtx, stopSleep := context.WithCancel(ctx)
	defer stopSleep()

	done := make(chan result[T], 1)
	go func() {
		resp, err := fn(callCtx)
		done <- result[T]{resp: resp, err: err}
	}()

	slept := make(chan error, 1)
	go func() {
		slept <- sleeper.Sleep(sleepCtx, cfg.Duration)
	}()

	var zero T
	var lost error
	select {
	case r := <-done:
		return r.resp, Release(cancelCall), r.err
	case err := <-slept:
		switch {
		case err == nil:
			lost = &HTTPTimeoutError{Kind: kind, Duration: cfg.Duration}
		case ctx.Err() != nil:
			// The caller gave up before the timeout fired.
			lost = ctx.Err()
		default:
			lost = err
		}
	case <-ctx.Done():
		lost = ctx.Err()
	}

	cancelCall()
	if wait {
		<-done
	} else {
		go func() {
			if r := <-done; r.err == nil {
				closeLate(r.resp)
			}
		}()
	}
	return zero, noRelease, lost
}

// closeLate releases a result nobody is waiting for any more.
func closeLate(v any) {
	switch r := v.(type) {
	case *http.Response:
		if r != nil && r.Body != nil {
			r.Body.Close()
		}
	case io.Closer:
		r.Close()
	}
}
