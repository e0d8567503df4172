package timeout

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambiyansyah-risyal/clientrt/clock"
	"github.com/ambiyansyah-risyal/clientrt/transport"
	"github.com/ambiyansyah-risyal/clientrt/types"
)

// blockUntilCancelled never finishes on its own and reports when it saw
// its context cancelled.
func blockUntilCancelled(cancelled chan<- struct{}) ServiceFunc[string, string] {
	return func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		close(cancelled)
		return "", ctx.Err()
	}
}

func echo() ServiceFunc[string, string] {
	return func(_ context.Context, req string) (string, error) {
		return "echo " + req, nil
	}
}

func instant() clock.Sleeper {
	sleep, _ := clock.NewInstantSleep(time.Unix(0, 0))
	return sleep
}

func TestPassThroughWithoutConfig(t *testing.T) {
	svc := NewReadTimeout[string, string](echo(), nil)
	assert.False(t, svc.Enabled())

	resp, err := svc.Call(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo hi", resp)
}

func TestInnerWinsTheRace(t *testing.T) {
	svc := NewReadTimeout[string, string](echo(), &Config{Sleeper: clock.NeverSleep(), Duration: time.Second})
	assert.True(t, svc.Enabled())

	resp, err := svc.Call(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "echo hi", resp)
}

func TestInnerErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	inner := ServiceFunc[string, string](func(context.Context, string) (string, error) {
		return "", boom
	})
	svc := NewConnectTimeout[string, string](inner, &Config{Sleeper: clock.NeverSleep(), Duration: time.Second})

	_, err := svc.Call(context.Background(), "hi")
	assert.ErrorIs(t, err, boom)
	assert.False(t, types.IsTimeout(err))
}

func TestSleepWinsTheRace(t *testing.T) {
	tests := []struct {
		name    string
		build   func(Service[string, string], *Config) *Wrapped[string, string]
		message string
	}{
		{"connect", NewConnectTimeout[string, string], "HTTP connect timeout occurred after 250ms"},
		{"read", NewReadTimeout[string, string], "HTTP read timeout occurred after 250ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cancelled := make(chan struct{})
			svc := tt.build(blockUntilCancelled(cancelled), &Config{Sleeper: instant(), Duration: 250 * time.Millisecond})

			_, err := svc.Call(context.Background(), "hi")

			var timeoutErr *HTTPTimeoutError
			require.ErrorAs(t, err, &timeoutErr)
			assert.Equal(t, 250*time.Millisecond, timeoutErr.Duration)
			assert.EqualError(t, err, tt.message)
			assert.ErrorIs(t, err, types.ErrTimedOut)
			assert.True(t, types.IsTimeout(err))

			select {
			case <-cancelled:
			case <-time.After(time.Second):
				t.Fatal("inner call was not cancelled")
			}
		})
	}
}

func TestCallerCancellation(t *testing.T) {
	cancelled := make(chan struct{})
	svc := NewReadTimeout[string, string](blockUntilCancelled(cancelled), &Config{Sleeper: clock.NeverSleep(), Duration: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := svc.Call(ctx, "hi")
	assert.ErrorIs(t, err, context.Canceled)

	var timeoutErr *HTTPTimeoutError
	assert.False(t, errors.As(err, &timeoutErr))
	<-cancelled
}

func TestRunWaitsForLoser(t *testing.T) {
	var finished atomic.Bool
	_, _, err := Run(context.Background(), KindAttempt, &Config{Sleeper: instant(), Duration: time.Second},
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			time.Sleep(10 * time.Millisecond)
			finished.Store(true)
			return 0, ctx.Err()
		})

	assert.EqualError(t, err, "API call (single attempt) timeout occurred after 1s")
	assert.True(t, finished.Load())
}

func TestRunWithoutConfig(t *testing.T) {
	out, release, err := Run(context.Background(), KindOperation, nil, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, out)
	release()
}

func TestAPICallTimeouts(t *testing.T) {
	attempt := 50 * time.Millisecond
	timeouts := NewAPICallTimeouts(instant(), nil, &attempt)
	assert.Nil(t, timeouts.OperationTimeout)

	release, err := timeouts.RunOperation(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	release()

	_, err = timeouts.RunAttempt(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var timeoutErr *HTTPTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, KindAttempt, timeoutErr.Kind)
}

func TestSettingsWrapTimesOutSlowServer(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	connector := Settings{}.WithRead(20*time.Millisecond).Wrap(transport.NewHTTPConnector(nil), clock.SystemSleeper())

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	_, err = connector.Call(context.Background(), req)

	var connErr *transport.ConnectorError
	require.ErrorAs(t, err, &connErr)
	assert.True(t, connErr.IsTimeout())
	assert.ErrorIs(t, err, types.ErrTimedOut)
}

func TestSettingsWrapWithoutReadTimeout(t *testing.T) {
	inner := transport.ConnectorFunc(func(context.Context, *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusTeapot}, nil
	})
	wrapped := Settings{}.Wrap(inner, nil)

	resp, err := wrapped.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestSettingsDialContext(t *testing.T) {
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	bounded := Settings{}.WithConnect(100*time.Millisecond).DialContext(dial, instant())

	_, err := bounded(context.Background(), "tcp", "192.0.2.1:443")
	var timeoutErr *HTTPTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, KindConnect, timeoutErr.Kind)
}

func TestSettingsDialContextSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	dial := func(context.Context, string, string) (net.Conn, error) { return client, nil }

	bounded := Settings{}.WithConnect(time.Second).DialContext(dial, clock.NeverSleep())
	conn, err := bounded(context.Background(), "tcp", "example.com:443")
	require.NoError(t, err)
	assert.Same(t, client, conn)
	conn.Close()
}

func TestSettingsConnectorRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	connector := Settings{}.WithConnect(time.Second).WithRead(time.Second).Connector(clock.SystemSleeper())
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := connector.Call(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestSettingsConnectorStreamsBodyAfterCall(t *testing.T) {
	body := strings.Repeat("chunk", 1<<16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(20 * time.Millisecond)
		io.WriteString(w, body)
	}))
	defer server.Close()

	connector := Settings{}.WithRead(5 * time.Second).Connector(clock.SystemSleeper())
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := connector.Call(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

// ctxBody reports whether the context it was created with is done when the
// body is read.
type ctxBody struct {
	ctx    context.Context
	closed atomic.Bool
}

func (b *ctxBody) Read(p []byte) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	return 0, io.EOF
}

func (b *ctxBody) Close() error {
	b.closed.Store(true)
	return nil
}

func TestWonRaceReleasesContextOnBodyClose(t *testing.T) {
	var body *ctxBody
	inner := ServiceFunc[*http.Request, *http.Response](func(ctx context.Context, _ *http.Request) (*http.Response, error) {
		body = &ctxBody{ctx: ctx}
		return &http.Response{StatusCode: http.StatusOK, Body: body}, nil
	})
	svc := NewReadTimeout[*http.Request, *http.Response](inner, &Config{Sleeper: clock.NeverSleep(), Duration: time.Second})

	resp, err := svc.Call(context.Background(), nil)
	require.NoError(t, err)

	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NoError(t, body.ctx.Err())

	require.NoError(t, resp.Body.Close())
	assert.True(t, body.closed.Load())
	assert.ErrorIs(t, body.ctx.Err(), context.Canceled)
}

func TestLostRaceClosesLateResponse(t *testing.T) {
	body := &ctxBody{ctx: context.Background()}
	returned := make(chan struct{})
	inner := ServiceFunc[*http.Request, *http.Response](func(ctx context.Context, _ *http.Request) (*http.Response, error) {
		defer close(returned)
		<-ctx.Done()
		return &http.Response{StatusCode: http.StatusOK, Body: body}, nil
	})
	svc := NewReadTimeout[*http.Request, *http.Response](inner, &Config{Sleeper: instant(), Duration: time.Millisecond})

	_, err := svc.Call(context.Background(), nil)
	require.True(t, types.IsTimeout(err))

	<-returned
	assert.Eventually(t, body.closed.Load, time.Second, time.Millisecond)
}

func TestSettingsDialContextClosesLateConnection(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	proceed := make(chan struct{})
	dial := func(context.Context, string, string) (net.Conn, error) {
		<-proceed
		return client, nil
	}
	bounded := Settings{}.WithConnect(time.Millisecond).DialContext(dial, instant())

	_, err := bounded(context.Background(), "tcp", "example.com:443")
	var timeoutErr *HTTPTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	close(proceed)

	// Reading the far end of a closed pipe reports EOF.
	require.NoError(t, server.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = server.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestRunReleaseEndsContext(t *testing.T) {
	var callCtx context.Context
	_, release, err := Run(context.Background(), KindAttempt, &Config{Sleeper: clock.NeverSleep(), Duration: time.Second},
		func(ctx context.Context) (int, error) {
			callCtx = ctx
			return 1, nil
		})
	require.NoError(t, err)
	assert.NoError(t, callCtx.Err())

	release()
	assert.ErrorIs(t, callCtx.Err(), context.Canceled)
}

func TestReleaseOnCloseWithoutBody(t *testing.T) {
	var released atomic.Int32
	ReleaseOnClose(nil, func() { released.Add(1) })
	ReleaseOnClose(&http.Response{}, func() { released.Add(1) })
	assert.EqualValues(t, 2, released.Load())
}
