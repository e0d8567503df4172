package dvr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ambiyansyah-risyal/clientrt/transport"
)

func loadExample(t *testing.T) NetworkTraffic {
	t.Helper()
	traffic, err := LoadFile(filepath.Join("testdata", "example.com.json"))
	require.NoError(t, err)
	return traffic
}

func TestTurtlesAllTheWayDown(t *testing.T) {
	traffic := loadExample(t)
	inner, err := NewReplayingConnection(traffic.Events)
	require.NoError(t, err)
	conn := NewRecordingConnection(inner)

	req, err := http.NewRequest(http.MethodPost, "https://www.example.com", strings.NewReader("hello world"))
	require.NoError(t, err)
	resp, err := conn.Call(context.Background(), req)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello from example.com", string(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))

	assert.Equal(t, traffic.Events, conn.Events())

	requests := inner.TakeRequests()
	require.Len(t, requests, 1)
	assert.Equal(t, "https://www.example.com", requests[0].URL.String())
	assert.Equal(t, []byte("hello world"), requests[0].Body)
	assert.Empty(t, inner.TakeRequests())
}

func TestReplayRunsOutOfConnections(t *testing.T) {
	inner, err := NewReplayingConnection(loadExample(t).Events)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodPost, "https://www.example.com", strings.NewReader("hello world"))
		resp, err := inner.Call(context.Background(), req)
		if i == 0 {
			require.NoError(t, err)
			resp.Body.Close()
			continue
		}
		var connErr *transport.ConnectorError
		require.ErrorAs(t, err, &connErr)
		assert.ErrorContains(t, err, "no data for event 1")
	}
}

func TestReplayRunsOutOfEvents(t *testing.T) {
	events := []Event{
		requestEvent(0, Request{URI: "https://example.com", Headers: map[string][]string{}, Method: "GET"}),
		eofEvent(0, true, DirectionRequest),
	}
	inner, err := NewReplayingConnection(events)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	_, err = inner.Call(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoMoreData)
	assert.ErrorContains(t, err, "No more data")
}

func TestReplayRecordedError(t *testing.T) {
	events := []Event{
		requestEvent(0, Request{URI: "https://example.com", Headers: map[string][]string{}, Method: "GET"}),
		eofEvent(0, true, DirectionRequest),
		responseErrorEvent(0, "dispatch failure"),
	}
	inner, err := NewReplayingConnection(events)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	_, err = inner.Call(context.Background(), req)
	assert.ErrorContains(t, err, "dispatch failure")
}

func TestReplayAbortedBody(t *testing.T) {
	events := []Event{
		requestEvent(0, Request{URI: "https://example.com", Headers: map[string][]string{}, Method: "GET"}),
		eofEvent(0, true, DirectionRequest),
		responseEvent(0, Response{Status: 200, Headers: map[string][]string{}}),
		dataEvent(0, []byte("partial"), DirectionResponse),
		eofEvent(0, false, DirectionResponse),
	}
	inner, err := NewReplayingConnection(events)
	require.NoError(t, err)
	conn := NewRecordingConnection(inner)

	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	resp, err := conn.Call(context.Background(), req)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	assert.ErrorIs(t, err, ErrBodyAborted)
	assert.Equal(t, "partial", string(body))
	assert.Equal(t, events, conn.Events())
}

func TestReplayRejectsEventsOutOfOrder(t *testing.T) {
	_, err := NewReplayingConnection([]Event{eofEvent(0, true, DirectionRequest)})
	assert.Error(t, err)

	inner, err := NewReplayingConnection([]Event{
		requestEvent(0, Request{URI: "https://example.com", Headers: map[string][]string{}, Method: "GET"}),
		dataEvent(0, []byte("early"), DirectionResponse),
	})
	require.NoError(t, err)
	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	_, err = inner.Call(context.Background(), req)
	assert.ErrorContains(t, err, "unexpected Data event")
}

func jsonRecording(body string, headers map[string][]string) []Event {
	return []Event{
		requestEvent(0, Request{URI: "https://api.example.com/items?b=2&a=1", Headers: headers, Method: "PUT"}),
		dataEvent(0, []byte(body), DirectionRequest),
		eofEvent(0, true, DirectionRequest),
		responseEvent(0, Response{Status: 204, Headers: map[string][]string{}}),
		eofEvent(0, true, DirectionResponse),
	}
}

func sendJSON(t *testing.T, c transport.Connector, rawURL, body string, header http.Header) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, rawURL, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := c.Call(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestFullValidate(t *testing.T) {
	headers := map[string][]string{"content-type": {"application/json"}, "x-amz-target": {"Items.Put"}}

	t.Run("semantic JSON match", func(t *testing.T) {
		inner, err := NewReplayingConnection(jsonRecording(`{"a":1,"b":[1,2]}`, headers))
		require.NoError(t, err)
		sendJSON(t, inner, "https://api.example.com/items?a=1&b=2", `{ "b": [1, 2], "a": 1 }`,
			http.Header{"Content-Type": {"application/json"}, "X-Amz-Target": {"Items.Put"}, "X-Extra": {"ignored"}})
		assert.NoError(t, inner.FullValidate(MediaTypeJSON))
	})

	t.Run("body mismatch", func(t *testing.T) {
		inner, err := NewReplayingConnection(jsonRecording(`{"a":1}`, headers))
		require.NoError(t, err)
		sendJSON(t, inner, "https://api.example.com/items?a=1&b=2", `{"a":2}`,
			http.Header{"Content-Type": {"application/json"}, "X-Amz-Target": {"Items.Put"}})
		assert.ErrorContains(t, inner.FullValidate(MediaTypeJSON), "event 0 validation failed with")
	})

	t.Run("missing header", func(t *testing.T) {
		inner, err := NewReplayingConnection(jsonRecording(`{}`, headers))
		require.NoError(t, err)
		sendJSON(t, inner, "https://api.example.com/items?a=1&b=2", `{}`,
			http.Header{"Content-Type": {"application/json"}})
		assert.ErrorContains(t, inner.FullValidate(MediaTypeJSON), `missing header "x-amz-target"`)
	})

	t.Run("never sent", func(t *testing.T) {
		inner, err := NewReplayingConnection(jsonRecording(`{}`, headers))
		require.NoError(t, err)
		assert.EqualError(t, inner.FullValidate(MediaTypeJSON), "expected connection 0 but request was never sent")
	})
}

func TestValidateCheckedHeadersOnly(t *testing.T) {
	headers := map[string][]string{"content-type": {"application/json"}, "x-amz-date": {"20240101T000000Z"}}
	inner, err := NewReplayingConnection(jsonRecording("raw", headers))
	require.NoError(t, err)
	sendJSON(t, inner, "https://api.example.com/items?b=2&a=1", "raw",
		http.Header{"Content-Type": {"application/json"}, "X-Amz-Date": {"20250101T000000Z"}})

	assert.NoError(t, inner.Validate([]string{"content-type"}, CompareBytes))
}

func TestValidateURIMismatch(t *testing.T) {
	inner, err := NewReplayingConnection(jsonRecording("raw", map[string][]string{}))
	require.NoError(t, err)
	sendJSON(t, inner, "https://api.example.com/other?b=2&a=1", "raw", nil)

	assert.ErrorContains(t, inner.Validate(nil, CompareBytes), "uri mismatch")
}

func TestFormComparer(t *testing.T) {
	compare := MediaTypeComparer(MediaTypeURLEncoded)
	assert.NoError(t, compare([]byte("a=1&b=2"), []byte("b=2&a=1")))
	assert.Error(t, compare([]byte("a=1"), []byte("a=2")))
}

func TestXMLComparer(t *testing.T) {
	compare := MediaTypeComparer(MediaTypeXML)

	expected := []byte(`<?xml version="1.0"?>
<Item id="1" kind="widget">
  <Name>gear</Name>
  <!-- trailing comment -->
  <Tags/>
</Item>`)
	tests := []struct {
		name    string
		actual  string
		matches bool
	}{
		{"attribute order and indentation", `<Item kind="widget" id="1"><Name>gear</Name><Tags></Tags></Item>`, true},
		{"different text", `<Item id="1" kind="widget"><Name>cog</Name><Tags/></Item>`, false},
		{"different attribute", `<Item id="2" kind="widget"><Name>gear</Name><Tags/></Item>`, false},
		{"missing element", `<Item id="1" kind="widget"><Name>gear</Name></Item>`, false},
		{"not xml", `<Item id="1"`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := compare(expected, []byte(tt.actual))
			if tt.matches {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
	assert.NoError(t, MediaTypeComparer("text/xml")([]byte("<a/>"), []byte("<a></a>")))
}

func TestRecordAgainstServerConcurrently(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "%s %s", r.URL.Path, body)
	}))
	defer server.Close()

	conn := NewRecordingConnection(transport.NewHTTPConnector(nil))

	g, ctx := errgroup.WithContext(context.Background())
	const calls = 8
	for i := 0; i < calls; i++ {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/item/%d", server.URL, i), strings.NewReader("payload"))
			if err != nil {
				return err
			}
			resp, err := conn.Call(ctx, req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if want := fmt.Sprintf("/item/%d payload", i); string(body) != want {
				return errors.New("unexpected body " + string(body))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	byConn := make(map[ConnectionID][]Event)
	for _, e := range conn.Events() {
		byConn[e.ConnectionID] = append(byConn[e.ConnectionID], e)
	}
	require.Len(t, byConn, calls)
	for id, events := range byConn {
		require.NotEmpty(t, events)
		assert.NotNil(t, events[0].Action.Request, "connection %d", id)

		responseAt, eofAt := -1, -1
		for i, e := range events {
			if r := e.Action.Response; r != nil {
				responseAt = i
				require.NotNil(t, r.Response.Ok)
				assert.Equal(t, []string{"text/plain"}, r.Response.Ok.Headers["content-type"])
			}
			if eof := e.Action.Eof; eof != nil && eof.Direction == DirectionResponse {
				eofAt = i
				assert.True(t, eof.Ok)
			}
		}
		assert.GreaterOrEqual(t, responseAt, 1, "connection %d", id)
		assert.Greater(t, eofAt, responseAt, "connection %d", id)
	}
}

func TestDumpToFileAndReplay(t *testing.T) {
	inner, err := NewReplayingConnection(loadExample(t).Events)
	require.NoError(t, err)
	conn := NewRecordingConnection(inner)

	req, _ := http.NewRequest(http.MethodPost, "https://www.example.com", strings.NewReader("hello world"))
	resp, err := conn.Call(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()

	path := filepath.Join(t.TempDir(), "dump.json")
	require.NoError(t, conn.DumpToFile(path))

	traffic, err := LoadFile(path)
	require.NoError(t, err)
	require.NotNil(t, traffic.Docs)
	assert.Equal(t, "recorded by clientrt", *traffic.Docs)
	assert.Equal(t, V0, traffic.Version)
	assert.Equal(t, conn.Events(), traffic.Events)

	replay, err := FromFile(path)
	require.NoError(t, err)
	req, _ = http.NewRequest(http.MethodPost, "https://www.example.com", strings.NewReader("hello world"))
	resp, err = replay.Call(context.Background(), req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "hello from example.com", string(body))
	assert.NoError(t, replay.FullValidate("text/plain"))
}

func TestRecordConnectorError(t *testing.T) {
	failing := transport.ConnectorFunc(func(context.Context, *http.Request) (*http.Response, error) {
		return nil, transport.IOError(errors.New("connection reset"))
	})
	conn := NewRecordingConnection(failing)

	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	_, err := conn.Call(context.Background(), req)
	require.Error(t, err)

	events := conn.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "Request", events[0].Action.Kind())
	assert.Equal(t, "Eof", events[1].Action.Kind())
	require.NotNil(t, events[2].Action.Response.Response.Err)
	assert.Equal(t, "connector error (io): connection reset", *events[2].Action.Response.Response.Err)
}

func TestRecordConnectorErrorBeforeBodyRead(t *testing.T) {
	failing := transport.ConnectorFunc(func(context.Context, *http.Request) (*http.Response, error) {
		return nil, transport.IOError(errors.New("connection refused"))
	})
	conn := NewRecordingConnection(failing)

	req, _ := http.NewRequest(http.MethodPost, "https://example.com", strings.NewReader("payload"))
	_, err := conn.Call(context.Background(), req)
	require.Error(t, err)

	events := conn.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "Request", events[0].Action.Kind())
	require.NotNil(t, events[1].Action.Eof)
	assert.False(t, events[1].Action.Eof.Ok)
	assert.Equal(t, DirectionRequest, events[1].Action.Eof.Direction)
	assert.Equal(t, "Response", events[2].Action.Kind())
}

func TestRecordingBodyCloseEndsRequestOnce(t *testing.T) {
	conn := NewRecordingConnection(nil)
	body := &recordingBody{rc: io.NopCloser(strings.NewReader("ab")), conn: conn, id: 0}

	buf := make([]byte, 1)
	_, err := body.Read(buf)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	require.NoError(t, body.Close())

	events := conn.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "Data", events[0].Action.Kind())
	require.NotNil(t, events[1].Action.Eof)
	assert.False(t, events[1].Action.Eof.Ok)
}

func TestRecordedRequestsResend(t *testing.T) {
	traffic, err := LoadFile("testdata/example.com.json")
	require.NoError(t, err)

	reqs, err := RecordedRequests(traffic.Events)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "hello world", string(reqs[0].Body))

	replay, err := NewReplayingConnection(traffic.Events)
	require.NoError(t, err)
	req, err := reqs[0].HTTPRequest(context.Background())
	require.NoError(t, err)
	resp, err := replay.Call(context.Background(), req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello from example.com", string(body))
	assert.NoError(t, replay.FullValidate("text/plain"))
}
