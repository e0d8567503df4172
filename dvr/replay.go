package dvr

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ambiyansyah-risyal/clientrt/transport"
)

// ErrNoMoreData is returned when a connection runs out of scripted events.
var ErrNoMoreData = errors.New("No more data")

// ErrBodyAborted is returned by a replayed body recorded with a failed end.
var ErrBodyAborted = errors.New("dvr: recorded body ended with an error")

// MediaType selects how FullValidate compares bodies.
type MediaType string

const (
	MediaTypeJSON       MediaType = "application/json"
	MediaTypeXML        MediaType = "application/xml"
	MediaTypeURLEncoded MediaType = "application/x-www-form-urlencoded"
)

// RecordedRequest is a request as the client under test sent it.
type RecordedRequest struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   []byte
}

// BodyComparer reports why actual does not match expected.
type BodyComparer func(expected, actual []byte) error

// ReplayingConnection serves recorded traffic. Calls are matched to
// recorded connections in order: the n-th call replays connection id n.
type ReplayingConnection struct {
	mu       sync.Mutex
	live     map[ConnectionID][]Event
	recorded map[ConnectionID]RecordedRequest
	expected map[ConnectionID]RecordedRequest
	nextID   atomic.Int64
}

// NewReplayingConnection replays events.
func NewReplayingConnection(events []Event) (*ReplayingConnection, error) {
	live := groupByConnection(events)
	expected, err := RecordedRequests(events)
	if err != nil {
		return nil, err
	}
	return &ReplayingConnection{
		live:     live,
		recorded: make(map[ConnectionID]RecordedRequest),
		expected: expected,
	}, nil
}

func groupByConnection(events []Event) map[ConnectionID][]Event {
	live := make(map[ConnectionID][]Event)
	for _, e := range events {
		live[e.ConnectionID] = append(live[e.ConnectionID], e)
	}
	return live
}

// RecordedRequests rebuilds the request of every connection in events.
func RecordedRequests(events []Event) (map[ConnectionID]RecordedRequest, error) {
	live := groupByConnection(events)
	out := make(map[ConnectionID]RecordedRequest, len(live))
	for id, evs := range live {
		first := evs[0].Action.Request
		if first == nil {
			return nil, fmt.Errorf("dvr: connection %d does not start with a request", id)
		}
		u, err := url.Parse(first.Request.URI)
		if err != nil {
			return nil, fmt.Errorf("dvr: connection %d: %w", id, err)
		}
		var body []byte
		for _, e := range evs {
			if d := e.Action.Data; d != nil && d.Direction == DirectionRequest {
				body = append(body, d.Data.raw...)
			}
		}
		out[id] = RecordedRequest{
			Method: first.Request.Method,
			URL:    u,
			Header: mapToHeaders(first.Request.Headers),
			Body:   body,
		}
	}
	return out, nil
}

// HTTPRequest builds a request that sends r again.
func (r RecordedRequest) HTTPRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL.String(), bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}
	if h := r.Header.Clone(); h != nil {
		req.Header = h
	}
	return req, nil
}

// FromFile replays the recording stored at path.
func FromFile(path string) (*ReplayingConnection, error) {
	traffic, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewReplayingConnection(traffic.Events)
}

// LoadFile reads a recording.
func LoadFile(path string) (NetworkTraffic, error) {
	var traffic NetworkTraffic
	b, err := os.ReadFile(path)
	if err != nil {
		return traffic, err
	}
	if err := json.Unmarshal(b, &traffic); err != nil {
		return traffic, fmt.Errorf("dvr: parse %s: %w", path, err)
	}
	return traffic, nil
}

// Call implements transport.Connector.
func (c *ReplayingConnection) Call(ctx context.Context, req *http.Request) (*http.Response, error) {
	id := ConnectionID(c.nextID.Add(1) - 1)

	c.mu.Lock()
	events, ok := c.live[id]
	delete(c.live, id)
	c.mu.Unlock()
	if !ok {
		return nil, transport.OtherError(fmt.Errorf("no data for event %d. req: %s %s", id, req.Method, req.URL), nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, transport.ClassifyError(err)
	}

	live, err := readRequest(req)
	if err != nil {
		return nil, transport.IOError(err)
	}
	c.mu.Lock()
	c.recorded[id] = live
	c.mu.Unlock()

	for i := 1; i < len(events); i++ {
		a := events[i].Action
		switch {
		case a.Data != nil && a.Data.Direction == DirectionRequest,
			a.Eof != nil && a.Eof.Direction == DirectionRequest:
			continue
		case a.Response != nil && a.Response.Response.Err != nil:
			return nil, transport.OtherError(errors.New(*a.Response.Response.Err), nil)
		case a.Response != nil:
			return synthesize(req, *a.Response.Response.Ok, events[i+1:]), nil
		default:
			return nil, transport.OtherError(fmt.Errorf("dvr: connection %d: unexpected %s event before the response", id, a.Kind()), nil)
		}
	}
	return nil, transport.OtherError(ErrNoMoreData, nil)
}

func readRequest(req *http.Request) (RecordedRequest, error) {
	rec := RecordedRequest{
		Method: req.Method,
		URL:    req.URL,
		Header: req.Header.Clone(),
	}
	if req.Body == nil || req.Body == http.NoBody {
		return rec, nil
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	rec.Body = body
	return rec, err
}

func synthesize(req *http.Request, head Response, rest []Event) *http.Response {
	body := &chunkBody{}
loop:
	for _, e := range rest {
		switch a := e.Action; {
		case a.Data != nil && a.Data.Direction == DirectionResponse:
			body.chunks = append(body.chunks, a.Data.Data.Bytes())
		case a.Eof != nil && a.Eof.Direction == DirectionResponse:
			if !a.Eof.Ok {
				body.err = ErrBodyAborted
			}
			break loop
		}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", head.Status, http.StatusText(head.Status)),
		StatusCode:    head.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        mapToHeaders(head.Headers),
		Body:          body,
		ContentLength: -1,
		Request:       req,
	}
}

// TakeRequests returns the requests received so far, ordered by connection
// id, and forgets them.
func (c *ReplayingConnection) TakeRequests() []RecordedRequest {
	c.mu.Lock()
	recorded := c.recorded
	c.recorded = make(map[ConnectionID]RecordedRequest)
	c.mu.Unlock()

	ids := make([]int, 0, len(recorded))
	for id := range recorded {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	out := make([]RecordedRequest, 0, len(ids))
	for _, id := range ids {
		out = append(out, recorded[ConnectionID(id)])
	}
	return out
}

// Validate checks every received request against the recording: the URI,
// the body through bodyComparer, and the headers named in checkedHeaders.
// The received requests are consumed.
func (c *ReplayingConnection) Validate(checkedHeaders []string, bodyComparer BodyComparer) error {
	return c.validate(checkedHeaders, true, bodyComparer)
}

// FullValidate checks every header and compares bodies as mediaType.
func (c *ReplayingConnection) FullValidate(mediaType MediaType) error {
	return c.validate(nil, false, MediaTypeComparer(mediaType))
}

func (c *ReplayingConnection) validate(checked []string, filter bool, compare BodyComparer) error {
	c.mu.Lock()
	actual := c.recorded
	c.recorded = make(map[ConnectionID]RecordedRequest)
	c.mu.Unlock()

	for i := 0; i < len(c.expected); i++ {
		id := ConnectionID(i)
		want, ok := c.expected[id]
		if !ok {
			return fmt.Errorf("dvr: recording has no connection %d", id)
		}
		got, ok := actual[id]
		if !ok {
			return fmt.Errorf("expected connection %d but request was never sent", id)
		}
		if err := compareURIs(want.URL, got.URL); err != nil {
			return fmt.Errorf("event %d validation failed with: %w", id, err)
		}
		if err := compare(want.Body, got.Body); err != nil {
			return fmt.Errorf("event %d validation failed with: %w", id, err)
		}
		if err := compareHeaders(want.Header, got.Header, checked, filter); err != nil {
			return fmt.Errorf("event %d validation failed with: %w", id, err)
		}
	}
	return nil
}

func compareURIs(want, got *url.URL) error {
	if want.Scheme != got.Scheme || want.Host != got.Host || strings.TrimSuffix(want.Path, "/") != strings.TrimSuffix(got.Path, "/") {
		return fmt.Errorf("uri mismatch: expected %s, got %s", want, got)
	}
	if !reflect.DeepEqual(want.Query(), got.Query()) {
		return fmt.Errorf("query mismatch: expected %q, got %q", want.RawQuery, got.RawQuery)
	}
	return nil
}

func compareHeaders(want, got http.Header, checked []string, filter bool) error {
	allowed := make(map[string]struct{}, len(checked))
	for _, name := range checked {
		allowed[http.CanonicalHeaderKey(name)] = struct{}{}
	}
	names := make([]string, 0, len(want))
	for name := range want {
		if _, ok := allowed[name]; filter && !ok {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		expected := strings.Join(want.Values(name), ", ")
		values := got.Values(name)
		if len(values) == 0 {
			return fmt.Errorf("missing header %q", strings.ToLower(name))
		}
		if actual := strings.Join(values, ", "); actual != expected {
			return fmt.Errorf("header %q: expected %q, got %q", strings.ToLower(name), expected, actual)
		}
	}
	return nil
}

// MediaTypeComparer compares JSON and XML semantically, form bodies as
// parameter sets, and anything else byte for byte.
func MediaTypeComparer(mediaType MediaType) BodyComparer {
	mt := strings.ToLower(string(mediaType))
	switch {
	case strings.Contains(mt, "json"):
		return compareJSON
	case strings.Contains(mt, "x-www-form-urlencoded"):
		return compareForm
	case strings.Contains(mt, "xml"):
		return compareXML
	default:
		return CompareBytes
	}
}

// CompareBytes requires identical bodies.
func CompareBytes(expected, actual []byte) error {
	if !bytes.Equal(expected, actual) {
		return fmt.Errorf("body mismatch: expected %q, got %q", expected, actual)
	}
	return nil
}

func compareJSON(expected, actual []byte) error {
	if len(bytes.TrimSpace(expected)) == 0 && len(bytes.TrimSpace(actual)) == 0 {
		return nil
	}
	var want, got any
	if err := json.Unmarshal(expected, &want); err != nil {
		return fmt.Errorf("expected body is not JSON: %w", err)
	}
	if err := json.Unmarshal(actual, &got); err != nil {
		return fmt.Errorf("actual body is not JSON: %w", err)
	}
	if !reflect.DeepEqual(want, got) {
		return fmt.Errorf("JSON body mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

func compareForm(expected, actual []byte) error {
	want, err := url.ParseQuery(string(expected))
	if err != nil {
		return fmt.Errorf("expected body is not form encoded: %w", err)
	}
	got, err := url.ParseQuery(string(actual))
	if err != nil {
		return fmt.Errorf("actual body is not form encoded: %w", err)
	}
	if !reflect.DeepEqual(want, got) {
		return fmt.Errorf("form body mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

func compareXML(expected, actual []byte) error {
	want, err := canonicalXML(expected)
	if err != nil {
		return fmt.Errorf("expected body is not XML: %w", err)
	}
	got, err := canonicalXML(actual)
	if err != nil {
		return fmt.Errorf("actual body is not XML: %w", err)
	}
	if want != got {
		return fmt.Errorf("XML body mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// canonicalXML renders the element tree of body with attributes sorted and
// whitespace-only text, comments and processing instructions dropped.
func canonicalXML(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			attrs := slices.Clone(t.Attr)
			slices.SortFunc(attrs, func(x, y xml.Attr) int {
				if c := strings.Compare(x.Name.Space, y.Name.Space); c != 0 {
					return c
				}
				return strings.Compare(x.Name.Local, y.Name.Local)
			})
			b.WriteString("<" + xmlName(t.Name))
			for _, a := range attrs {
				fmt.Fprintf(&b, " %s=%q", xmlName(a.Name), a.Value)
			}
			b.WriteString(">")
		case xml.EndElement:
			b.WriteString("</" + xmlName(t.Name) + ">")
		case xml.CharData:
			if text := strings.TrimSpace(string(t)); text != "" {
				fmt.Fprintf(&b, "%q", text)
			}
		}
	}
}

func xmlName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return "{" + n.Space + "}" + n.Local
}
