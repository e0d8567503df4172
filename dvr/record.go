package dvr

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ambiyansyah-risyal/clientrt/transport"
)

const recordDocs = "recorded by clientrt"

// RecordingConnection forwards calls to an inner connector and records the
// traffic. It is safe for concurrent use; every call gets its own
// connection id.
type RecordingConnection struct {
	inner   transport.Connector
	mu      sync.Mutex
	events  []Event
	nextID  atomic.Int64
	bufSize int
}

// NewRecordingConnection records the traffic of inner.
func NewRecordingConnection(inner transport.Connector) *RecordingConnection {
	return &RecordingConnection{inner: inner, bufSize: 32 * 1024}
}

var (
	httpsOnce      sync.Once
	httpsTransport *http.Transport
)

func sharedHTTPSTransport() *http.Transport {
	httpsOnce.Do(func() {
		t := transport.DefaultTransport()
		t.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		httpsTransport = t
	})
	return httpsTransport
}

// NewHTTPSRecordingConnection records real HTTPS traffic. Every connection
// created this way shares one process wide transport.
func NewHTTPSRecordingConnection() *RecordingConnection {
	return NewRecordingConnection(transport.NewHTTPConnectorWithTransport(sharedHTTPSTransport()))
}

func (c *RecordingConnection) push(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (c *RecordingConnection) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// NetworkTraffic returns the recording in file form.
func (c *RecordingConnection) NetworkTraffic() NetworkTraffic {
	docs := recordDocs
	return NetworkTraffic{Events: c.Events(), Docs: &docs, Version: V0}
}

// DumpToFile writes the recording to path as JSON.
func (c *RecordingConnection) DumpToFile(path string) error {
	b, err := json.Marshal(c.NetworkTraffic())
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Call implements transport.Connector.
func (c *RecordingConnection) Call(ctx context.Context, req *http.Request) (*http.Response, error) {
	id := ConnectionID(c.nextID.Add(1) - 1)
	c.push(requestEvent(id, requestFromHTTP(req)))

	var body *recordingBody
	if req.Body == nil || req.Body == http.NoBody {
		c.push(eofEvent(id, true, DirectionRequest))
	} else {
		body = &recordingBody{rc: req.Body, conn: c, id: id}
		recorded := req.Clone(ctx)
		recorded.Body = body
		recorded.GetBody = nil
		req = recorded
	}

	resp, err := c.inner.Call(ctx, req)
	if err != nil {
		if body != nil {
			body.finish(false)
		}
		c.push(responseErrorEvent(id, err.Error()))
		return nil, err
	}
	c.push(responseEvent(id, responseFromHTTP(resp)))
	resp.Body = c.pump(id, resp.Body)
	return resp, nil
}

// pump drains body on the calling goroutine, recording each chunk, and
// returns a body that replays the same bytes and the same terminal error.
func (c *RecordingConnection) pump(id ConnectionID, body io.ReadCloser) io.ReadCloser {
	if body == nil {
		c.push(eofEvent(id, true, DirectionResponse))
		return http.NoBody
	}
	defer body.Close()

	var chunks [][]byte
	buf := make([]byte, c.bufSize)
	var readErr error
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			chunks = append(chunks, chunk)
			c.push(dataEvent(id, chunk, DirectionResponse))
		}
		if errors.Is(err, io.EOF) {
			c.push(eofEvent(id, true, DirectionResponse))
			break
		}
		if err != nil {
			c.push(eofEvent(id, false, DirectionResponse))
			readErr = err
			break
		}
	}
	return &chunkBody{chunks: chunks, err: readErr}
}

// recordingBody records request body chunks as the connector reads them.
// The request Eof is recorded exactly once: on the first read error, or as
// failed when the body is closed or abandoned before that.
type recordingBody struct {
	rc   io.ReadCloser
	conn *RecordingConnection
	id   ConnectionID
	done atomic.Bool
}

func (b *recordingBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.conn.push(dataEvent(b.id, p[:n], DirectionRequest))
	}
	if err != nil {
		b.finish(errors.Is(err, io.EOF))
	}
	return n, err
}

func (b *recordingBody) finish(ok bool) {
	if b.done.CompareAndSwap(false, true) {
		b.conn.push(eofEvent(b.id, ok, DirectionRequest))
	}
}

func (b *recordingBody) Close() error {
	b.finish(false)
	return b.rc.Close()
}

// chunkBody yields one chunk per Read, then err or io.EOF.
type chunkBody struct {
	chunks [][]byte
	err    error
	closed bool
}

func (b *chunkBody) Read(p []byte) (int, error) {
	if b.closed {
		return 0, errors.New("dvr: read on closed body")
	}
	for len(b.chunks) > 0 {
		if len(b.chunks[0]) == 0 {
			b.chunks = b.chunks[1:]
			continue
		}
		n := copy(p, b.chunks[0])
		b.chunks[0] = b.chunks[0][n:]
		if len(b.chunks[0]) == 0 {
			b.chunks = b.chunks[1:]
		}
		return n, nil
	}
	if b.err != nil {
		return 0, b.err
	}
	return 0, io.EOF
}

func (b *chunkBody) Close() error {
	b.closed = true
	return nil
}
