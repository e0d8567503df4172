package transport

import (
	"context"
	"net/http"
	"time"
)

// HTTPConnector dispatches requests through a net/http client.
type HTTPConnector struct {
	client *http.Client
}

// NewHTTPConnector returns a connector backed by client. A nil client gets a
// dedicated client using http.DefaultTransport and no overall timeout, since
// timeouts belong to the runtime's timeout layers.
func NewHTTPConnector(client *http.Client) *HTTPConnector {
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport}
	}
	return &HTTPConnector{client: client}
}

// NewHTTPConnectorWithTransport returns a connector over rt that does not
// follow redirects, so callers see the raw service response.
func NewHTTPConnectorWithTransport(rt http.RoundTripper) *HTTPConnector {
	return NewHTTPConnector(&http.Client{
		Transport: rt,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	})
}

// Call sends req using ctx.
func (c *HTTPConnector) Call(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, ClassifyError(err)
	}
	return resp, nil
}

// DefaultTransport returns an http.Transport tuned for API clients.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
