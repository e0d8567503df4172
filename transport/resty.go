package transport

import (
	"context"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// RestyConnector dispatches requests through a resty client. Resty's own
// retry machinery is left off; retries are owned by the runtime.
type RestyConnector struct {
	client *resty.Client
}

// NewRestyConnector wraps client. A nil client gets resty.New() with retries
// and redirects disabled.
func NewRestyConnector(client *resty.Client) *RestyConnector {
	if client == nil {
		client = resty.New().
			SetRetryCount(0).
			SetRedirectPolicy(resty.NoRedirectPolicy())
	}
	return &RestyConnector{client: client}
}

// Call sends req through resty and returns the raw, unparsed response.
func (c *RestyConnector) Call(ctx context.Context, req *http.Request) (*http.Response, error) {
	r := c.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeaderMultiValues(req.Header)
	if req.Body != nil && req.Body != http.NoBody {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(req.Method, req.URL.String())
	if err != nil {
		if resp != nil && resp.RawBody() != nil {
			resp.RawBody().Close()
		}
		return nil, ClassifyError(err)
	}
	return resp.RawResponse, nil
}
