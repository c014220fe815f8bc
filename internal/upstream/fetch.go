package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Response is a fully buffered upstream read response.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

// Fetch issues a GET for a path (with optional query) against the configured
// origin and returns the buffered response. A network-level failure yields a
// TransportError; non-2xx responses are returned as-is for the caller to
// interpret, since cache strategies treat them differently from transport
// failures.
func (c *Client) Fetch(ctx context.Context, pathAndQuery string, header http.Header) (*Response, error) {
	target, err := c.resolveActionURL(pathAndQuery)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}
	return &Response{Status: resp.StatusCode, Headers: headers, Body: body}, nil
}
