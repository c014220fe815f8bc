// Package upstream provides the HTTP client for the remote HuntIQ API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/steeveross-eng/huntiq-sync/internal/store"
)

// maxResponseBytes bounds how much of an upstream response body is read when
// scanning for alerts.
const maxResponseBytes = 1 << 20

// DefaultTimeout is the request timeout when no HTTP client is supplied. The
// worker loop blocks on in-flight requests, so the client must never hang on
// a dead connection indefinitely.
const DefaultTimeout = 30 * time.Second

// ProximityAlert is a transient alert produced by the remote API when a
// submitted location is near a known waypoint. It is consumed immediately by
// the notification pipeline and never persisted.
type ProximityAlert struct {
	WaypointID     string `json:"waypoint_id"`
	WaypointName   string `json:"waypoint_name"`
	Classification string `json:"classification"`
	Message        string `json:"message"`
}

// IsHotspot reports whether the alert is classified as a high-priority
// hotspot event.
func (a ProximityAlert) IsHotspot() bool {
	return strings.EqualFold(a.Classification, "hotspot")
}

// TransportError wraps a network-level failure: the request never produced a
// response. Writes failing this way are queueable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError indicates the server answered with a non-2xx status. It is a
// rejection, not a connectivity failure, and is also retried by the outbox
// because transient 5xx responses recover on later passes.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// IsQueueable reports whether a failed write should be captured in the
// durable outbox for later replay.
func IsQueueable(err error) bool {
	var te *TransportError
	var se *StatusError
	return errors.As(err, &te) || errors.As(err, &se)
}

// Client talks to the remote HuntIQ API.
type Client struct {
	baseURL       *url.URL
	locationsPath string
	httpClient    *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLocationsPath overrides the location samples endpoint path.
func WithLocationsPath(path string) Option {
	return func(c *Client) {
		c.locationsPath = path
	}
}

// NewClient creates a client for the given API origin.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("base URL must be absolute, got %q", baseURL)
	}

	c := &Client{
		baseURL:       parsed,
		locationsPath: "/api/locations",
		httpClient:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured API origin.
func (c *Client) BaseURL() *url.URL {
	return c.baseURL
}

// PostLocation submits one location sample and returns any proximity alerts
// carried by the response.
func (c *Client) PostLocation(ctx context.Context, sample store.LocationSample) ([]ProximityAlert, error) {
	body, err := json.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("encode location sample: %w", err)
	}

	endpoint := c.baseURL.JoinPath(c.locationsPath).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build location request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// Replay re-issues a captured pending action exactly as it was enqueued and
// returns any proximity alerts carried by the response.
func (c *Client) Replay(ctx context.Context, action store.PendingAction) ([]ProximityAlert, error) {
	target, err := c.resolveActionURL(action.URL)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if len(action.Body) > 0 {
		reader = bytes.NewReader(action.Body)
	}
	req, err := http.NewRequestWithContext(ctx, action.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build replay request: %w", err)
	}
	if action.ContentType != "" {
		req.Header.Set("Content-Type", action.ContentType)
	}

	return c.do(req)
}

// resolveActionURL accepts either an absolute URL captured at enqueue time
// or a bare path, which is resolved against the configured origin.
func (c *Client) resolveActionURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse action url %q: %w", raw, err)
	}
	if parsed.IsAbs() {
		return raw, nil
	}
	return c.baseURL.ResolveReference(parsed).String(), nil
}

func (c *Client) do(req *http.Request) ([]ProximityAlert, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	return extractAlerts(body), nil
}

// extractAlerts pulls the optional alerts array out of a response body. The
// body may have any shape; anything without a well-formed alerts array
// yields no alerts.
func extractAlerts(body []byte) []ProximityAlert {
	result := gjson.GetBytes(body, "alerts")
	if !result.Exists() || !result.IsArray() {
		return nil
	}

	var alerts []ProximityAlert
	result.ForEach(func(_, value gjson.Result) bool {
		alerts = append(alerts, ProximityAlert{
			WaypointID:     value.Get("waypoint_id").String(),
			WaypointName:   value.Get("waypoint_name").String(),
			Classification: value.Get("classification").String(),
			Message:        value.Get("message").String(),
		})
		return true
	})
	return alerts
}
