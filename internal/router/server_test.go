package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steeveross-eng/huntiq-sync/internal/bus"
	"github.com/steeveross-eng/huntiq-sync/internal/cache"
	"github.com/steeveross-eng/huntiq-sync/internal/store"
	"github.com/steeveross-eng/huntiq-sync/internal/upstream"
)

type gatewayHarness struct {
	origin  *httptest.Server
	gateway *httptest.Server
	bus     *bus.Bus
	store   *store.Store
}

// startGateway wires a gateway in front of a live origin with a real store
// and client, mirroring the serve command's assembly.
func startGateway(t *testing.T, originHandler http.Handler) *gatewayHarness {
	t.Helper()

	origin := httptest.NewServer(originHandler)
	t.Cleanup(origin.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, st.Close())
	})

	client, err := upstream.NewClient(origin.URL)
	require.NoError(t, err)

	manager, err := cache.NewManager(st, client, "v5", nil)
	require.NoError(t, err)

	messageBus := bus.New()
	t.Cleanup(messageBus.Close)

	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)

	handler := NewServer(manager, messageBus, st, originURL, []string{"/api/"})
	gateway := httptest.NewServer(handler)
	t.Cleanup(gateway.Close)

	return &gatewayHarness{origin: origin, gateway: gateway, bus: messageBus, store: st}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	h := startGateway(t, http.NotFoundHandler())

	resp, err := http.Get(h.gateway.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCommandEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantField  string
	}{
		{
			name:       "valid command is accepted",
			body:       `{"type":"START_TRACKING","interval":60000}`,
			wantStatus: http.StatusAccepted,
			wantField:  "accepted",
		},
		{
			name:       "unknown command is ignored",
			body:       `{"type":"SELF_DESTRUCT"}`,
			wantStatus: http.StatusAccepted,
			wantField:  "ignored",
		},
		{
			name:       "malformed json is rejected",
			body:       `{not json`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := startGateway(t, http.NotFoundHandler())

			resp, err := http.Post(h.gateway.URL+"/sync/commands", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantField != "" {
				var payload map[string]string
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
				assert.Equal(t, tt.wantField, payload["status"])
			}
		})
	}
}

func TestAcceptedCommandReachesWorkerChannel(t *testing.T) {
	t.Parallel()

	h := startGateway(t, http.NotFoundHandler())

	resp, err := http.Post(h.gateway.URL+"/sync/commands", "application/json",
		strings.NewReader(`{"type":"STOP_TRACKING"}`))
	require.NoError(t, err)
	resp.Body.Close()

	select {
	case cmd := <-h.bus.Commands():
		_, ok := cmd.(bus.StopTracking)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("command never reached the worker channel")
	}
}

func TestStatusEndpointRelaysWorkerReply(t *testing.T) {
	t.Parallel()

	h := startGateway(t, http.NotFoundHandler())

	// Impersonate the worker loop for one query.
	go func() {
		cmd := <-h.bus.Commands()
		check, ok := cmd.(bus.CheckTrackingStatus)
		if !ok {
			return
		}
		check.Reply <- bus.StatusReply{Tracking: true, Interval: time.Minute}
	}()

	resp, err := http.Get(h.gateway.URL + "/sync/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply bus.StatusReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.True(t, reply.Tracking)
	assert.Equal(t, time.Minute, reply.Interval)
}

func TestGatewayServesAPIRoutesNetworkFirst(t *testing.T) {
	t.Parallel()

	h := startGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/waypoints" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id":"wp-1"}]`))
			return
		}
		http.NotFound(w, r)
	}))

	// Live fetch.
	resp, err := http.Get(h.gateway.URL + "/api/waypoints")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[{"id":"wp-1"}]`, string(body))
	assert.Empty(t, resp.Header.Get("X-Served-From-Cache"))

	// Kill the origin: the snapshot is served stale and marked as such.
	h.origin.Close()
	resp, err = http.Get(h.gateway.URL + "/api/waypoints")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[{"id":"wp-1"}]`, string(body))
	assert.Equal(t, "true", resp.Header.Get("X-Served-From-Cache"))
}

func TestGatewayServesStaticAssetsCacheFirst(t *testing.T) {
	t.Parallel()

	var originHits atomic.Int32
	h := startGateway(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		originHits.Add(1)
		_, _ = w.Write([]byte("body-v1"))
	}))

	resp, err := http.Get(h.gateway.URL + "/app.js")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "body-v1", string(body))
	assert.Equal(t, int32(1), originHits.Load())

	// Second request never reaches the origin.
	resp, err = http.Get(h.gateway.URL + "/app.js")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "body-v1", string(body))
	assert.Equal(t, "true", resp.Header.Get("X-Served-From-Cache"))
	assert.Equal(t, int32(1), originHits.Load())
}

func TestGatewayOfflineNavigationGetsFallbackPage(t *testing.T) {
	t.Parallel()

	h := startGateway(t, http.NotFoundHandler())
	h.origin.Close()

	req, err := http.NewRequest(http.MethodGet, h.gateway.URL+"/waypoints", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "You are offline")
}

func TestGatewayOfflineDataEndpointGetsStructuredResponse(t *testing.T) {
	t.Parallel()

	h := startGateway(t, http.NotFoundHandler())
	h.origin.Close()

	resp, err := http.Get(h.gateway.URL + "/api/waypoints")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), `"offline":true`)
}

func TestGatewayProxiesMutationsUntouched(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var gotMethod, gotBody string
	h := startGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotMethod = r.Method
		gotBody = string(raw)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))

	resp, err := http.Post(h.gateway.URL+"/api/waypoints", "application/json",
		strings.NewReader(`{"name":"stand"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"name":"stand"}`, gotBody)
}

func TestGatewayProxyAnswers502WhenOriginDown(t *testing.T) {
	t.Parallel()

	h := startGateway(t, http.NotFoundHandler())
	h.origin.Close()

	resp, err := http.Post(h.gateway.URL+"/api/waypoints", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestDeadLettersEndpoint(t *testing.T) {
	t.Parallel()

	h := startGateway(t, http.NotFoundHandler())
	ctx := context.Background()

	resp, err := http.Get(h.gateway.URL + "/sync/deadletters")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	id, err := h.store.AppendAction(ctx, store.PendingAction{Method: "POST", URL: "/api/waypoints"})
	require.NoError(t, err)
	require.NoError(t, h.store.DeadLetterAction(ctx, id, "exhausted retries"))

	resp, err = http.Get(h.gateway.URL + "/sync/deadletters")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var letters []store.DeadLetter
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&letters))
	require.Len(t, letters, 1)
	assert.Equal(t, "exhausted retries", letters[0].LastError)
}

func TestEventsEndpointStreamsBroadcasts(t *testing.T) {
	t.Parallel()

	h := startGateway(t, http.NotFoundHandler())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.gateway.URL+"/sync/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the handler time to subscribe before broadcasting.
	time.Sleep(100 * time.Millisecond)
	h.bus.Broadcast(bus.TrackingStarted{Interval: time.Minute})

	line := make([]byte, 4096)
	n, err := resp.Body.Read(line)
	require.NoError(t, err)
	payload := string(line[:n])
	assert.Contains(t, payload, "data: ")
	assert.Contains(t, payload, `"TRACKING_STARTED"`)
	assert.Contains(t, payload, `"interval":60000`)
}

func TestWithMiddlewaresApplied(t *testing.T) {
	t.Parallel()

	var seen bool
	marker := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = true
			next.ServeHTTP(w, r)
		})
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	defer st.Close()

	client, err := upstream.NewClient("http://origin.invalid")
	require.NoError(t, err)
	manager, err := cache.NewManager(st, client, "v5", nil)
	require.NoError(t, err)

	messageBus := bus.New()
	defer messageBus.Close()

	originURL, _ := url.Parse("http://origin.invalid")
	handler := NewServer(manager, messageBus, st, originURL, nil, WithMiddlewares(marker))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, seen)
}

func TestWithMetricsHandlerMountsScrapeRoute(t *testing.T) {
	t.Parallel()

	st, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	defer st.Close()

	client, err := upstream.NewClient("http://origin.invalid")
	require.NoError(t, err)
	manager, err := cache.NewManager(st, client, "v5", nil)
	require.NoError(t, err)

	messageBus := bus.New()
	defer messageBus.Close()

	scrape := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# HELP\n"))
	})

	originURL, _ := url.Parse("http://origin.invalid")
	handler := NewServer(manager, messageBus, st, originURL, nil, WithMetricsHandler(scrape))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# HELP\n", rec.Body.String())

	// Without a handler the path is ordinary origin traffic.
	bare := NewServer(manager, messageBus, st, originURL, nil)
	rec = httptest.NewRecorder()
	bare.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.NotEqual(t, http.StatusOK, rec.Code)
}
