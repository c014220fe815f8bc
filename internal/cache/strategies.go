package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/steeveross-eng/huntiq-sync/internal/store"
)

// Strategy names used in logs and metrics.
const (
	StrategyCacheFirst   = "cache_first"
	StrategyNetworkFirst = "network_first"
)

// ErrUnavailable indicates neither the network nor the cache could serve a
// cache-first request.
var ErrUnavailable = errors.New("resource unavailable offline")

// Result is the outcome of a strategy evaluation, ready to be written back
// to the requesting foreground context.
type Result struct {
	Status    int
	Headers   map[string]string
	Body      []byte
	FromCache bool
}

// offlinePage is the fallback served for navigations while disconnected.
const offlinePage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>HuntIQ - Offline</title></head>
<body>
<h1>You are offline</h1>
<p>HuntIQ cannot reach the server right now. Queued field data will sync automatically when connectivity returns.</p>
</body>
</html>`

// ServeCacheFirst serves static assets: cache hit wins, a miss fetches and
// stores, and a network failure degrades to the offline page for
// navigations.
func (m *Manager) ServeCacheFirst(ctx context.Context, pathAndQuery string, header http.Header) (*Result, error) {
	key := Key(http.MethodGet, pathAndQuery)

	entry, err := m.entries.GetEntry(ctx, m.generation, key)
	if err == nil {
		m.metrics.RecordHit(ctx, StrategyCacheFirst)
		return resultFromEntry(entry), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	m.metrics.RecordMiss(ctx, StrategyCacheFirst)

	resp, fetchErr := m.fetcher.Fetch(ctx, pathAndQuery, header)
	if fetchErr == nil && resp.OK() {
		stored := store.CacheEntry{
			Generation: m.generation,
			Key:        key,
			Status:     resp.Status,
			Headers:    resp.Headers,
			Body:       resp.Body,
		}
		if putErr := m.entries.PutEntry(ctx, stored); putErr != nil {
			// Serving the live response matters more than caching it.
			slog.Error("Failed to store cache entry", "key", key, "error", putErr)
		}
		return &Result{Status: resp.Status, Headers: resp.Headers, Body: resp.Body}, nil
	}
	if fetchErr == nil {
		return &Result{Status: resp.Status, Headers: resp.Headers, Body: resp.Body}, nil
	}

	if isNavigation(header) {
		slog.Debug("Serving offline fallback page", "path", pathAndQuery)
		return &Result{
			Status:  http.StatusOK,
			Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
			Body:    []byte(offlinePage),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnavailable, pathAndQuery)
}

// ServeNetworkFirst serves data endpoints: the live response wins and
// refreshes the snapshot, a network failure falls back to the last snapshot,
// and with no snapshot a structured offline response is synthesized instead
// of an error.
func (m *Manager) ServeNetworkFirst(ctx context.Context, pathAndQuery string, header http.Header) (*Result, error) {
	key := Key(http.MethodGet, pathAndQuery)

	resp, fetchErr := m.fetcher.Fetch(ctx, pathAndQuery, header)
	if fetchErr == nil {
		if resp.OK() {
			stored := store.CacheEntry{
				Generation: m.generation,
				Key:        key,
				Status:     resp.Status,
				Headers:    resp.Headers,
				Body:       resp.Body,
			}
			if putErr := m.entries.PutEntry(ctx, stored); putErr != nil {
				slog.Error("Failed to refresh cache entry", "key", key, "error", putErr)
			}
		}
		return &Result{Status: resp.Status, Headers: resp.Headers, Body: resp.Body}, nil
	}

	entry, err := m.entries.GetEntry(ctx, m.generation, key)
	if err == nil {
		m.metrics.RecordHit(ctx, StrategyNetworkFirst)
		slog.Debug("Serving stale cache entry while offline", "key", key)
		return resultFromEntry(entry), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	m.metrics.RecordMiss(ctx, StrategyNetworkFirst)

	return offlineResult(fetchErr), nil
}

// offlineResult synthesizes the structured offline response body so calling
// UI code can tell "disconnected" apart from a server rejection.
func offlineResult(cause error) *Result {
	body, err := json.Marshal(map[string]any{
		"offline": true,
		"error":   cause.Error(),
	})
	if err != nil {
		body = []byte(`{"offline":true}`)
	}
	return &Result{
		Status:  http.StatusServiceUnavailable,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	}
}

func resultFromEntry(entry store.CacheEntry) *Result {
	return &Result{
		Status:    entry.Status,
		Headers:   entry.Headers,
		Body:      entry.Body,
		FromCache: true,
	}
}

// isNavigation reports whether a request represents a full-page navigation.
func isNavigation(header http.Header) bool {
	return strings.Contains(header.Get("Accept"), "text/html")
}
