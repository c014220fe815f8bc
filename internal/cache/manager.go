// Package cache implements cache generation lifecycle and the two response
// caching strategies used by the request router.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/steeveross-eng/huntiq-sync/internal/store"
	"github.com/steeveross-eng/huntiq-sync/internal/telemetry"
	"github.com/steeveross-eng/huntiq-sync/internal/upstream"
)

// Fetcher retrieves a read-only resource from the remote origin.
type Fetcher interface {
	Fetch(ctx context.Context, pathAndQuery string, header http.Header) (*upstream.Response, error)
}

// EntryStore is the persistence boundary for cached response snapshots.
type EntryStore interface {
	PutEntry(ctx context.Context, entry store.CacheEntry) error
	GetEntry(ctx context.Context, generation, key string) (store.CacheEntry, error)
	PurgeGenerationsExcept(ctx context.Context, generation string) (int64, error)
	DeleteGeneration(ctx context.Context, generation string) error
}

// Manager owns one cache generation: it preloads the static manifest on
// install, purges superseded generations on activation, and evaluates the
// cache-first and network-first strategies.
type Manager struct {
	entries    EntryStore
	fetcher    Fetcher
	generation string
	assets     []string
	metrics    *telemetry.CacheMetrics
}

// Option configures the manager.
type Option func(*Manager)

// WithMetrics attaches cache strategy metrics.
func WithMetrics(m *telemetry.CacheMetrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// NewManager creates a cache manager for one generation.
func NewManager(entries EntryStore, fetcher Fetcher, generation string, assets []string, opts ...Option) (*Manager, error) {
	if entries == nil {
		return nil, fmt.Errorf("entry store is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if generation == "" {
		return nil, fmt.Errorf("cache generation is required")
	}

	m := &Manager{
		entries:    entries,
		fetcher:    fetcher,
		generation: generation,
		assets:     assets,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Generation returns the generation identifier this manager owns.
func (m *Manager) Generation() string {
	return m.generation
}

// Install preloads the static asset manifest into the current generation.
// A failure on any single asset aborts the install and discards whatever the
// aborted install had already stored, so a generation is never partial.
func (m *Manager) Install(ctx context.Context) error {
	for _, asset := range m.assets {
		resp, err := m.fetcher.Fetch(ctx, asset, nil)
		if err == nil && !resp.OK() {
			err = fmt.Errorf("preload %q returned status %d", asset, resp.Status)
		}
		if err != nil {
			return m.abortInstall(ctx, err)
		}

		entry := store.CacheEntry{
			Generation: m.generation,
			Key:        Key(http.MethodGet, asset),
			Status:     resp.Status,
			Headers:    resp.Headers,
			Body:       resp.Body,
		}
		if err := m.entries.PutEntry(ctx, entry); err != nil {
			return m.abortInstall(ctx, err)
		}
	}

	slog.Info("Cache generation installed",
		"generation", m.generation,
		"assets", len(m.assets))
	return nil
}

// abortInstall discards whatever the failed install already stored so the
// generation is never left partial.
func (m *Manager) abortInstall(ctx context.Context, cause error) error {
	if err := m.entries.DeleteGeneration(ctx, m.generation); err != nil {
		slog.Error("Failed to discard partial cache generation",
			"generation", m.generation,
			"error", err)
	}
	return fmt.Errorf("install cache generation %q: %w", m.generation, cause)
}

// Activate purges every cache entry that does not belong to the current
// generation. After activation no superseded entry remains reachable and the
// engine is ready to serve foreground contexts immediately.
func (m *Manager) Activate(ctx context.Context) error {
	purged, err := m.entries.PurgeGenerationsExcept(ctx, m.generation)
	if err != nil {
		return fmt.Errorf("activate cache generation %q: %w", m.generation, err)
	}
	slog.Info("Cache generation activated",
		"generation", m.generation,
		"purged_entries", purged)
	return nil
}

// Key returns the normalized request identity used as the cache key.
func Key(method, pathAndQuery string) string {
	return method + " " + pathAndQuery
}
