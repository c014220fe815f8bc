package router

import (
	"errors"
	"net/http"

	"github.com/steeveross-eng/huntiq-sync/internal/cache"
	"github.com/steeveross-eng/huntiq-sync/internal/logger"
)

// serveOrigin handles foreground traffic destined for the remote origin.
// GET requests are intercepted and served through a cache strategy;
// everything else passes through untouched.
func (g *gateway) serveOrigin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.proxy.ServeHTTP(w, r)
		return
	}

	pathAndQuery := r.URL.Path
	if r.URL.RawQuery != "" {
		pathAndQuery += "?" + r.URL.RawQuery
	}

	var (
		result *cache.Result
		err    error
	)
	switch g.classify(r.URL.Path) {
	case cache.StrategyNetworkFirst:
		result, err = g.manager.ServeNetworkFirst(r.Context(), pathAndQuery, r.Header)
	default:
		result, err = g.manager.ServeCacheFirst(r.Context(), pathAndQuery, r.Header)
	}

	if err != nil {
		if errors.Is(err, cache.ErrUnavailable) {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		logger.Errorf("Strategy evaluation failed for %s: %v", pathAndQuery, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeResult(w, result)
}

func writeResult(w http.ResponseWriter, result *cache.Result) {
	for key, value := range result.Headers {
		w.Header().Set(key, value)
	}
	if result.FromCache {
		w.Header().Set("X-Served-From-Cache", "true")
	}
	w.WriteHeader(result.Status)
	_, _ = w.Write(result.Body)
}
