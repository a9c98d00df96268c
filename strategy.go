package offlinecache

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/offlinecache/go-offline-cache/caches"
)

const offlineMessage = "You are currently offline. Please check your connection."

// offlinePayload is the canonical offline signal for API consumers. Callers
// branch on this shape instead of catching a transport error.
type offlinePayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CacheFirst serves static assets. A cached entry wins outright with no
// network round trip; the network is only consulted on a miss, and a failed
// refetch never evicts an existing cached copy.
type CacheFirst struct {
	Cache   Cache
	Wrapped http.RoundTripper

	Logger *slog.Logger
	Now    func() time.Time
}

func (s *CacheFirst) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	key := caches.Key(*r)
	logger := logOrDiscard(s.Logger)

	if item, found := lookup(ctx, s.Cache, key, logger); found {
		logger.DebugContext(ctx, "cache item found", "url", r.URL.String())
		return readItem(item, r)
	}

	resp, transportError := s.Wrapped.RoundTrip(r)
	if transportError != nil {
		// a concurrent handler may have populated the cache while our
		// fetch was in flight
		if item, found := lookup(ctx, s.Cache, key, logger); found {
			logger.DebugContext(ctx, "cache item appeared during failed fetch", "url", r.URL.String())
			return readItem(item, r)
		}
		return resp, transportError
	}

	if success(resp) {
		storeResponse(ctx, s.Cache, key, resp, clock(s.Now), logger)
	}

	return resp, nil
}

// NetworkFirst serves API calls. Responses are freshness-sensitive, so the
// network is tried first and the last successful response wins in the cache.
// When both network and cache come up empty the caller still receives a
// well-formed 503 JSON response, never a transport error.
type NetworkFirst struct {
	Cache   Cache
	Wrapped http.RoundTripper

	Logger *slog.Logger
	Now    func() time.Time
}

func (s *NetworkFirst) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	key := caches.Key(*r)
	logger := logOrDiscard(s.Logger)

	resp, transportError := s.Wrapped.RoundTrip(r)
	if transportError == nil {
		if success(resp) {
			storeResponse(ctx, s.Cache, key, resp, clock(s.Now), logger)
		}
		return resp, nil
	}

	logger.DebugContext(ctx, "network fetch failed, falling back to cache",
		"url", r.URL.String(),
		"error", transportError)

	if item, found := lookup(ctx, s.Cache, key, logger); found {
		return readItem(item, r)
	}

	return offlineResponse(r), nil
}

// PageFallback serves navigation requests. It behaves like NetworkFirst
// except for the terminal fallback: instead of a JSON payload it returns the
// offline document precached in the static generation. If that document is
// missing the original fetch error is propagated, because there is no safe
// generic HTML to fabricate.
type PageFallback struct {
	Cache   Cache
	Static  Cache
	Wrapped http.RoundTripper

	OfflinePath string

	Logger *slog.Logger
	Now    func() time.Time
}

func (s *PageFallback) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	key := caches.Key(*r)
	logger := logOrDiscard(s.Logger)

	resp, transportError := s.Wrapped.RoundTrip(r)
	if transportError == nil {
		if success(resp) {
			storeResponse(ctx, s.Cache, key, resp, clock(s.Now), logger)
		}
		return resp, nil
	}

	logger.DebugContext(ctx, "network fetch failed, falling back to cache",
		"url", r.URL.String(),
		"error", transportError)

	if item, found := lookup(ctx, s.Cache, key, logger); found {
		return readItem(item, r)
	}

	item, found := lookup(ctx, s.Static, caches.PathKey(s.OfflinePath), logger)
	if !found {
		logger.WarnContext(ctx, "offline document missing from static cache",
			"path", s.OfflinePath)
		return resp, transportError
	}

	return readItem(item, r)
}

func success(r *http.Response) bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

func logOrDiscard(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func clock(now func() time.Time) func() time.Time {
	if now != nil {
		return now
	}
	return time.Now
}

// lookup separates a cache miss from a backend failure. A failure is logged
// and then treated as a miss so the strategy can still fall back.
func lookup(ctx context.Context, cache Cache, key string, logger *slog.Logger) (*CacheItem, bool) {
	item, err := cache.Get(ctx, key)
	if err == nil {
		return item, true
	}

	if !errors.Is(err, ErrNotFound) {
		logger.WarnContext(ctx, "cache lookup failed", "key", key, "error", err)
	}

	return nil, false
}

// readItem replays a stored response against its originating request, so
// bodiless methods like HEAD are read back correctly.
func readItem(item *CacheItem, r *http.Request) (*http.Response, error) {
	nr := bufio.NewReader(bytes.NewReader(item.Response))
	return http.ReadResponse(nr, r)
}

func storeResponse(
	ctx context.Context,
	cache Cache,
	key string,
	resp *http.Response,
	now func() time.Time,
	logger *slog.Logger,
) {
	resBytes, err := httputil.DumpResponse(resp, true)
	if err != nil {
		logger.WarnContext(ctx, "error dumping response for cache", "error", err)
		return
	}

	if cacheErr := cache.Set(ctx, key, &CacheItem{
		Response: resBytes,
		StoredAt: now().UTC(),
	}); cacheErr != nil {
		logger.WarnContext(ctx, "error caching response", "error", cacheErr)
	}
}

func offlineResponse(r *http.Request) *http.Response {
	body, _ := json.Marshal(offlinePayload{
		Error:   "offline",
		Message: offlineMessage,
	})

	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable)),
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}
