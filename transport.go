package offlinecache

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Transport implements http.RoundTripper and is the single entry point of the
// resilience layer. Every outbound request is classified once and dispatched
// to the matching strategy; requests that fall outside the interception rules
// pass through to the wrapped transport untouched.
//
// The generation names it serves from are swapped by the Lifecycle on
// activation (Adopt), so already-open clients route through a new generation
// without a restart. Until a lifecycle has adopted the transport it serves
// everything straight from the network.
type Transport struct {
	Wrapped http.RoundTripper

	store      Store
	classifier *Classifier
	logger     *slog.Logger
	now        func() time.Time

	offlinePath string

	mu          sync.RWMutex
	staticName  string
	dynamicName string
}

// RoundTrip classifies the request and dispatches it to one strategy.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	class := t.classifier.Classify(r)
	if class == ClassBypass {
		return t.Wrapped.RoundTrip(r)
	}

	ctx := r.Context()

	t.mu.RLock()
	staticName, dynamicName := t.staticName, t.dynamicName
	t.mu.RUnlock()

	if dynamicName == "" {
		return t.Wrapped.RoundTrip(r)
	}

	dynamic, err := t.store.Open(ctx, dynamicName)
	if err != nil {
		t.logger.WarnContext(ctx, "opening dynamic cache failed, passing through",
			"generation", dynamicName,
			"error", err)
		return t.Wrapped.RoundTrip(r)
	}

	t.logger.DebugContext(ctx, "request intercepted",
		"url", r.URL.String(),
		"class", class.String())

	switch class {
	case ClassAsset:
		s := &CacheFirst{Cache: dynamic, Wrapped: t.Wrapped, Logger: t.logger, Now: t.now}
		return s.RoundTrip(r)
	case ClassAPI:
		s := &NetworkFirst{Cache: dynamic, Wrapped: t.Wrapped, Logger: t.logger, Now: t.now}
		return s.RoundTrip(r)
	default:
		static, err := t.store.Open(ctx, staticName)
		if err != nil {
			t.logger.WarnContext(ctx, "opening static cache failed",
				"generation", staticName,
				"error", err)
			s := &NetworkFirst{Cache: dynamic, Wrapped: t.Wrapped, Logger: t.logger, Now: t.now}
			return s.RoundTrip(r)
		}
		s := &PageFallback{
			Cache:       dynamic,
			Static:      static,
			Wrapped:     t.Wrapped,
			OfflinePath: t.offlinePath,
			Logger:      t.logger,
			Now:         t.now,
		}
		return s.RoundTrip(r)
	}
}

// Adopt swaps the generations served by the transport. Called by the
// Lifecycle when a new generation activates.
func (t *Transport) Adopt(staticName, dynamicName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.staticName = staticName
	t.dynamicName = dynamicName
}

// New creates a transport middleware that adds offline-first caching to an
// HTTP RoundTripper. Requests are classified per the configured API prefixes
// and asset-extension allowlist; non-read and cross-origin requests are
// passed through untouched.
//
// If the 'now' function is nil, time.Now will be used as the default time
// provider. If the 'logger' is nil, a no-op logger writing to io.Discard will
// be used.
func New(
	store Store,
	opts *Config,
	now func() time.Time,
	logger *slog.Logger,
) func(http.RoundTripper) *Transport {
	nowFunc := now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := Config{}
	if opts == nil {
		c = DefaultConfig()
	} else {
		c = *opts
	}

	var host string
	if u, err := url.Parse(c.Origin); err == nil {
		host = u.Host
	}

	return func(rt http.RoundTripper) *Transport {
		return &Transport{
			Wrapped:     rt,
			store:       store,
			classifier:  NewClassifier(host, c),
			logger:      logger,
			now:         nowFunc,
			offlinePath: c.OfflinePath,
		}
	}
}
