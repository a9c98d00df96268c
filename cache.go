package offlinecache

import (
	"context"
	"time"

	"github.com/offlinecache/go-offline-cache/caches"
)

var (
	// ErrNotFound is the canonical cache-miss sentinel. It aliases the
	// backend sentinel so errors.Is recognizes a miss from every store
	// implementation.
	ErrNotFound = caches.ErrNoCacheItem
)

// CacheItem holds a stored HTTP response. Response contains the full wire
// dump (status line, headers, body) as produced by httputil.DumpResponse.
// Items are immutable once written; a newer fetch overwrites the whole item.
type CacheItem struct {
	Response []byte
	StoredAt time.Time
}

// Cache is a single named cache generation holding request/response pairs.
type Cache interface {
	Get(ctx context.Context, k string) (*CacheItem, error)
	Set(ctx context.Context, k string, v *CacheItem) error
}

// Store manages named cache generations. Open creates the generation if it
// does not exist yet, which is what lets the dynamic generation come into
// being lazily on first write. Names enumerates every generation currently
// held, and Delete destroys a generation wholesale.
type Store interface {
	Open(ctx context.Context, name string) (Cache, error)
	Names(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
}
