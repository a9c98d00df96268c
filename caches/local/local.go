package local

import (
	"context"
	"sort"
	"sync"

	offlinecache "github.com/offlinecache/go-offline-cache"
	"github.com/offlinecache/go-offline-cache/caches"
)

// Store is an in-memory implementation of offlinecache.Store. Generations
// come into existence on first Open and disappear wholesale on Delete. It is
// also the injectable store the strategy tests run against.
type Store struct {
	mu   sync.RWMutex
	gens map[string]*BasicCache
}

func NewStore() *Store {
	return &Store{
		gens: make(map[string]*BasicCache),
	}
}

func (s *Store) Open(_ context.Context, name string) (offlinecache.Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, found := s.gens[name]
	if !found {
		c = newBasicCache()
		s.gens[name] = c
	}

	return c, nil
}

func (s *Store) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.gens))
	for name := range s.gens {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.gens[name]; !found {
		return caches.ErrNoSuchCache
	}
	delete(s.gens, name)

	return nil
}

// BasicCache is a single in-memory generation.
type BasicCache struct {
	cache map[string]*offlinecache.CacheItem

	lock sync.RWMutex
}

func (bc *BasicCache) Get(_ context.Context, key string) (*offlinecache.CacheItem, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	val, found := bc.cache[key]
	if !found {
		return nil, offlinecache.ErrNotFound
	}

	return val, nil
}

func (bc *BasicCache) Set(_ context.Context, key string, item *offlinecache.CacheItem) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	bc.cache[key] = item

	return nil
}

func newBasicCache() *BasicCache {
	return &BasicCache{
		cache: make(map[string]*offlinecache.CacheItem),
	}
}
