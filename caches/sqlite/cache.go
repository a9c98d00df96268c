package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	offlinecache "github.com/offlinecache/go-offline-cache"
	"github.com/offlinecache/go-offline-cache/caches"
)

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	generation TEXT NOT NULL,
	cache_key TEXT NOT NULL,
	response BLOB NOT NULL,
	stored_at DATETIME NOT NULL,
	PRIMARY KEY (generation, cache_key)
);
`

// Store implements offlinecache.Store on a single SQLite database. Each
// generation is a partition of the cache_entries table, so deleting a
// generation is one statement.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (creating if needed) the cache database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Open(_ context.Context, name string) (offlinecache.Cache, error) {
	return &Cache{db: s.db, generation: name}, nil
}

func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT generation FROM cache_entries ORDER BY generation`)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	return names, rows.Err()
}

func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE generation = ?`, name)
	if err != nil {
		return fmt.Errorf("delete generation: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Cache is one generation backed by the shared database.
type Cache struct {
	db         *sql.DB
	generation string
}

func (c *Cache) Get(ctx context.Context, k string) (*offlinecache.CacheItem, error) {
	var response []byte
	var storedAt time.Time

	err := c.db.QueryRowContext(ctx,
		`SELECT response, stored_at FROM cache_entries WHERE generation = ? AND cache_key = ?`,
		c.generation, k,
	).Scan(&response, &storedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, caches.ErrNoCacheItem
		}
		return nil, err
	}

	return &offlinecache.CacheItem{Response: response, StoredAt: storedAt}, nil
}

func (c *Cache) Set(ctx context.Context, k string, v *offlinecache.CacheItem) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (generation, cache_key, response, stored_at)
		 VALUES (?, ?, ?, ?)`,
		c.generation, k, v.Response, v.StoredAt.UTC())
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}
