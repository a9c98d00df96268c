package postgres

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/gob"
	"errors"
	"time"

	_ "github.com/lib/pq"

	offlinecache "github.com/offlinecache/go-offline-cache"
	"github.com/offlinecache/go-offline-cache/caches"
)

var (
	// ErrPingFailed is returned if the initial ping to the database returns an error
	ErrPingFailed = errors.New("ping returned error")
)

var (
	//go:embed create_table.sql
	queryCreateTable string
	//go:embed fetch_item.sql
	queryFetchItem string
	//go:embed insert_item.sql
	queryInsertItem string
	//go:embed list_generations.sql
	queryListGenerations string
	//go:embed delete_generation.sql
	queryDeleteGeneration string
)

// Store implements the offlinecache.Store interface using PostgreSQL as the
// storage backend. Every generation lives in the same table, partitioned by
// the generation column, so a whole generation can be destroyed in one
// statement during activation.
type Store struct {
	db *sql.DB

	now func() time.Time
}

// Open returns a handle on the named generation. The generation itself is
// lazy: it exists once its first entry is written.
func (s *Store) Open(_ context.Context, name string) (offlinecache.Cache, error) {
	return &Cache{db: s.db, generation: name, now: s.now}, nil
}

// Names enumerates every generation that currently holds at least one entry.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	stmt, err := s.db.PrepareContext(ctx, queryListGenerations)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, err
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

// Delete destroys a generation and all of its entries.
func (s *Store) Delete(ctx context.Context, name string) error {
	stmt, err := s.db.PrepareContext(ctx, queryDeleteGeneration)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, name)
	return err
}

// Cache is one generation backed by the shared database. It provides
// thread-safe operations for storing and retrieving cached HTTP responses.
type Cache struct {
	db         *sql.DB
	generation string

	now func() time.Time
}

// Get retrieves a cache item by its key within this generation.
// Returns caches.ErrNoCacheItem if the item doesn't exist.
func (c *Cache) Get(ctx context.Context, k string) (*offlinecache.CacheItem, error) {
	stmt, err := c.db.PrepareContext(ctx, queryFetchItem)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var encoded []byte
	if err := stmt.QueryRowContext(ctx, c.generation, k).Scan(&encoded); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, caches.ErrNoCacheItem
		}
		return nil, err
	}

	buff := bytes.NewBuffer(encoded)
	dec := gob.NewDecoder(buff)

	var item offlinecache.CacheItem
	if err := dec.Decode(&item); err != nil {
		return nil, err
	}

	return &item, nil
}

// Set stores a cache item under the provided key, overwriting any previous
// entry wholesale. It handles the serialization of the cache item using gob
// encoding.
func (c *Cache) Set(ctx context.Context, k string, v *offlinecache.CacheItem) error {
	stmt, err := c.db.PrepareContext(ctx, queryInsertItem)
	if err != nil {
		return err
	}
	defer stmt.Close()

	var buff bytes.Buffer
	enc := gob.NewEncoder(&buff)
	if err := enc.Encode(v); err != nil {
		return err
	}

	_, err = stmt.ExecContext(ctx, c.generation, k, buff.Bytes(), c.now().UTC())
	return err
}

func createTable(ctx context.Context, db *sql.DB) error {
	stmt, err := db.PrepareContext(ctx, queryCreateTable)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx)
	return err
}

// New creates a new PostgreSQL store with the provided database handle.
// It verifies the database connection and creates the necessary table
// structure.
//
// Returns an error if:
// - The database connection test fails
// - Table creation fails
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}

	if err := createTable(ctx, db); err != nil {
		return nil, err
	}

	return &Store{
		db: db,

		now: time.Now,
	}, nil
}
