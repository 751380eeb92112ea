// Package postgres provides a PostgreSQL-backed cache store, so cached
// trees survive restarts and can be shared by multiple server instances.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Quantum-Spooky/kgsweb-sub000/internal/cache"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key               TEXT PRIMARY KEY,
	payload           JSONB NOT NULL,
	fetched_at        TIMESTAMPTZ NOT NULL,
	max_modified_time TIMESTAMPTZ,
	folder_ids        TEXT[] NOT NULL DEFAULT '{}',
	ttl_seconds       BIGINT NOT NULL
)`

// Store is a PostgreSQL cache store.
type Store struct {
	db *sql.DB
}

// New opens the database and ensures the cache table exists.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create cache table: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns the current entry for a key, if any.
func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, bool, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("cache_get", time.Since(start), true) }()

	var (
		entry      cache.Entry
		maxMod     sql.NullTime
		ttlSeconds int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, payload, fetched_at, max_modified_time, folder_ids, ttl_seconds
		 FROM cache_entries WHERE key = $1`, key).
		Scan(&entry.Key, (*[]byte)(&entry.Payload), &entry.FetchedAt, &maxMod,
			pq.Array(&entry.FolderIDs), &ttlSeconds)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cache entry: %w", err)
	}

	if maxMod.Valid {
		entry.MaxModifiedTime = maxMod.Time
	}
	entry.TTL = time.Duration(ttlSeconds) * time.Second
	return &entry, true, nil
}

// Put replaces the entry for a key atomically via upsert.
func (s *Store) Put(ctx context.Context, entry *cache.Entry) error {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation("cache_put", time.Since(start), true) }()

	var maxMod sql.NullTime
	if !entry.MaxModifiedTime.IsZero() {
		maxMod = sql.NullTime{Time: entry.MaxModifiedTime, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, payload, fetched_at, max_modified_time, folder_ids, ttl_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (key) DO UPDATE SET
			payload = EXCLUDED.payload,
			fetched_at = EXCLUDED.fetched_at,
			max_modified_time = EXCLUDED.max_modified_time,
			folder_ids = EXCLUDED.folder_ids,
			ttl_seconds = EXCLUDED.ttl_seconds`,
		entry.Key, []byte(entry.Payload), entry.FetchedAt, maxMod,
		pq.Array(entry.FolderIDs), int64(entry.TTL/time.Second))
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry for a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Clear removes all entries whose key starts with prefix and returns the
// number removed.
func (s *Store) Clear(ctx context.Context, prefix string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key LIKE $1 || '%'`, prefix)
	if err != nil {
		return 0, fmt.Errorf("clear cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
