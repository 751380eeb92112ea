// Package cache provides the key-value store for cached tree payloads and
// derived view artifacts.
//
// Entries are replaced wholesale, never partially updated: a reader sees
// either the previous complete entry or the new complete entry. TTL is a
// staleness signal enforced at read time by the caller, not an eviction
// trigger — an expired entry remains available as last-known-good until it
// is explicitly deleted or overwritten.
package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Quantum-Spooky/kgsweb-sub000/internal/metrics"
)

// Entry is one cached payload plus the metadata the freshness checker
// needs to decide staleness without a rebuild.
type Entry struct {
	Key             string          `json:"key"`
	Payload         json.RawMessage `json:"payload"`
	FetchedAt       time.Time       `json:"fetched_at"`
	MaxModifiedTime time.Time       `json:"max_modified_time,omitzero"`
	FolderIDs       []string        `json:"folder_ids,omitempty"`
	TTL             time.Duration   `json:"ttl"`
}

// Expired reports whether the entry is past its TTL at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.FetchedAt) > e.TTL
}

// HasFolder reports whether id is in the entry's tracked folder set.
func (e *Entry) HasFolder(id string) bool {
	for _, f := range e.FolderIDs {
		if f == id {
			return true
		}
	}
	return false
}

// clone returns a deep-enough copy so callers never share mutable state
// with the store.
func (e *Entry) clone() *Entry {
	c := *e
	if e.Payload != nil {
		c.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	if e.FolderIDs != nil {
		c.FolderIDs = append([]string(nil), e.FolderIDs...)
	}
	return &c
}

// Store is the cache contract. Get returns expired entries too; staleness
// is the caller's decision. Clear removes every entry whose key starts
// with prefix; the empty prefix clears everything.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context, prefix string) (int, error)
	Close() error
}

// MemoryStore is an in-process Store backed by a map.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory cache store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

// Get returns the current entry for a key, if any.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return entry.clone(), true, nil
}

// Put replaces the entry for a key atomically.
func (s *MemoryStore) Put(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	s.entries[entry.Key] = entry.clone()
	count := len(s.entries)
	s.mu.Unlock()

	metrics.SetCacheEntries(count)
	return nil
}

// Delete removes the entry for a key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	count := len(s.entries)
	s.mu.Unlock()

	metrics.SetCacheEntries(count)
	return nil
}

// Clear removes all entries whose key starts with prefix and returns the
// number removed.
func (s *MemoryStore) Clear(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	removed := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			removed++
		}
	}
	count := len(s.entries)
	s.mu.Unlock()

	metrics.SetCacheEntries(count)
	return removed, nil
}

// Keys returns all keys in the store, sorted.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
