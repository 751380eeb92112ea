// Package freshness decides whether a cached tree is stale by asking the
// file store what changed after the entry's newest known modification,
// instead of re-traversing the whole hierarchy.
package freshness

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Quantum-Spooky/kgsweb-sub000/internal/cache"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/logging"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/metrics"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/store"
)

// Checker runs the early-invalidation query against the file store.
type Checker struct {
	store    store.FileStore
	maxPages int
}

// NewChecker creates a freshness checker. maxPages bounds how many change
// pages a single check will scan before giving up and reporting stale.
func NewChecker(fs store.FileStore, maxPages int) *Checker {
	if maxPages <= 0 {
		maxPages = 100
	}
	return &Checker{store: fs, maxPages: maxPages}
}

// IsStale reports whether the cached entry may no longer reflect the
// remote store. It scans changes newer than the entry's max modification
// time and returns true as soon as one touches the entry's folder set.
//
// The check fails open: if the change query itself errors, the entry is
// reported stale so a full rebuild decides. An entry with no recorded
// modification time (empty payload) is governed by TTL alone and is
// reported fresh here.
func (c *Checker) IsStale(ctx context.Context, entry *cache.Entry) bool {
	if entry.MaxModifiedTime.IsZero() {
		return false
	}

	start := time.Now()
	folders := make(map[string]bool, len(entry.FolderIDs))
	for _, id := range entry.FolderIDs {
		folders[id] = true
	}

	pageToken := ""
	for pages := 0; pages < c.maxPages; pages++ {
		page, err := c.store.GetModifiedSince(ctx, entry.MaxModifiedTime, pageToken)
		if err != nil {
			logging.Warn("freshness query failed, assuming stale",
				zap.String("key", entry.Key), zap.Error(err))
			metrics.RecordFreshnessCheck("error", time.Since(start))
			return true
		}

		for _, change := range page.Changes {
			if c.relevant(change, folders) {
				logging.Debug("cache entry invalidated by remote change",
					zap.String("key", entry.Key),
					zap.String("changed", change.ID),
					zap.Time("modified", change.ModifiedTime))
				metrics.RecordFreshnessCheck("stale", time.Since(start))
				return true
			}
		}

		if page.NextPageToken == "" {
			metrics.RecordFreshnessCheck("fresh", time.Since(start))
			return false
		}
		pageToken = page.NextPageToken
	}

	// Page budget exhausted without a definitive answer.
	metrics.RecordFreshnessCheck("error", time.Since(start))
	return true
}

// relevant reports whether a change touches the entry's tracked folders,
// either directly or through its parent chain.
func (c *Checker) relevant(change store.Change, folders map[string]bool) bool {
	if folders[change.ID] {
		return true
	}
	for _, parent := range change.ParentIDs {
		if folders[parent] {
			return true
		}
	}
	return false
}
