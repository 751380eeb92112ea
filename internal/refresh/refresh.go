// Package refresh is the single entry point consumers use to obtain a
// cached document tree. It decides between serving the cache, running the
// early-invalidation check, and rebuilding, and it guarantees at most one
// concurrent rebuild per cache key.
package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Quantum-Spooky/kgsweb-sub000/internal/cache"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/freshness"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/logging"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/metrics"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/tree"
)

// TreeKeyPrefix namespaces document tree entries in the cache store.
const TreeKeyPrefix = "documents:"

// ErrNoRootConfigured indicates neither the caller nor the configuration
// supplied a root folder ID.
var ErrNoRootConfigured = errors.New("no root folder configured")

// Result is what GetTree returns to consumers.
type Result struct {
	RootID    string       `json:"root_id"`
	Tree      []*tree.Node `json:"tree"`
	UpdatedAt time.Time    `json:"updated_at"`
	FromCache bool         `json:"from_cache"`
}

// Orchestrator coordinates the cache store, freshness checker and tree
// builder behind a per-key single-flight group.
type Orchestrator struct {
	builder     *tree.Builder
	checker     *freshness.Checker
	cache       cache.Store
	ttl         time.Duration
	defaultRoot string
	group       singleflight.Group
}

// NewOrchestrator creates a refresh orchestrator.
func NewOrchestrator(builder *tree.Builder, checker *freshness.Checker, cacheStore cache.Store, ttl time.Duration, defaultRoot string) *Orchestrator {
	return &Orchestrator{
		builder:     builder,
		checker:     checker,
		cache:       cacheStore,
		ttl:         ttl,
		defaultRoot: defaultRoot,
	}
}

// TreeKey returns the cache key for a root folder's document tree.
func TreeKey(rootID string) string {
	return TreeKeyPrefix + rootID
}

// GetTree returns the document tree for a root folder, serving from cache
// when the entry is inside its TTL and passes the freshness check, and
// rebuilding otherwise. Concurrent callers for the same stale key share a
// single rebuild. If a rebuild fails and a previous entry exists, that
// entry is served with FromCache=true and no error; the error surfaces
// only when there is nothing to fall back to.
func (o *Orchestrator) GetTree(ctx context.Context, rootID string) (*Result, error) {
	rootID, err := o.resolveRoot(rootID)
	if err != nil {
		return nil, err
	}
	key := TreeKey(rootID)

	entry, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		logging.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		ok = false
	}

	now := time.Now()
	if ok && !entry.Expired(now) && !o.checker.IsStale(ctx, entry) {
		metrics.RecordCacheLookup("hit")
		return cachedResult(rootID, entry)
	}
	if ok {
		metrics.RecordCacheLookup("expired")
	} else {
		metrics.RecordCacheLookup("miss")
	}

	result, buildErr := o.rebuild(ctx, rootID)
	if buildErr == nil {
		return result, nil
	}

	// Last-known-good fallback: staleness beats a visible failure.
	if ok {
		logging.Warn("rebuild failed, serving stale cache entry",
			zap.String("key", key), zap.Error(buildErr))
		return cachedResult(rootID, entry)
	}
	return nil, buildErr
}

// ForceRefresh rebuilds the tree for a root folder unconditionally,
// bypassing the freshness check. Used by the admin refresh action and the
// scheduled driver.
func (o *Orchestrator) ForceRefresh(ctx context.Context, rootID string) error {
	rootID, err := o.resolveRoot(rootID)
	if err != nil {
		return err
	}
	_, err = o.rebuild(ctx, rootID)
	return err
}

// InvalidateAll clears every cache entry in the document tree namespace.
func (o *Orchestrator) InvalidateAll(ctx context.Context) error {
	removed, err := o.cache.Clear(ctx, TreeKeyPrefix)
	if err != nil {
		return fmt.Errorf("clear tree cache: %w", err)
	}
	logging.Info("tree cache cleared", zap.Int("removed", removed))
	return nil
}

// rebuild runs build -> prune -> store under a per-key single flight.
// Concurrent callers attach to the in-flight build and share its result.
func (o *Orchestrator) rebuild(ctx context.Context, rootID string) (*Result, error) {
	key := TreeKey(rootID)
	v, err, _ := o.group.Do(key, func() (interface{}, error) {
		forest, err := o.builder.BuildTree(ctx, rootID)
		if err != nil {
			return nil, err
		}
		forest = tree.Prune(forest)

		payload, err := json.Marshal(forest)
		if err != nil {
			return nil, fmt.Errorf("encode tree: %w", err)
		}

		// Track the root itself alongside the payload's folders so a
		// change directly under the root still invalidates the entry.
		folderIDs := append([]string{rootID}, tree.FolderIDs(forest)...)

		entry := &cache.Entry{
			Key:             key,
			Payload:         payload,
			FetchedAt:       time.Now(),
			MaxModifiedTime: tree.MaxModifiedTime(forest),
			FolderIDs:       folderIDs,
			TTL:             o.ttl,
		}
		if err := o.cache.Put(ctx, entry); err != nil {
			return nil, fmt.Errorf("store tree: %w", err)
		}

		metrics.SetTreeSize(rootID, tree.CountNodes(forest))
		return &Result{
			RootID:    rootID,
			Tree:      forest,
			UpdatedAt: entry.FetchedAt,
			FromCache: false,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (o *Orchestrator) resolveRoot(rootID string) (string, error) {
	if rootID == "" {
		rootID = o.defaultRoot
	}
	if rootID == "" {
		return "", ErrNoRootConfigured
	}
	return rootID, nil
}

func cachedResult(rootID string, entry *cache.Entry) (*Result, error) {
	var forest []*tree.Node
	if err := json.Unmarshal(entry.Payload, &forest); err != nil {
		return nil, fmt.Errorf("decode cached tree: %w", err)
	}
	return &Result{
		RootID:    rootID,
		Tree:      forest,
		UpdatedAt: entry.FetchedAt,
		FromCache: true,
	}, nil
}
