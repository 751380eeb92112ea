package refresh

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Quantum-Spooky/kgsweb-sub000/internal/cache"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/freshness"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/retry"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/store"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/tree"
)

// fakeStore drives the orchestrator: canned listings, canned changes,
// failure injection, and an optional gate to hold listings open so
// concurrent rebuilds can be observed.
type fakeStore struct {
	mu       sync.Mutex
	children map[string][]store.Item
	changes  []store.Change
	failAll  bool

	rootListings int32         // full-traversal count (root listed from page one)
	gate         chan struct{} // when set, ListChildren blocks until closed
	started      chan struct{} // closed on the first gated listing
	startOnce    sync.Once
}

func newFakeStore() *fakeStore {
	return &fakeStore{children: make(map[string][]store.Item)}
}

func (f *fakeStore) addFile(parentID, id string, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.children[parentID] = append(f.children[parentID], store.Item{
		ID: id, Name: id, Type: store.TypeFile, ModifiedTime: modified,
	})
}

func (f *fakeStore) addFolder(parentID, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.children[parentID] = append(f.children[parentID], store.Item{
		ID: id, Name: id, Type: store.TypeFolder,
	})
}

func (f *fakeStore) setChanges(changes ...store.Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = changes
}

func (f *fakeStore) ListChildren(ctx context.Context, folderID, pageToken string) (*store.ChildPage, error) {
	f.mu.Lock()
	fail := f.failAll
	items := append([]store.Item(nil), f.children[folderID]...)
	gate := f.gate
	f.mu.Unlock()

	if fail {
		return nil, errors.New("store down")
	}
	if pageToken == "" && folderID == "root" {
		atomic.AddInt32(&f.rootListings, 1)
		if gate != nil {
			f.startOnce.Do(func() { close(f.started) })
			<-gate
		}
	}
	return &store.ChildPage{Items: items}, nil
}

func (f *fakeStore) GetModifiedSince(ctx context.Context, since time.Time, pageToken string) (*store.ChangePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("store down")
	}
	page := &store.ChangePage{}
	for _, c := range f.changes {
		if c.ModifiedTime.After(since) {
			page.Changes = append(page.Changes, c)
		}
	}
	return page, nil
}

func (f *fakeStore) FetchContent(ctx context.Context, fileID string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func newOrchestrator(fs store.FileStore, ttl time.Duration, defaultRoot string) *Orchestrator {
	builder := tree.NewBuilder(fs, 1000, 5*time.Second)
	builder.SetRetryConfig(retry.Config{
		MaxAttempts: 1,
		InitialWait: time.Millisecond,
		MaxWait:     time.Millisecond,
		Multiplier:  1,
	})
	checker := freshness.NewChecker(fs, 100)
	return NewOrchestrator(builder, checker, cache.NewMemoryStore(), ttl, defaultRoot)
}

func TestGetTree_BuildsThenServesFromCache(t *testing.T) {
	fs := newFakeStore()
	fs.addFile("root", "a.pdf", time.Now())
	orch := newOrchestrator(fs, time.Hour, "")
	ctx := context.Background()

	first, err := orch.GetTree(ctx, "root")
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if first.FromCache {
		t.Error("first call should be a fresh build")
	}
	if len(first.Tree) != 1 || first.Tree[0].Name != "a.pdf" {
		t.Fatalf("unexpected tree: %+v", first.Tree)
	}

	second, err := orch.GetTree(ctx, "root")
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if !second.FromCache {
		t.Error("second call should hit the cache")
	}
	if got := atomic.LoadInt32(&fs.rootListings); got != 1 {
		t.Errorf("store traversed %d times, want 1", got)
	}
}

func TestGetTree_PrunesEmptyFolders(t *testing.T) {
	fs := newFakeStore()
	fs.addFolder("root", "Empty")
	fs.addFile("root", "a.pdf", time.Now())
	orch := newOrchestrator(fs, time.Hour, "")

	result, err := orch.GetTree(context.Background(), "root")
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if len(result.Tree) != 1 {
		t.Fatalf("got %d nodes, want 1: %+v", len(result.Tree), result.Tree)
	}
	if result.Tree[0].Name != "a.pdf" || result.Tree[0].IsFolder {
		t.Errorf("empty folder should be pruned, got %+v", result.Tree[0])
	}
}

func TestGetTree_SingleFlight(t *testing.T) {
	fs := newFakeStore()
	fs.addFile("root", "a.pdf", time.Now())
	fs.gate = make(chan struct{})
	fs.started = make(chan struct{})
	orch := newOrchestrator(fs, time.Hour, "")

	const concurrency = 10
	var wg sync.WaitGroup
	results := make([]*Result, concurrency)
	errs := make([]error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = orch.GetTree(context.Background(), "root")
		}(i)
	}

	// Let every caller reach the orchestrator while one build is held
	// open, then release it.
	<-fs.started
	time.Sleep(50 * time.Millisecond)
	close(fs.gate)
	wg.Wait()

	for i := 0; i < concurrency; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if len(results[i].Tree) != 1 {
			t.Fatalf("caller %d got %d nodes", i, len(results[i].Tree))
		}
	}
	if got := atomic.LoadInt32(&fs.rootListings); got != 1 {
		t.Errorf("store traversed %d times under concurrency, want 1", got)
	}
}

func TestGetTree_FallsBackToStaleEntryOnRebuildFailure(t *testing.T) {
	fs := newFakeStore()
	now := time.Now()
	fs.addFile("root", "a.pdf", now.Add(-time.Hour))
	orch := newOrchestrator(fs, time.Hour, "")
	ctx := context.Background()

	if _, err := orch.GetTree(ctx, "root"); err != nil {
		t.Fatalf("seed build: %v", err)
	}

	// A relevant change makes the entry stale, and the store goes down
	// before the rebuild can run.
	fs.setChanges(store.Change{ID: "x", ParentIDs: []string{"root"}, ModifiedTime: now})
	fs.mu.Lock()
	fs.failAll = true
	fs.mu.Unlock()

	result, err := orch.GetTree(ctx, "root")
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if !result.FromCache {
		t.Error("fallback result should be marked from cache")
	}
	if len(result.Tree) != 1 || result.Tree[0].Name != "a.pdf" {
		t.Errorf("fallback should serve the previous tree, got %+v", result.Tree)
	}
}

func TestGetTree_ErrorWhenNoFallbackExists(t *testing.T) {
	fs := newFakeStore()
	fs.failAll = true
	orch := newOrchestrator(fs, time.Hour, "")

	_, err := orch.GetTree(context.Background(), "root")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestGetTree_FreshnessTriggersRebuildInsideTTL(t *testing.T) {
	fs := newFakeStore()
	now := time.Now()
	fs.addFile("root", "a.pdf", now.Add(-time.Hour))
	orch := newOrchestrator(fs, time.Hour, "")
	ctx := context.Background()

	if _, err := orch.GetTree(ctx, "root"); err != nil {
		t.Fatalf("seed build: %v", err)
	}

	// A file under the root changes ten minutes later; TTL has not
	// expired but the freshness check must force a rebuild.
	fs.addFile("root", "b.pdf", now.Add(-50*time.Minute))
	fs.setChanges(store.Change{ID: "b.pdf", ParentIDs: []string{"root"}, ModifiedTime: now.Add(-50 * time.Minute)})

	result, err := orch.GetTree(ctx, "root")
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if result.FromCache {
		t.Error("stale entry should have been rebuilt, not served")
	}
	if len(result.Tree) != 2 {
		t.Errorf("rebuilt tree should include the new file, got %d nodes", len(result.Tree))
	}
	if got := atomic.LoadInt32(&fs.rootListings); got != 2 {
		t.Errorf("store traversed %d times, want 2", got)
	}
}

func TestGetTree_NoRootConfigured(t *testing.T) {
	orch := newOrchestrator(newFakeStore(), time.Hour, "")

	_, err := orch.GetTree(context.Background(), "")
	if !errors.Is(err, ErrNoRootConfigured) {
		t.Fatalf("got %v, want ErrNoRootConfigured", err)
	}
}

func TestGetTree_DefaultRoot(t *testing.T) {
	fs := newFakeStore()
	fs.addFile("root", "a.pdf", time.Now())
	orch := newOrchestrator(fs, time.Hour, "root")

	result, err := orch.GetTree(context.Background(), "")
	if err != nil {
		t.Fatalf("GetTree: %v", err)
	}
	if result.RootID != "root" {
		t.Errorf("got root %q, want the configured default", result.RootID)
	}
}

func TestForceRefresh_BypassesFreshness(t *testing.T) {
	fs := newFakeStore()
	fs.addFile("root", "a.pdf", time.Now())
	orch := newOrchestrator(fs, time.Hour, "")
	ctx := context.Background()

	if _, err := orch.GetTree(ctx, "root"); err != nil {
		t.Fatalf("seed build: %v", err)
	}
	if err := orch.ForceRefresh(ctx, "root"); err != nil {
		t.Fatalf("ForceRefresh: %v", err)
	}
	if got := atomic.LoadInt32(&fs.rootListings); got != 2 {
		t.Errorf("force refresh should always traverse, got %d traversals", got)
	}
}

func TestForceRefresh_SurfacesErrors(t *testing.T) {
	fs := newFakeStore()
	fs.failAll = true
	orch := newOrchestrator(fs, time.Hour, "")

	if err := orch.ForceRefresh(context.Background(), "root"); err == nil {
		t.Fatal("ForceRefresh should report the build failure")
	}
}

func TestInvalidateAll_ClearsTreeNamespaceOnly(t *testing.T) {
	fs := newFakeStore()
	fs.addFile("root", "a.pdf", time.Now())
	cacheStore := cache.NewMemoryStore()

	builder := tree.NewBuilder(fs, 1000, 5*time.Second)
	checker := freshness.NewChecker(fs, 100)
	orch := NewOrchestrator(builder, checker, cacheStore, time.Hour, "")
	ctx := context.Background()

	if _, err := orch.GetTree(ctx, "root"); err != nil {
		t.Fatalf("seed build: %v", err)
	}
	cacheStore.Put(ctx, &cache.Entry{Key: "ticker:t", FetchedAt: time.Now(), TTL: time.Hour})

	if err := orch.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}
	if _, ok, _ := cacheStore.Get(ctx, TreeKey("root")); ok {
		t.Error("tree entry survived InvalidateAll")
	}
	if _, ok, _ := cacheStore.Get(ctx, "ticker:t"); !ok {
		t.Error("ticker entry should survive tree invalidation")
	}
}
