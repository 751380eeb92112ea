package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Quantum-Spooky/kgsweb-sub000/internal/auth"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/cache"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/freshness"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/refresh"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/retry"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/store"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/tree"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/views"
)

// fakeStore is a minimal FileStore for end-to-end handler tests.
type fakeStore struct {
	mu       sync.Mutex
	children map[string][]store.Item
	files    map[string][]byte
	failAll  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		children: make(map[string][]store.Item),
		files:    make(map[string][]byte),
	}
}

func (f *fakeStore) ListChildren(ctx context.Context, folderID, pageToken string) (*store.ChildPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("store down")
	}
	return &store.ChildPage{Items: f.children[folderID]}, nil
}

func (f *fakeStore) GetModifiedSince(ctx context.Context, since time.Time, pageToken string) (*store.ChangePage, error) {
	return &store.ChangePage{}, nil
}

func (f *fakeStore) FetchContent(ctx context.Context, fileID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[fileID]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

const (
	testAdminUser = "admin"
	testAdminPass = "hunter2"
)

func newTestServer(t *testing.T, fs *fakeStore) *httptest.Server {
	t.Helper()

	builder := tree.NewBuilder(fs, 1000, 5*time.Second)
	builder.SetRetryConfig(retry.Config{
		MaxAttempts: 1,
		InitialWait: time.Millisecond,
		MaxWait:     time.Millisecond,
		Multiplier:  1,
	})
	checker := freshness.NewChecker(fs, 100)
	cacheStore := cache.NewMemoryStore()
	orch := refresh.NewOrchestrator(builder, checker, cacheStore, time.Hour, "root")

	viewsLayer := views.New(fs, cacheStore, views.Config{
		TickerFileID: "ticker.txt",
		MenuImageDir: t.TempDir(),
		TTL:          time.Hour,
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminPass), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	authHandler := auth.New(testAdminUser, string(hash), "test-secret", time.Hour)

	server := NewServer(orch, viewsLayer, authHandler, []string{"root"})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode
}

func TestTreeEndpoint_SortsFoldersFirstThenName(t *testing.T) {
	fs := newFakeStore()
	fs.children["root"] = []store.Item{
		{ID: "zeta.pdf", Name: "zeta.pdf", Type: store.TypeFile, ModifiedTime: time.Now()},
		{ID: "beta", Name: "beta", Type: store.TypeFolder},
		{ID: "alpha.pdf", Name: "alpha.pdf", Type: store.TypeFile, ModifiedTime: time.Now()},
		{ID: "Alpha", Name: "Alpha", Type: store.TypeFolder},
	}
	fs.children["beta"] = []store.Item{{ID: "beta/x.pdf", Name: "x.pdf", Type: store.TypeFile, ModifiedTime: time.Now()}}
	fs.children["Alpha"] = []store.Item{{ID: "Alpha/y.pdf", Name: "y.pdf", Type: store.TypeFile, ModifiedTime: time.Now()}}
	ts := newTestServer(t, fs)

	var body struct {
		RootID string       `json:"root_id"`
		Tree   []*tree.Node `json:"tree"`
	}
	if status := getJSON(t, ts.URL+"/api/v1/documents/tree", &body); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}

	want := []string{"Alpha", "beta", "alpha.pdf", "zeta.pdf"}
	if len(body.Tree) != len(want) {
		t.Fatalf("got %d nodes, want %d", len(body.Tree), len(want))
	}
	for i, name := range want {
		if body.Tree[i].Name != name {
			t.Errorf("position %d: got %q, want %q", i, body.Tree[i].Name, name)
		}
	}
	if body.RootID != "root" {
		t.Errorf("default root not applied: %q", body.RootID)
	}
}

func TestTreeEndpoint_EmptyFolderPruned(t *testing.T) {
	fs := newFakeStore()
	fs.children["root"] = []store.Item{
		{ID: "Empty", Name: "Empty", Type: store.TypeFolder},
		{ID: "a.pdf", Name: "a.pdf", Type: store.TypeFile, ModifiedTime: time.Now()},
	}
	ts := newTestServer(t, fs)

	var body struct {
		Tree []*tree.Node `json:"tree"`
	}
	getJSON(t, ts.URL+"/api/v1/documents/tree", &body)

	if len(body.Tree) != 1 || body.Tree[0].Name != "a.pdf" {
		t.Fatalf("empty folder leaked into response: %+v", body.Tree)
	}
}

func TestTreeEndpoint_OutageRendersEmptyTree(t *testing.T) {
	fs := newFakeStore()
	fs.failAll = true
	ts := newTestServer(t, fs)

	var body struct {
		Tree []*tree.Node `json:"tree"`
	}
	status := getJSON(t, ts.URL+"/api/v1/documents/tree", &body)
	if status != http.StatusOK {
		t.Fatalf("outage with no cache should render empty, got status %d", status)
	}
	if len(body.Tree) != 0 {
		t.Errorf("got %d nodes, want 0", len(body.Tree))
	}
}

func TestTickerEndpoint(t *testing.T) {
	fs := newFakeStore()
	fs.files["ticker.txt"] = []byte("sports day moved to monday")
	ts := newTestServer(t, fs)

	var body struct {
		Text string `json:"text"`
	}
	if status := getJSON(t, ts.URL+"/api/v1/ticker", &body); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if body.Text != "sports day moved to monday" {
		t.Errorf("got %q", body.Text)
	}
}

func login(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	creds, _ := json.Marshal(map[string]string{
		"username": testAdminUser,
		"password": testAdminPass,
	})
	resp, err := http.Post(ts.URL+"/api/v1/auth/token", "application/json", bytes.NewReader(creds))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	return body.Token
}

func postWithToken(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAdminEndpoints_RequireToken(t *testing.T) {
	fs := newFakeStore()
	fs.children["root"] = []store.Item{
		{ID: "a.pdf", Name: "a.pdf", Type: store.TypeFile, ModifiedTime: time.Now()},
	}
	fs.files["ticker.txt"] = []byte("x")
	ts := newTestServer(t, fs)

	if resp := postWithToken(t, ts.URL+"/api/v1/admin/refresh", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated refresh: status %d, want 401", resp.StatusCode)
	}
	if resp := postWithToken(t, ts.URL+"/api/v1/admin/cache/clear", "garbage-token"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token clear: status %d, want 401", resp.StatusCode)
	}

	token := login(t, ts)
	if resp := postWithToken(t, ts.URL+"/api/v1/admin/refresh?root=root", token); resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated refresh: status %d, want 200", resp.StatusCode)
	}
	if resp := postWithToken(t, ts.URL+"/api/v1/admin/cache/clear", token); resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated clear: status %d, want 200", resp.StatusCode)
	}
}

func TestLogin_RejectsBadPassword(t *testing.T) {
	ts := newTestServer(t, newFakeStore())

	creds, _ := json.Marshal(map[string]string{
		"username": testAdminUser,
		"password": "wrong",
	})
	resp, err := http.Post(ts.URL+"/api/v1/auth/token", "application/json", bytes.NewReader(creds))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status %d, want 401", resp.StatusCode)
	}
}
