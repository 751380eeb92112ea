// Package api provides the HTTP server and handlers. The read endpoints
// are anonymous; the refresh and cache-clear actions require an admin
// token. This layer owns presentation concerns the cache core does not,
// in particular sibling ordering (folders first, then name).
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Quantum-Spooky/kgsweb-sub000/internal/auth"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/logging"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/metrics"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/refresh"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/store"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/tree"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/views"
)

// Server is the HTTP server.
type Server struct {
	orch  *refresh.Orchestrator
	views *views.Views
	auth  *auth.Auth
	roots []string
}

// NewServer creates a new server.
func NewServer(orch *refresh.Orchestrator, viewsLayer *views.Views, authHandler *auth.Auth, roots []string) *Server {
	return &Server{
		orch:  orch,
		views: viewsLayer,
		auth:  authHandler,
		roots: roots,
	}
}

// Handler returns the HTTP handler with logging and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public read endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/documents/tree", s.handleTree)
	mux.HandleFunc("GET /api/v1/ticker", s.handleTicker)
	mux.HandleFunc("GET /api/v1/menu", s.handleMenu)

	// Auth
	mux.HandleFunc("POST /api/v1/auth/token", s.auth.HandleLogin)

	// Admin actions
	admin := http.NewServeMux()
	admin.HandleFunc("POST /api/v1/admin/refresh", s.handleAdminRefresh)
	admin.HandleFunc("POST /api/v1/admin/cache/clear", s.handleAdminClear)
	mux.Handle("POST /api/v1/admin/", s.auth.Middleware(admin))

	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTree serves the document tree for ?root=<id>, or the configured
// default root when the parameter is absent.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	result, err := s.orch.GetTree(r.Context(), r.URL.Query().Get("root"))
	if err != nil {
		if errors.Is(err, refresh.ErrNoRootConfigured) {
			sendError(w, http.StatusBadRequest, "no root folder configured")
			return
		}
		if errors.Is(err, store.ErrUnavailable) || errors.Is(err, tree.ErrBuildTimeout) {
			// First-ever build failed with nothing cached: render as an
			// empty result set, not an error page.
			logging.Error("tree unavailable with no cached fallback", zap.Error(err))
			sendJSON(w, http.StatusOK, map[string]any{
				"root_id":    r.URL.Query().Get("root"),
				"tree":       []*tree.Node{},
				"updated_at": time.Time{},
				"from_cache": false,
			})
			return
		}
		sendError(w, http.StatusInternalServerError, "internal error")
		return
	}

	sendJSON(w, http.StatusOK, map[string]any{
		"root_id":    result.RootID,
		"tree":       sortForest(result.Tree),
		"updated_at": result.UpdatedAt,
		"from_cache": result.FromCache,
	})
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	text, err := s.views.Ticker(r.Context())
	if err != nil {
		logging.Error("ticker unavailable", zap.Error(err))
		text = ""
	}
	sendJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request) {
	path, err := s.views.MenuImage(r.Context())
	if err != nil || path == "" {
		sendError(w, http.StatusNotFound, "no menu available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

// handleAdminRefresh forces a rebuild: one root when ?root= is given,
// every configured root (and the views) otherwise.
func (s *Server) handleAdminRefresh(w http.ResponseWriter, r *http.Request) {
	rootID := r.URL.Query().Get("root")
	if rootID != "" {
		if err := s.orch.ForceRefresh(r.Context(), rootID); err != nil {
			sendError(w, http.StatusBadGateway, "refresh failed: "+err.Error())
			return
		}
		sendJSON(w, http.StatusOK, map[string]string{"status": "refreshed", "root": rootID})
		return
	}

	var failed []string
	for _, root := range s.roots {
		if err := s.orch.ForceRefresh(r.Context(), root); err != nil {
			logging.Error("admin refresh failed", zap.String("root", root), zap.Error(err))
			failed = append(failed, root)
		}
	}
	if err := s.views.RefreshTicker(r.Context()); err != nil {
		logging.Error("admin ticker refresh failed", zap.Error(err))
		failed = append(failed, "ticker")
	}
	if err := s.views.RefreshMenu(r.Context()); err != nil {
		logging.Error("admin menu refresh failed", zap.Error(err))
		failed = append(failed, "menu")
	}

	if len(failed) > 0 {
		sendJSON(w, http.StatusBadGateway, map[string]any{
			"status": "partial",
			"failed": failed,
		})
		return
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (s *Server) handleAdminClear(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.InvalidateAll(r.Context()); err != nil {
		sendError(w, http.StatusInternalServerError, "clear failed: "+err.Error())
		return
	}
	if err := s.views.InvalidateAll(r.Context()); err != nil {
		sendError(w, http.StatusInternalServerError, "clear failed: "+err.Error())
		return
	}
	claims := auth.GetClaims(r.Context())
	if claims != nil {
		logging.Info("caches cleared", zap.String("by", claims.Username))
	}
	sendJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// sortForest returns a copy of the forest ordered for display: folders
// before files, then case-insensitive name, ID as the tiebreak. The cache
// layer deliberately leaves siblings unordered.
func sortForest(nodes []*tree.Node) []*tree.Node {
	sorted := make([]*tree.Node, 0, len(nodes))
	for _, n := range nodes {
		node := *n
		if node.IsFolder {
			node.Children = sortForest(n.Children)
		}
		sorted = append(sorted, &node)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.IsFolder != b.IsFolder {
			return a.IsFolder
		}
		an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if an != bn {
			return an < bn
		}
		return a.ID < b.ID
	})
	return sorted
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, msg string) {
	sendJSON(w, status, map[string]string{"error": msg})
}
