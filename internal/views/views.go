// Package views serves the scalar read views (scrolling ticker text,
// daily menu image) that reuse the tree cache's key-value primitive with
// TTL-only staleness.
package views

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/Quantum-Spooky/kgsweb-sub000/internal/cache"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/logging"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/metrics"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/store"
)

// Cache key prefixes for view artifacts.
const (
	TickerKeyPrefix = "ticker:"
	MenuKeyPrefix   = "menu:"
)

const (
	maxTickerBytes = 64 * 1024
	menuMaxWidth   = 1200
	menuMaxHeight  = 1600
	menuQuality    = 85
)

// Config holds the file IDs and output location for the views.
type Config struct {
	TickerFileID string
	MenuFileID   string
	MenuImageDir string
	TTL          time.Duration
}

// Views fetches and caches the ticker text and menu image.
type Views struct {
	store store.FileStore
	cache cache.Store
	cfg   Config
}

// New creates the views layer.
func New(fs store.FileStore, cacheStore cache.Store, cfg Config) *Views {
	return &Views{store: fs, cache: cacheStore, cfg: cfg}
}

// Ticker returns the current ticker text. Serves from cache inside the
// TTL; on fetch failure the last-known-good text is served instead.
func (v *Views) Ticker(ctx context.Context) (string, error) {
	if v.cfg.TickerFileID == "" {
		return "", nil
	}
	key := TickerKeyPrefix + v.cfg.TickerFileID

	entry, ok, _ := v.cache.Get(ctx, key)
	now := time.Now()
	if ok && !entry.Expired(now) {
		metrics.RecordCacheLookup("hit")
		return decodeString(entry.Payload)
	}

	text, err := v.fetchTicker(ctx)
	if err != nil {
		if ok {
			logging.Warn("ticker fetch failed, serving stale text", zap.Error(err))
			return decodeString(entry.Payload)
		}
		return "", err
	}

	if err := v.putString(ctx, key, text); err != nil {
		logging.Warn("ticker cache write failed", zap.Error(err))
	}
	return text, nil
}

// RefreshTicker unconditionally refetches and caches the ticker text.
func (v *Views) RefreshTicker(ctx context.Context) error {
	if v.cfg.TickerFileID == "" {
		return nil
	}
	text, err := v.fetchTicker(ctx)
	if err != nil {
		return err
	}
	return v.putString(ctx, TickerKeyPrefix+v.cfg.TickerFileID, text)
}

func (v *Views) fetchTicker(ctx context.Context) (string, error) {
	body, err := v.store.FetchContent(ctx, v.cfg.TickerFileID)
	if err != nil {
		return "", fmt.Errorf("fetch ticker: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxTickerBytes))
	if err != nil {
		return "", fmt.Errorf("read ticker: %w", err)
	}
	return string(bytes.TrimSpace(data)), nil
}

// MenuImage returns the local path of the generated menu image, fetching
// and regenerating it when the cached one is past its TTL. On failure the
// last generated image path is served.
func (v *Views) MenuImage(ctx context.Context) (string, error) {
	if v.cfg.MenuFileID == "" {
		return "", nil
	}
	key := MenuKeyPrefix + v.cfg.MenuFileID

	entry, ok, _ := v.cache.Get(ctx, key)
	now := time.Now()
	if ok && !entry.Expired(now) {
		if path, err := decodeString(entry.Payload); err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				metrics.RecordCacheLookup("hit")
				return path, nil
			}
		}
	}

	path, err := v.generateMenuImage(ctx)
	if err != nil {
		if ok {
			if stale, decErr := decodeString(entry.Payload); decErr == nil {
				logging.Warn("menu image refresh failed, serving stale image", zap.Error(err))
				return stale, nil
			}
		}
		return "", err
	}

	if err := v.putString(ctx, key, path); err != nil {
		logging.Warn("menu cache write failed", zap.Error(err))
	}
	return path, nil
}

// RefreshMenu unconditionally regenerates and caches the menu image.
func (v *Views) RefreshMenu(ctx context.Context) error {
	if v.cfg.MenuFileID == "" {
		return nil
	}
	path, err := v.generateMenuImage(ctx)
	if err != nil {
		return err
	}
	return v.putString(ctx, MenuKeyPrefix+v.cfg.MenuFileID, path)
}

// generateMenuImage fetches the source file, fits it into the display
// bounds and writes a JPEG atomically (temp file then rename).
func (v *Views) generateMenuImage(ctx context.Context) (string, error) {
	body, err := v.store.FetchContent(ctx, v.cfg.MenuFileID)
	if err != nil {
		return "", fmt.Errorf("fetch menu: %w", err)
	}
	defer body.Close()

	img, _, err := image.Decode(body)
	if err != nil {
		return "", fmt.Errorf("decode menu image: %w", err)
	}
	fitted := imaging.Fit(img, menuMaxWidth, menuMaxHeight, imaging.Lanczos)

	if err := os.MkdirAll(v.cfg.MenuImageDir, 0755); err != nil {
		return "", fmt.Errorf("create menu dir: %w", err)
	}

	path := filepath.Join(v.cfg.MenuImageDir, "menu.jpg")
	tempPath := path + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if err := jpeg.Encode(f, fitted, &jpeg.Options{Quality: menuQuality}); err != nil {
		f.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("encode menu image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename temp file: %w", err)
	}

	logging.Debug("menu image generated", zap.String("path", path))
	return path, nil
}

// InvalidateAll clears the cached ticker text and menu image path.
func (v *Views) InvalidateAll(ctx context.Context) error {
	for _, prefix := range []string{TickerKeyPrefix, MenuKeyPrefix} {
		if _, err := v.cache.Clear(ctx, prefix); err != nil {
			return fmt.Errorf("clear %s cache: %w", prefix, err)
		}
	}
	return nil
}

func (v *Views) putString(ctx context.Context, key, value string) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return v.cache.Put(ctx, &cache.Entry{
		Key:       key,
		Payload:   payload,
		FetchedAt: time.Now(),
		TTL:       v.cfg.TTL,
	})
}

func decodeString(payload json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(payload, &s); err != nil {
		return "", fmt.Errorf("decode cached value: %w", err)
	}
	return s, nil
}
