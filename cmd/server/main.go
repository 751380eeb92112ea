// kgsweb server
//
// Mirrors a remote drive's folder hierarchy into a local read-optimized
// cache and serves it to anonymous web visitors:
// - document tree with early invalidation and single-flight rebuilds
// - scrolling ticker text and daily menu image
// - Prometheus metrics & structured logging (zap)
// - admin refresh / cache-clear actions behind JWT auth
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Quantum-Spooky/kgsweb-sub000/internal/api"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/auth"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/cache"
	cachepg "github.com/Quantum-Spooky/kgsweb-sub000/internal/cache/postgres"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/config"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/freshness"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/logging"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/metrics"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/refresh"
	s3store "github.com/Quantum-Spooky/kgsweb-sub000/internal/store/s3"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/tree"
	"github.com/Quantum-Spooky/kgsweb-sub000/internal/views"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("kgsweb server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// File store
	fileStore, err := s3store.New(ctx, s3store.Config{
		Endpoint:  cfg.S3Endpoint,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		logging.Fatal("file store init failed", zap.Error(err))
	}

	// Cache backend
	var cacheStore cache.Store
	switch cfg.CacheBackend {
	case "postgres":
		pgStore, err := cachepg.New(cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("postgres cache init failed", zap.Error(err))
		}
		cacheStore = pgStore
		logging.Info("using postgres cache backend")
	default:
		cacheStore = cache.NewMemoryStore()
		logging.Info("using in-memory cache backend")
	}
	defer cacheStore.Close()

	// Caching core
	builder := tree.NewBuilder(fileStore, cfg.BuildMaxPages, cfg.BuildTimeout)
	checker := freshness.NewChecker(fileStore, cfg.BuildMaxPages)
	orch := refresh.NewOrchestrator(builder, checker, cacheStore, cfg.CacheTTL, cfg.DefaultRootID)

	// Views
	viewsLayer := views.New(fileStore, cacheStore, views.Config{
		TickerFileID: cfg.TickerFileID,
		MenuFileID:   cfg.MenuFileID,
		MenuImageDir: cfg.MenuImageDir,
		TTL:          cfg.CacheTTL,
	})

	// Scheduled refresh driver
	scheduler := refresh.NewScheduler(orch, cfg.RootIDs(), cfg.RefreshInterval)
	scheduler.AddTask("ticker", viewsLayer.RefreshTicker)
	scheduler.AddTask("menu", viewsLayer.RefreshMenu)
	go scheduler.Run(ctx)

	// Metrics server
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := http.ListenAndServe(cfg.MetricsAddr, metrics.Handler()); err != nil && err != http.ErrServerClosed {
			logging.Error("metrics server failed", zap.Error(err))
		}
	}()

	// API server
	authHandler := auth.New(cfg.AdminUser, cfg.AdminPasswordHash, cfg.JWTSecret, cfg.TokenTTL)
	server := api.NewServer(orch, viewsLayer, authHandler, cfg.RootIDs())

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Handler(),
	}

	go func() {
		logging.Info("api server listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal("api server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error("shutdown error", zap.Error(err))
	}
	logging.Info("server stopped")
}
