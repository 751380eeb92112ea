// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all kgsweb server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// File store (S3-compatible)
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Cache backend ("memory" or "postgres")
	CacheBackend string
	DatabaseURL  string

	// Document tree
	DefaultRootID string        // root folder for the documents view
	ExtraRootIDs  []string      // additional roots refreshed by the scheduler
	CacheTTL      time.Duration // hard staleness ceiling per entry

	// Tree build bounds
	BuildTimeout  time.Duration
	BuildMaxPages int

	// Scheduled refresh
	RefreshInterval time.Duration

	// Views
	TickerFileID string
	MenuFileID   string
	MenuImageDir string

	// Admin auth
	AdminUser         string
	AdminPasswordHash string // bcrypt hash
	JWTSecret         string
	TokenTTL          time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr: envOr("METRICS_ADDR", ":9090"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "json"),

		S3Endpoint:  envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:    envOr("S3_BUCKET", "kgsweb"),
		S3AccessKey: envOr("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey: envOr("S3_SECRET_KEY", "minioadmin"),
		S3Region:    envOr("S3_REGION", "us-east-1"),
		S3UseSSL:    envBool("S3_USE_SSL", false),

		CacheBackend: envOr("CACHE_BACKEND", "memory"),
		DatabaseURL:  envOr("DATABASE_URL", ""),

		DefaultRootID: envOr("DOCUMENTS_ROOT_ID", ""),
		ExtraRootIDs:  envList("EXTRA_ROOT_IDS"),
		CacheTTL:      envDuration("CACHE_TTL", time.Hour),

		BuildTimeout:  envDuration("BUILD_TIMEOUT", 2*time.Minute),
		BuildMaxPages: envInt("BUILD_MAX_PAGES", 1000),

		RefreshInterval: envDuration("REFRESH_INTERVAL", 15*time.Minute),

		TickerFileID: envOr("TICKER_FILE_ID", ""),
		MenuFileID:   envOr("MENU_FILE_ID", ""),
		MenuImageDir: envOr("MENU_IMAGE_DIR", "/data/menu"),

		AdminUser:         envOr("ADMIN_USER", "admin"),
		AdminPasswordHash: envOr("ADMIN_PASSWORD_HASH", ""),
		JWTSecret:         envOr("JWT_SECRET", ""),
		TokenTTL:          envDuration("TOKEN_TTL", 12*time.Hour),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.CacheBackend == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when CACHE_BACKEND=postgres")
	}
	if cfg.BuildMaxPages <= 0 {
		return nil, fmt.Errorf("BUILD_MAX_PAGES must be positive")
	}

	return cfg, nil
}

// RootIDs returns the default root plus any extra roots, without duplicates.
func (c *Config) RootIDs() []string {
	seen := make(map[string]bool)
	var roots []string
	for _, id := range append([]string{c.DefaultRootID}, c.ExtraRootIDs...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		roots = append(roots, id)
	}
	return roots
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
