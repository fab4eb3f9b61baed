// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"

	"github.com/JonMunkholm/Reconcile/internal/catalog"
	"github.com/JonMunkholm/Reconcile/internal/core"
	"github.com/JonMunkholm/Reconcile/internal/store"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Catalog  CatalogConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver selects the backend: postgres or sqlite (default: sqlite)
	Driver string `env:"DB_DRIVER" default:"sqlite"`

	// URL is the PostgreSQL connection string, required for the postgres driver.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// SQLitePath is the database file for the sqlite driver (default: reconcile.db)
	SQLitePath string `env:"SQLITE_PATH" default:"reconcile.db"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds reconciliation engine settings.
type ImportConfig struct {
	// MaxFileSize is the maximum allowed source file size in bytes (default: 50MB)
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"52428800"`

	// PromptTimeout is how long a prompt waits before the session pauses (default: 30m)
	PromptTimeout time.Duration `env:"IMPORT_PROMPT_TIMEOUT" default:"30m"`

	// SweepInterval is how often expired prompts are checked (default: 1m)
	SweepInterval time.Duration `env:"IMPORT_SWEEP_INTERVAL" default:"1m"`

	// CandidateLimit is the number of candidates shown per prompt (default: 10)
	CandidateLimit int `env:"IMPORT_CANDIDATE_LIMIT" default:"10"`

	// MaxConcurrentRuns is the number of sessions driven in parallel (default: 5)
	MaxConcurrentRuns int `env:"IMPORT_MAX_CONCURRENT_RUNS" default:"5"`

	// RunWait is how long to wait for a free run slot (default: 30s)
	RunWait time.Duration `env:"IMPORT_RUN_WAIT" default:"30s"`

	// RunTimeout bounds one background run of a session (default: 10m)
	RunTimeout time.Duration `env:"IMPORT_RUN_TIMEOUT" default:"10m"`

	// Async drives sessions in the background after a request returns (default: true)
	Async bool `env:"IMPORT_ASYNC" default:"true"`
}

// CatalogConfig holds catalog lookup settings.
type CatalogConfig struct {
	// BaseURL is the catalog HTTP API. Empty uses SnapshotPath instead.
	BaseURL string `env:"CATALOG_URL"`

	// SnapshotPath is a YAML catalog snapshot for offline use
	SnapshotPath string `env:"CATALOG_SNAPSHOT"`

	// Timeout bounds one catalog request (default: 10s)
	Timeout time.Duration `env:"CATALOG_TIMEOUT" default:"10s"`

	// CacheSize is the number of cached lookups, 0 disables the cache (default: 1024)
	CacheSize int `env:"CATALOG_CACHE_SIZE" default:"1024"`

	// CacheTTL is how long a cached lookup stays valid (default: 15m)
	CacheTTL time.Duration `env:"CATALOG_CACHE_TTL" default:"15m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for import start endpoints (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey rejects requests without a valid X-API-Key header (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys maps keys to operators as comma-separated key:owner pairs
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// StoreOptions converts database settings for store.Open.
func (c *DatabaseConfig) StoreOptions() store.Options {
	return store.Options{
		Driver:          c.Driver,
		URL:             c.URL,
		SQLitePath:      c.SQLitePath,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
	}
}

// Options converts catalog settings for catalog.Open.
func (c *CatalogConfig) Options() catalog.Options {
	return catalog.Options{
		BaseURL:      c.BaseURL,
		SnapshotPath: c.SnapshotPath,
		Timeout:      c.Timeout,
		CacheSize:    c.CacheSize,
		CacheTTL:     c.CacheTTL,
	}
}

// ServiceConfig converts import settings for core.NewService.
func (c *ImportConfig) ServiceConfig() core.ServiceConfig {
	return core.ServiceConfig{
		PromptTimeout:     c.PromptTimeout,
		CandidateLimit:    c.CandidateLimit,
		MaxConcurrentRuns: c.MaxConcurrentRuns,
		RunWait:           c.RunWait,
		RunTimeout:        c.RunTimeout,
		MaxFileSize:       c.MaxFileSize,
		Async:             c.Async,
	}
}
