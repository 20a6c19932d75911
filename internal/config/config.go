// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Engine     EngineConfig
	Cache      CacheConfig
	Batch      BatchConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
	Vocabulary VocabularyConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 5m)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"5m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 2m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"2m"`

	// MaxUploadSize caps multipart uploads in bytes (default: 100MB)
	MaxUploadSize int64 `env:"SERVER_MAX_UPLOAD_SIZE" default:"104857600"`
}

// StoreConfig selects and tunes the persistence backend.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres (default: sqlite)
	Driver string `env:"STORE_DRIVER" default:"sqlite"`

	// DSN is a file path for sqlite or a connection string for postgres.
	// DATABASE_URL is accepted for compatibility.
	DSN string `env:"STORE_DSN" envAlt:"DATABASE_URL" default:"categorizer.db"`

	// MaxConns is the maximum number of postgres pool connections (default: 10)
	MaxConns int `env:"STORE_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of postgres connections to keep open (default: 2)
	MinConns int `env:"STORE_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"STORE_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"STORE_MAX_CONN_IDLE_TIME" default:"30m"`
}

// EngineConfig holds classification settings.
type EngineConfig struct {
	// AutoGenerate creates a template when none is stored for a schema (default: true)
	AutoGenerate bool `env:"ENGINE_AUTO_GENERATE" default:"true"`

	// SampleSize is the number of records used to recognize a batch (default: 100)
	SampleSize int `env:"ENGINE_SAMPLE_SIZE" default:"100"`

	// BatchSize is the number of records per chunk (default: 100)
	BatchSize int `env:"ENGINE_BATCH_SIZE" default:"100"`

	// Workers is the number of chunks processed concurrently; 0 means NumCPU
	Workers int `env:"ENGINE_WORKERS" default:"0"`
}

// CacheConfig bounds the schema and template caches.
type CacheConfig struct {
	SchemaSize   int           `env:"CACHE_SCHEMA_SIZE" default:"256"`
	TemplateSize int           `env:"CACHE_TEMPLATE_SIZE" default:"256"`
	TTL          time.Duration `env:"CACHE_TTL" default:"1h"`
}

// BatchConfig holds batch admission settings.
type BatchConfig struct {
	// MaxConcurrent is the maximum number of batches running at once (default: 4)
	MaxConcurrent int `env:"BATCH_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for a batch slot (default: 30s)
	MaxWaitTime time.Duration `env:"BATCH_MAX_WAIT_TIME" default:"30s"`

	// MaxRecords caps the records accepted by one batch request (default: 100000)
	MaxRecords int `env:"BATCH_MAX_RECORDS" default:"100000"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`

	// BatchLimit is requests per minute for batch and upload endpoints (default: 20)
	BatchLimit int `env:"RATE_LIMIT_BATCH" default:"20"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey rejects API requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// VocabularyConfig locates the industry vocabulary.
type VocabularyConfig struct {
	// Path is a YAML vocabulary file; empty uses the built-in one
	Path string `env:"VOCABULARY_PATH"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
