// Package config holds the process configuration, constructed once at
// startup and passed by reference into every component that needs it.
// Business logic never reads environment variables directly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// Config carries every tunable of the service.
type Config struct {
	// Mode selects whether submissions wait for the pipeline (sync) or
	// return a processing placeholder immediately (async).
	Mode imagecache.Mode

	// DedupMode selects the synchronous-mode behavior when the lock
	// polling budget is exhausted: lenient proceeds without the lock,
	// strict fails the request.
	DedupMode imagecache.DedupMode

	// CacheTTL is the lifetime of ready cache entries.
	CacheTTL time.Duration

	// PlaceholderTTL is the lifetime of processing placeholders written
	// by the async submit path. A failed job leaves its placeholder to
	// expire on this clock, after which the identity is reprocessable.
	PlaceholderTTL time.Duration

	// LockTTL bounds how long a crashed or slow lock holder can block
	// other workers.
	LockTTL time.Duration

	// LockPollAttempts and LockPollDelay shape the bounded wait for the
	// lock in synchronous mode.
	LockPollAttempts int
	LockPollDelay    time.Duration

	// SignedURLTTL is the lifetime of presigned retrieval URLs.
	SignedURLTTL time.Duration

	HTTPAddr       string
	MaxUploadBytes int64
	Workers        int
	QueueSize      int

	RedisURL    string
	DatabaseURL string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

// Default returns a Config with the reference defaults.
func Default() Config {
	return Config{
		Mode:             imagecache.ModeSync,
		DedupMode:        imagecache.DedupLenient,
		CacheTTL:         1200 * time.Second,
		PlaceholderTTL:   300 * time.Second,
		LockTTL:          120 * time.Second,
		LockPollAttempts: 10,
		LockPollDelay:    200 * time.Millisecond,
		SignedURLTTL:     3600 * time.Second,
		HTTPAddr:         ":8080",
		MaxUploadBytes:   20 * 1024 * 1024,
		Workers:          4,
		QueueSize:        64,
		MinioBucket:      "images",
	}
}

// FromEnv builds a Config from environment variables, falling back to the
// defaults for anything unset or unparsable.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("PROCESSING_MODE"); v != "" {
		cfg.Mode = imagecache.Mode(v)
	}
	if v := os.Getenv("DEDUP_MODE"); v != "" {
		cfg.DedupMode = imagecache.DedupMode(v)
	}
	if n, ok := envInt("CACHE_TTL_SECONDS"); ok {
		cfg.CacheTTL = time.Duration(n) * time.Second
	}
	if n, ok := envInt("PLACEHOLDER_TTL_SECONDS"); ok {
		cfg.PlaceholderTTL = time.Duration(n) * time.Second
	}
	if n, ok := envInt("LOCK_TTL_MS"); ok {
		cfg.LockTTL = time.Duration(n) * time.Millisecond
	}
	if n, ok := envInt("LOCK_POLL_ATTEMPTS"); ok {
		cfg.LockPollAttempts = n
	}
	if n, ok := envInt("LOCK_POLL_DELAY_MS"); ok {
		cfg.LockPollDelay = time.Duration(n) * time.Millisecond
	}
	if n, ok := envInt("S3_SIGNED_URL_TTL"); ok {
		cfg.SignedURLTTL = time.Duration(n) * time.Second
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if n, ok := envInt("MAX_UPLOAD_MB"); ok {
		cfg.MaxUploadBytes = int64(n) * 1024 * 1024
	}
	if n, ok := envInt("WORKER_COUNT"); ok {
		cfg.Workers = n
	}
	if n, ok := envInt("QUEUE_SIZE"); ok {
		cfg.QueueSize = n
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.MinioEndpoint = os.Getenv("MINIO_ENDPOINT")
	cfg.MinioAccessKey = os.Getenv("MINIO_ACCESS_KEY")
	cfg.MinioSecretKey = os.Getenv("MINIO_SECRET_KEY")
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		cfg.MinioUseSSL = v == "true" || v == "1"
	}

	return cfg
}

// Validate checks the mode enums and numeric constraints.
func (c Config) Validate() error {
	if c.Mode != imagecache.ModeSync && c.Mode != imagecache.ModeAsync {
		return fmt.Errorf("invalid processing mode: %q", c.Mode)
	}
	if c.DedupMode != imagecache.DedupLenient && c.DedupMode != imagecache.DedupStrict {
		return fmt.Errorf("invalid dedup mode: %q", c.DedupMode)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %v", c.CacheTTL)
	}
	if c.PlaceholderTTL <= 0 {
		return fmt.Errorf("placeholder TTL must be positive, got %v", c.PlaceholderTTL)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock TTL must be positive, got %v", c.LockTTL)
	}
	if c.LockPollAttempts < 0 {
		return fmt.Errorf("lock poll attempts cannot be negative, got %d", c.LockPollAttempts)
	}
	if c.SignedURLTTL <= 0 {
		return fmt.Errorf("signed URL TTL must be positive, got %v", c.SignedURLTTL)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive, got %d", c.MaxUploadBytes)
	}
	if c.Workers < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", c.Workers)
	}
	return nil
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
