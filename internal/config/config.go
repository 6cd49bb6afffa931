// Package config loads runtime configuration from the environment,
// grounded on garfik-gigaview's internal/config (typed Config struct,
// getEnv/getEnvInt helpers, sensible defaults when a variable is unset
// or unparsable).
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable of the render pipeline.
type Config struct {
	LogLevel string

	WorkerPoolSize     int
	WorkerQueueDepth   int
	WorkerMaxQueueDepth int

	CacheMaxBytes int64

	ThumbstoreDir string

	TileSize            int
	MarginTiles         int
	MaxRetries          int
	RetryBaseDelay      time.Duration
	WatchdogInterval    time.Duration
	MaxInFlightPrefetch int64
	LinearPrefetchCount int
	MaxPrefetchQueue    int
	PrefetchJumpReset   int
	EncodeQuality       int

	SharedMemSlots int64
}

// Load reads configuration from the environment, falling back to the
// spec's documented defaults for anything unset or unparsable.
func Load() *Config {
	return &Config{
		LogLevel: getEnv("TILECORE_LOG_LEVEL", "info"),

		WorkerPoolSize:      getEnvInt("TILECORE_WORKER_POOL_SIZE", 4),
		WorkerQueueDepth:    getEnvInt("TILECORE_WORKER_QUEUE_DEPTH", 32),
		WorkerMaxQueueDepth: getEnvInt("TILECORE_WORKER_MAX_QUEUE_DEPTH", 24),

		CacheMaxBytes: getEnvInt64("TILECORE_CACHE_MAX_BYTES", 100<<20),

		ThumbstoreDir: getEnv("TILECORE_THUMBSTORE_DIR", "./tilecore-thumbnails"),

		TileSize:            getEnvInt("TILECORE_TILE_SIZE", 256),
		MarginTiles:         getEnvInt("TILECORE_MARGIN_TILES", 1),
		MaxRetries:          getEnvInt("TILECORE_MAX_RETRIES", 3),
		RetryBaseDelay:      getEnvDuration("TILECORE_RETRY_BASE_DELAY", 100*time.Millisecond),
		WatchdogInterval:    getEnvDuration("TILECORE_WATCHDOG_INTERVAL", 5*time.Second),
		MaxInFlightPrefetch: getEnvInt64("TILECORE_MAX_INFLIGHT_PREFETCH", 6),
		LinearPrefetchCount: getEnvInt("TILECORE_LINEAR_PREFETCH_COUNT", 2),
		MaxPrefetchQueue:    getEnvInt("TILECORE_MAX_PREFETCH_QUEUE", 6),
		PrefetchJumpReset:   getEnvInt("TILECORE_PREFETCH_JUMP_RESET", 10),
		EncodeQuality:       getEnvInt("TILECORE_ENCODE_QUALITY", 80),

		SharedMemSlots: getEnvInt64("TILECORE_SHARED_MEM_SLOTS", 16),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
