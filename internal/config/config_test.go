package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.WorkerPoolSize != 4 {
		t.Errorf("WorkerPoolSize = %d, want 4", cfg.WorkerPoolSize)
	}
	if cfg.CacheMaxBytes != 100<<20 {
		t.Errorf("CacheMaxBytes = %d, want %d", cfg.CacheMaxBytes, 100<<20)
	}
	if cfg.TileSize != 256 {
		t.Errorf("TileSize = %d, want 256", cfg.TileSize)
	}
	if cfg.RetryBaseDelay != 100*time.Millisecond {
		t.Errorf("RetryBaseDelay = %v, want 100ms", cfg.RetryBaseDelay)
	}
	if cfg.MaxInFlightPrefetch != 6 {
		t.Errorf("MaxInFlightPrefetch = %d, want 6", cfg.MaxInFlightPrefetch)
	}
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	t.Setenv("TILECORE_LOG_LEVEL", "debug")
	t.Setenv("TILECORE_WORKER_POOL_SIZE", "8")
	t.Setenv("TILECORE_CACHE_MAX_BYTES", "1048576")
	t.Setenv("TILECORE_WATCHDOG_INTERVAL", "2s")
	t.Setenv("TILECORE_THUMBSTORE_DIR", "/tmp/thumbs")

	cfg := Load()

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.WorkerPoolSize != 8 {
		t.Errorf("WorkerPoolSize = %d, want 8", cfg.WorkerPoolSize)
	}
	if cfg.CacheMaxBytes != 1048576 {
		t.Errorf("CacheMaxBytes = %d, want 1048576", cfg.CacheMaxBytes)
	}
	if cfg.WatchdogInterval != 2*time.Second {
		t.Errorf("WatchdogInterval = %v, want 2s", cfg.WatchdogInterval)
	}
	if cfg.ThumbstoreDir != "/tmp/thumbs" {
		t.Errorf("ThumbstoreDir = %q, want /tmp/thumbs", cfg.ThumbstoreDir)
	}
}

func TestLoadFallsBackOnUnparsableValues(t *testing.T) {
	t.Setenv("TILECORE_WORKER_POOL_SIZE", "not-a-number")
	t.Setenv("TILECORE_WATCHDOG_INTERVAL", "not-a-duration")

	cfg := Load()

	if cfg.WorkerPoolSize != 4 {
		t.Errorf("WorkerPoolSize = %d, want fallback 4", cfg.WorkerPoolSize)
	}
	if cfg.WatchdogInterval != 5*time.Second {
		t.Errorf("WatchdogInterval = %v, want fallback 5s", cfg.WatchdogInterval)
	}
}
