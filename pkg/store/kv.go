package store

import (
	"context"
	"time"
)

// KV is a minimal ctx-aware key/value interface generalized from DMRHub's
// internal/kv package, used here to back both conversation and TTS
// artifact persistence (spec §6).
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
}

// BackendConfig selects and configures a KV backend.
type BackendConfig struct {
	UseRedis bool
	RedisURL string
}

// MakeKV constructs a backend per config.
func MakeKV(ctx context.Context, cfg BackendConfig) (KV, error) {
	if cfg.UseRedis {
		return newRedisKV(cfg)
	}
	return newMemoryKV(), nil
}
