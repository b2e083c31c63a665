package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"custodia/internal/ledger"
	platformredis "custodia/internal/platform/redis"
	"custodia/pkg/platform/sentinel"
)

const cacheKeyPrefix = "custodia:trust_config:"

// CachedReader is a redis read-through cache in front of the ledger-backed
// config reader. The gate runs on every mutating call, so the singleton read
// is the hottest key in the system. Cache misses and redis failures fall
// back to the ledger; the TTL bounds staleness well below the 24h validity
// window.
//
// Each ledger variant has its own trust configuration, so the cache key
// carries the mode: a process mounting both variants over one redis must
// never serve one side's config to the other side's gate.
type CachedReader struct {
	inner ConfigReader
	redis *platformredis.Client
	key   string
	ttl   time.Duration
	log   *slog.Logger
}

func NewCachedReader(inner ConfigReader, redis *platformredis.Client, mode ledger.Mode, ttl time.Duration, log *slog.Logger) *CachedReader {
	return &CachedReader{inner: inner, redis: redis, key: cacheKeyPrefix + string(mode), ttl: ttl, log: log}
}

func (r *CachedReader) ReadConfig(ctx context.Context) (*TrustConfig, error) {
	raw, err := r.redis.Get(ctx, r.key).Bytes()
	if err == nil {
		var config TrustConfig
		if err := json.Unmarshal(raw, &config); err == nil {
			return &config, nil
		}
	} else if !errors.Is(err, goredis.Nil) {
		r.log.Warn("trust config cache read failed", "error", err)
	}

	config, err := r.inner.ReadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(config); err == nil {
		if err := r.redis.Set(ctx, r.key, raw, r.ttl).Err(); err != nil {
			r.log.Warn("trust config cache write failed", "error", err)
		}
	}
	return config, nil
}

// Invalidate drops the cached configuration. Called after registration so a
// fresh quorum is visible immediately rather than after TTL expiry.
func (r *CachedReader) Invalidate(ctx context.Context) {
	if err := r.redis.Del(ctx, r.key).Err(); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		r.log.Warn("trust config cache invalidation failed", "error", err)
	}
}
