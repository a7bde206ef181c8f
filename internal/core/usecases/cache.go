package usecases

import (
	"context"
	"encoding/json"

	"github.com/korope-ng/korope/internal/core/ports"
	"github.com/korope-ng/korope/internal/pkg/metrics"
)

// cacheGet reads and decodes a cached value. Any failure counts as a miss.
func cacheGet[T any](ctx context.Context, cache ports.CacheService, op, key string) (T, bool) {
	var v T
	if cache == nil {
		return v, false
	}
	data, err := cache.Get(ctx, key)
	if err != nil {
		metrics.CacheMisses.WithLabelValues(op).Inc()
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		metrics.CacheMisses.WithLabelValues(op).Inc()
		return v, false
	}
	metrics.CacheHits.WithLabelValues(op).Inc()
	return v, true
}

// cacheSet encodes and stores a value, ignoring cache failures.
func cacheSet(ctx context.Context, cache ports.CacheService, key string, v any, ttlSeconds int) {
	if cache == nil {
		return
	}
	if data, err := json.Marshal(v); err == nil {
		_ = cache.Set(ctx, key, data, ttlSeconds)
	}
}
