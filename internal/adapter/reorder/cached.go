package reorder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/logging"
	"github.com/rl1809/inventory-engine/internal/port"
)

const cacheKeyPrefix = "rop:"

// CachedProvider keeps reorder points in the cache for ttl. Cache errors fall through to next.
type CachedProvider struct {
	next   port.ReorderPointProvider
	cache  port.CacheRepository
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedProvider(next port.ReorderPointProvider, cache port.CacheRepository, ttl time.Duration, logger *zap.Logger) *CachedProvider {
	return &CachedProvider{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (p *CachedProvider) GetReorderPoint(ctx context.Context, tenantID, sku string) (int, error) {
	key := cacheKeyPrefix + tenantID + ":" + sku

	v, ok, err := p.cache.GetInt(ctx, key)
	switch {
	case err != nil:
		logging.Warn(ctx, p.logger, "reorder point cache read failed", zap.String("key", key), zap.Error(err))
	case ok:
		return v, nil
	}

	v, err = p.next.GetReorderPoint(ctx, tenantID, sku)
	if err != nil {
		return 0, err
	}

	if err := p.cache.SetInt(ctx, key, v, p.ttl); err != nil {
		logging.Warn(ctx, p.logger, "reorder point cache write failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}
