package port

import (
	"context"
	"time"
)

type CacheRepository interface {
	// GetInt returns the cached value and whether it was present
	GetInt(ctx context.Context, key string) (int, bool, error)

	// SetInt stores a value that expires after ttl
	SetInt(ctx context.Context, key string, value int, ttl time.Duration) error
}

type ReorderPointProvider interface {
	GetReorderPoint(ctx context.Context, tenantID, sku string) (int, error)
}
