package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/port"
)

const (
	eventKeyPrefix    = "event:"
	eventDedupTTL     = 24 * time.Hour
	defaultStreamLen  = 100000
	StockEventsStream = "inventory:stock_changed"
	OrderEventsStream = "inventory:order_status"
)

// appendOnceScript appends to a stream unless the event id was already seen inside the dedup window.
var appendOnceScript = redis.NewScript(`
local dedupKey = KEYS[1]
local stream = KEYS[2]
local ttl = tonumber(ARGV[1])
local maxLen = tonumber(ARGV[2])

if not redis.call('SET', dedupKey, 1, 'NX', 'EX', ttl) then
	return 0
end

redis.call('XADD', stream, 'MAXLEN', '~', maxLen, '*', 'event_type', ARGV[3], 'event_id', ARGV[4], 'payload', ARGV[5])
return 1
`)

// RedisAdapter serves as the reorder-point cache and as a Redis Streams event sink.
type RedisAdapter struct {
	client       *redis.Client
	stockStream  string
	orderStream  string
	streamMaxLen int64
}

var (
	_ port.CacheRepository = (*RedisAdapter)(nil)
	_ port.EventPublisher  = (*RedisAdapter)(nil)
)

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{
		client:       client,
		stockStream:  StockEventsStream,
		orderStream:  OrderEventsStream,
		streamMaxLen: defaultStreamLen,
	}
}

func (r *RedisAdapter) WithStreams(stock, order string) *RedisAdapter {
	r.stockStream = stock
	r.orderStream = order
	return r
}

func (r *RedisAdapter) GetInt(ctx context.Context, key string) (int, bool, error) {
	v, err := r.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (r *RedisAdapter) SetInt(ctx context.Context, key string, value int, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisAdapter) PublishInventoryStockChanged(ctx context.Context, event domain.StockChangedEvent) error {
	return r.appendOnce(ctx, r.stockStream, domain.EventTypeInventoryStockChanged, event.EventID, event)
}

func (r *RedisAdapter) PublishOrderStatusUpdated(ctx context.Context, event domain.OrderStatusEvent) error {
	return r.appendOnce(ctx, r.orderStream, domain.EventTypeOrderStatusUpdated, event.EventID, event)
}

func (r *RedisAdapter) appendOnce(ctx context.Context, stream, eventType, eventID string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	keys := []string{eventKeyPrefix + eventID, stream}
	ttl := int64(eventDedupTTL / time.Second)
	if err := appendOnceScript.Run(ctx, r.client, keys, ttl, r.streamMaxLen, eventType, eventID, payload).Err(); err != nil {
		return fmt.Errorf("append %s to %s: %w", eventType, stream, err)
	}
	return nil
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
