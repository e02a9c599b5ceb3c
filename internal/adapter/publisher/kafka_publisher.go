package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-engine/internal/core/domain"
	"github.com/rl1809/inventory-engine/internal/port"
)

// KafkaPublisher writes events as JSON. Messages are keyed by tenant and SKU (or order) so one
// row's changes stay ordered within a partition.
type KafkaPublisher struct {
	producer   sarama.SyncProducer
	stockTopic string
	orderTopic string
	logger     *zap.Logger
}

var _ port.EventPublisher = (*KafkaPublisher)(nil)

func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return p, nil
}

func NewKafkaPublisher(producer sarama.SyncProducer, stockTopic, orderTopic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer:   producer,
		stockTopic: stockTopic,
		orderTopic: orderTopic,
		logger:     logger,
	}
}

func (p *KafkaPublisher) PublishInventoryStockChanged(ctx context.Context, event domain.StockChangedEvent) error {
	key := event.TenantID + ":" + event.SKU + "@" + event.LocationID
	return p.send(ctx, p.stockTopic, key, domain.EventTypeInventoryStockChanged, event.EventID, event)
}

func (p *KafkaPublisher) PublishOrderStatusUpdated(ctx context.Context, event domain.OrderStatusEvent) error {
	key := event.TenantID + ":" + event.OrderID
	return p.send(ctx, p.orderTopic, key, domain.EventTypeOrderStatusUpdated, event.EventID, event)
}

func (p *KafkaPublisher) send(ctx context.Context, topic, key, eventType, eventID string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := []sarama.RecordHeader{
		{Key: []byte("event_id"), Value: []byte(eventID)},
		{Key: []byte("event_type"), Value: []byte(eventType)},
	}
	for k, v := range carrier {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(payload),
		Headers: headers,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", eventType, topic, err)
	}

	p.logger.Debug("event sent",
		zap.String("topic", topic),
		zap.String("event_id", eventID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
