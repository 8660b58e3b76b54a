package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/tm-acme-shop/acme-shop-order-placement/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/interfaces"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/models"
)

var _ interfaces.OrderEventPublisher = (*KafkaPublisher)(nil)

// EventType represents the type of order event.
type EventType string

const (
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderConfirmed EventType = "order.confirmed"
	EventTypeOrderRejected  EventType = "order.rejected"
	EventTypeOrderFailed    EventType = "order.failed"
)

// EventTypeFor maps an order status to the event announcing it.
func EventTypeFor(status models.OrderStatus) EventType {
	switch status {
	case models.OrderStatusConfirmed:
		return EventTypeOrderConfirmed
	case models.OrderStatusRejected:
		return EventTypeOrderRejected
	case models.OrderStatusFailed:
		return EventTypeOrderFailed
	default:
		return EventTypeOrderCreated
	}
}

// OrderEvent represents an order-related event.
type OrderEvent struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	OrderID       string            `json:"order_id"`
	CustomerID    string            `json:"customer_id,omitempty"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes order events to Kafka.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *logging.LoggerV2
}

// NewKafkaPublisher creates a new Kafka-based event publisher.
func NewKafkaPublisher(cfg config.KafkaConfig, logger *logging.LoggerV2) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.OrdersTopic,
		Balancer:               &kafka.LeastBytes{},
		WriteTimeout:           10 * time.Second,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	return &KafkaPublisher{
		writer: writer,
		topic:  cfg.OrdersTopic,
		logger: logger,
	}
}

// PublishOrderPlaced announces the outcome of a placement. The event type
// follows the order status.
func (p *KafkaPublisher) PublishOrderPlaced(ctx context.Context, order *models.Order) error {
	p.logger.Debug("Publishing order placed event", logging.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	})

	msg, event, err := buildMessage(ctx, order)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event", logging.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
			"order_id":   event.OrderID,
			"error":      err.Error(),
		})
		return err
	}

	p.logger.Info("Event published", logging.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"order_id":   event.OrderID,
		"topic":      p.topic,
	})
	return nil
}

func buildMessage(ctx context.Context, order *models.Order) (kafka.Message, *OrderEvent, error) {
	data, err := json.Marshal(order)
	if err != nil {
		return kafka.Message{}, nil, err
	}

	event := &OrderEvent{
		ID:         "evt_" + uuid.NewString(),
		Type:       EventTypeFor(order.Status),
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Data:       data,
		Metadata:   map[string]string{"status": string(order.Status)},
		Timestamp:  time.Now().UTC(),
	}
	if requestID := middleware.RequestIDFromContext(ctx); requestID != "" {
		event.CorrelationID = requestID
	}

	eventData, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, nil, err
	}

	headers := headerCarrier{
		{Key: "event_type", Value: []byte(event.Type)},
		{Key: "event_id", Value: []byte(event.ID)},
	}
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	return kafka.Message{
		Key:     []byte(event.OrderID),
		Value:   eventData,
		Headers: headers,
	}, event, nil
}

// Close closes the Kafka writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing Kafka publisher")
	return p.writer.Close()
}

// NopPublisher drops every event. Used when ENABLE_ORDER_EVENTS is off.
type NopPublisher struct{}

func (NopPublisher) PublishOrderPlaced(context.Context, *models.Order) error { return nil }

func (NopPublisher) Close() error { return nil }
