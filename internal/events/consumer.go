package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/tm-acme-shop/acme-shop-order-placement/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/interfaces"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/models"
)

const headerRequestID = "request_id"

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer reads placement requests from Kafka and runs each one
// through the order workflow.
type KafkaConsumer struct {
	reader     messageReader
	placer     interfaces.OrderPlacer
	logger     *logging.LoggerV2
	stopCh     chan struct{}
	newBackOff func() backoff.BackOff
}

// NewKafkaConsumer creates a consumer of the placement requests topic.
func NewKafkaConsumer(cfg config.KafkaConfig, placer interfaces.OrderPlacer, logger *logging.LoggerV2) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.RequestsTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})

	return newKafkaConsumer(reader, placer, logger)
}

func newKafkaConsumer(reader messageReader, placer interfaces.OrderPlacer, logger *logging.LoggerV2) *KafkaConsumer {
	return &KafkaConsumer{
		reader:     reader,
		placer:     placer,
		logger:     logger,
		stopCh:     make(chan struct{}),
		newBackOff: defaultRedeliveryBackOff,
	}
}

func defaultRedeliveryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Start consumes until ctx is cancelled or Stop is called. Messages are
// committed after they are handled, so delivery is at least once; the
// message key doubles as idempotency key to make redelivery harmless.
//
// A placement that left nothing stored is retried in place and never
// committed, since committing a later offset would skip it.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("Kafka consumer stopped")
			return nil
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-c.stopCh:
				c.logger.Info("Kafka consumer stopped")
				return nil
			default:
			}
			c.logger.Error("Failed to read message", logging.Fields{"error": err.Error()})
			continue
		}

		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Info("Kafka consumer stopped", logging.Fields{"uncommitted_offset": msg.Offset})
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit message", logging.Fields{
				"offset": msg.Offset,
				"error":  err.Error(),
			})
		}
	}
}

// Stop stops the consumer.
func (c *KafkaConsumer) Stop() {
	close(c.stopCh)
	c.reader.Close()
}

// process handles msg until it no longer needs redelivery. It only returns
// an error when the consumer is shutting down.
func (c *KafkaConsumer) process(ctx context.Context, msg kafka.Message) error {
	stopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-stopCtx.Done():
		}
	}()

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.handleMessage(ctx, msg)
		if err != nil {
			c.logger.Warn("Placement not stored, retrying message", logging.Fields{
				"offset":  msg.Offset,
				"attempt": attempt,
				"error":   err.Error(),
			})
		}
		return err
	}, backoff.WithContext(c.newBackOff(), stopCtx))
}

// handleMessage returns an error only when the message must be delivered
// again: the placement failed retryably and no order was stored for it.
func (c *KafkaConsumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	c.logger.Debug("Received message", logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	headers := headerCarrier(msg.Headers)
	ctx = otel.GetTextMapPropagator().Extract(ctx, &headers)
	if requestID := headers.Get(headerRequestID); requestID != "" {
		ctx = middleware.WithRequestID(ctx, requestID)
	}

	var req models.CreateOrderRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		c.logger.Error("Failed to unmarshal placement request", logging.Fields{
			"offset": msg.Offset,
			"error":  err.Error(),
		})
		return nil
	}
	if req.IdempotencyKey == "" && len(msg.Key) > 0 {
		req.IdempotencyKey = string(msg.Key)
	}

	result, err := c.placer.PlaceOrder(ctx, &req)
	if err != nil {
		var verr *errors.ValidationError
		if errors.As(err, &verr) {
			c.logger.Warn("Dropping invalid placement request", logging.Fields{
				"offset": msg.Offset,
				"field":  verr.Field,
				"error":  verr.Message,
			})
			return nil
		}
		stored := result != nil && result.Order != nil
		c.logger.Error("Placement from message failed", logging.Fields{
			"offset":    msg.Offset,
			"retryable": errors.IsRetryable(err),
			"stored":    stored,
			"error":     err.Error(),
		})
		if !stored && errors.IsRetryable(err) {
			return err
		}
		return nil
	}

	c.logger.Info("Placement from message handled", logging.Fields{
		"order_id": result.Order.ID,
		"outcome":  result.Outcome,
		"replayed": result.Replayed,
	})
	return nil
}
