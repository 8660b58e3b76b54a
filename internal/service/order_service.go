package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tm-acme-shop/acme-shop-order-placement/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/interfaces"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/models"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/tracing"
)

var _ interfaces.OrderPlacer = (*OrderService)(nil)

// OrderService runs the placement workflow and serves order queries.
type OrderService struct {
	orderRepo      interfaces.OrderRepository
	inventory      interfaces.InventoryClient
	orderCache     interfaces.OrderCache
	eventPublisher interfaces.OrderEventPublisher
	metrics        *metrics.Metrics
	config         *config.Config
	logger         *logging.LoggerV2
	tracer         trace.Tracer
}

// NewOrderService creates a new order service. orderCache and eventPublisher
// may be nil; they are also skipped when their feature flag is off.
func NewOrderService(
	orderRepo interfaces.OrderRepository,
	inventory interfaces.InventoryClient,
	orderCache interfaces.OrderCache,
	eventPublisher interfaces.OrderEventPublisher,
	m *metrics.Metrics,
	cfg *config.Config,
) *OrderService {
	return &OrderService{
		orderRepo:      orderRepo,
		inventory:      inventory,
		orderCache:     orderCache,
		eventPublisher: eventPublisher,
		metrics:        m,
		config:         cfg,
		logger:         logging.NewLoggerV2("order-service"),
		tracer:         tracing.Tracer(),
	}
}

// PlaceOrder validates the draft, checks inventory for the whole item set,
// and stores the order once with its resolved status.
//
// A confirmed or rejected placement returns a nil error. When inventory
// could not be consulted the failed order is returned together with the
// cause; errors.IsRetryable tells callers whether to try again. A store
// failure returns a nil result.
//
// The workflow is detached from the caller's cancellation and bounded by
// the workflow timeout instead, so an outcome is recorded even if the
// caller goes away mid-flight.
func (s *OrderService) PlaceOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.PlacementResult, error) {
	base, span := s.tracer.Start(context.WithoutCancel(ctx), "order.PlaceOrder")
	defer span.End()

	ctx, cancel := context.WithTimeout(base, s.config.Workflow.Timeout)
	defer cancel()

	if err := ValidateCreateOrderRequest(req); err != nil {
		s.metrics.ObservePlacement("invalid")
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	s.logger.Info("Placing order", logging.Fields{
		"customer_id": req.CustomerID,
		"item_count":  len(req.Items),
	})

	if req.IdempotencyKey != "" {
		existing, err := s.orderRepo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return s.replay(span, existing, req)
		}
		if !errors.IsNotFound(err) {
			s.failSpan(span, err)
			return nil, err
		}
	}

	order := newDraftOrder(req)

	availability, checkErr := s.checkAvailability(ctx, req.Items)
	switch {
	case checkErr != nil:
		order.Status = models.OrderStatusFailed
		order.FailureReason = checkErr.Error()
	case availability.Available:
		order.Status = models.OrderStatusConfirmed
	default:
		order.Status = models.OrderStatusRejected
		order.Reasons = availability.Reasons
	}

	// The commit gets its own deadline so an exhausted check budget still
	// leaves room to record the failed order.
	commitCtx, cancelCommit := context.WithTimeout(base, s.config.Workflow.CommitTimeout)
	defer cancelCommit()

	created, err := s.orderRepo.Create(commitCtx, order)
	if errors.Is(err, errors.ErrDuplicateIdempotencyKey) {
		existing, getErr := s.orderRepo.GetByIdempotencyKey(commitCtx, req.IdempotencyKey)
		if getErr != nil {
			s.failSpan(span, getErr)
			return nil, getErr
		}
		return s.replay(span, existing, req)
	}
	if err != nil {
		s.logger.Error("Failed to persist order", logging.Fields{
			"status": order.Status,
			"error":  err,
		})
		s.metrics.ObservePlacement("error")
		s.failSpan(span, err)
		return nil, err
	}

	s.afterCommit(commitCtx, created)

	result := &models.PlacementResult{Order: created, Outcome: outcomeFor(created.Status)}
	s.metrics.ObservePlacement(string(result.Outcome))
	span.SetAttributes(
		attribute.String("order.id", created.ID),
		attribute.String("order.outcome", string(result.Outcome)),
	)

	if checkErr != nil {
		result.Retryable = errors.IsRetryable(checkErr)
		s.logger.Error("Order failed", logging.Fields{
			"order_id":  created.ID,
			"retryable": result.Retryable,
			"error":     checkErr,
		})
		s.failSpan(span, checkErr)
		return result, checkErr
	}

	s.logger.Info("Order placed", logging.Fields{
		"order_id": created.ID,
		"status":   created.Status,
		"total":    created.Total.Amount,
	})
	return result, nil
}

// checkAvailability calls inventory once for all items, retrying only while
// the service is unreachable.
func (s *OrderService) checkAvailability(ctx context.Context, items []models.CreateOrderItem) (models.AvailabilityResult, error) {
	query := make([]models.AvailabilityItem, len(items))
	for i, item := range items {
		query[i] = models.AvailabilityItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	var (
		result   models.AvailabilityResult
		lastErr  error
		attempts int
	)
	operation := func() error {
		attempts++
		start := time.Now()
		res, err := s.inventory.CheckAvailability(ctx, query)
		s.metrics.ObserveInventoryCall(inventoryCallResult(res, err), time.Since(start))

		lastErr = err
		if err == nil {
			result = res
			return nil
		}

		var unreachable *errors.InventoryUnreachableError
		if !errors.As(err, &unreachable) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("Inventory unreachable", logging.Fields{
			"attempt": attempts,
			"error":   err,
		})
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(s.newBackOff(), ctx)); err == nil {
		return result, nil
	}

	var unreachable *errors.InventoryUnreachableError
	if errors.As(lastErr, &unreachable) {
		return models.AvailabilityResult{}, &errors.InventoryUnreachableError{
			Attempts: attempts,
			Err:      unreachable.Err,
		}
	}
	return models.AvailabilityResult{}, lastErr
}

func (s *OrderService) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.Workflow.RetryInitialInterval
	b.MaxInterval = s.config.Workflow.RetryMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()

	retries := s.config.Workflow.MaxInventoryAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithMaxRetries(b, uint64(retries))
}

// afterCommit caches and announces a stored order. Failures are logged and
// never change the placement outcome.
func (s *OrderService) afterCommit(ctx context.Context, order *models.Order) {
	if s.config.Features.EnableOrderCaching && s.orderCache != nil {
		if err := s.orderCache.Set(ctx, order); err != nil {
			s.logger.Error("Failed to cache order", logging.Fields{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
	}

	if s.config.Features.EnableOrderEvents && s.eventPublisher != nil {
		if err := s.eventPublisher.PublishOrderPlaced(ctx, order); err != nil {
			s.logger.Error("Failed to publish order placed event", logging.Fields{
				"order_id": order.ID,
				"error":    err.Error(),
			})
		}
	}
}

// replay answers a repeated idempotency key with the order it already
// produced. A key reused for a different draft is rejected.
func (s *OrderService) replay(span trace.Span, order *models.Order, req *models.CreateOrderRequest) (*models.PlacementResult, error) {
	if !draftMatches(order, req) {
		s.logger.Warn("Idempotency key reused for a different order", logging.Fields{
			"order_id": order.ID,
		})
		s.metrics.ObservePlacement("invalid")
		span.SetStatus(codes.Error, "idempotency key mismatch")
		return nil, errors.NewValidationError("idempotency_key", "key was already used for a different order")
	}

	s.logger.Info("Replaying order for idempotency key", logging.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	})
	s.metrics.ObservePlacement("replayed")
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.Bool("order.replayed", true),
	)
	return &models.PlacementResult{
		Order:    order,
		Outcome:  outcomeFor(order.Status),
		Replayed: true,
	}, nil
}

// draftMatches reports whether req describes the same purchase as order:
// same customer, and the same products at the same quantities and prices.
func draftMatches(order *models.Order, req *models.CreateOrderRequest) bool {
	if order.CustomerID != req.CustomerID || len(order.Items) != len(req.Items) {
		return false
	}
	lines := make(map[string]models.OrderItem, len(order.Items))
	for _, item := range order.Items {
		lines[item.ProductID] = item
	}
	for _, item := range req.Items {
		stored, ok := lines[item.ProductID]
		if !ok || stored.Quantity != item.Quantity || stored.UnitPrice != item.UnitPrice {
			return false
		}
	}
	return true
}

func (s *OrderService) failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// GetOrder retrieves an order by ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.logger.Debug("Getting order", logging.Fields{"order_id": id})

	if id == "" {
		return nil, errors.ErrNotFound
	}

	caching := s.config.Features.EnableOrderCaching && s.orderCache != nil
	if caching {
		if order, err := s.orderCache.Get(ctx, id); err == nil && order != nil {
			s.logger.Debug("Order found in cache", logging.Fields{"order_id": id})
			return order, nil
		}
	}

	order, err := s.orderRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if caching {
		if err := s.orderCache.Set(ctx, order); err != nil {
			s.logger.Warn("Failed to cache order", logging.Fields{
				"order_id": id,
				"error":    err.Error(),
			})
		}
	}

	return order, nil
}

// ListOrders lists orders matching the filter along with the total count.
func (s *OrderService) ListOrders(ctx context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error) {
	if err := ValidateOrderListFilter(filter); err != nil {
		return nil, 0, err
	}

	s.logger.Debug("Listing orders", logging.Fields{
		"customer_id": filter.CustomerID,
		"limit":       filter.Limit,
		"offset":      filter.Offset,
	})

	return s.orderRepo.List(ctx, filter)
}

func newDraftOrder(req *models.CreateOrderRequest) *models.Order {
	order := &models.Order{
		CustomerID:     req.CustomerID,
		Status:         models.OrderStatusPending,
		IdempotencyKey: req.IdempotencyKey,
		Items:          make([]models.OrderItem, len(req.Items)),
	}
	for i, item := range req.Items {
		order.Items[i] = models.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	order.CalculateTotal()
	return order
}

func outcomeFor(status models.OrderStatus) models.Outcome {
	switch status {
	case models.OrderStatusConfirmed:
		return models.OutcomeConfirmed
	case models.OrderStatusRejected:
		return models.OutcomeRejected
	default:
		return models.OutcomeFailed
	}
}

func inventoryCallResult(res models.AvailabilityResult, err error) string {
	if err != nil {
		var unreachable *errors.InventoryUnreachableError
		if errors.As(err, &unreachable) {
			return "unreachable"
		}
		return "error"
	}
	if res.Available {
		return "available"
	}
	return "unavailable"
}
