package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/tm-acme-shop/acme-shop-order-placement/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/interfaces"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/models"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/tracing"
)

const (
	availabilityPath    = "/api/v1/inventory/availability"
	maxResponseBytes    = 1 << 20
	defaultUnavailCause = "unavailable"
)

var _ interfaces.InventoryClient = (*HTTPInventoryClient)(nil)

type availabilityRequest struct {
	Items []models.AvailabilityItem `json:"items"`
}

type availabilityResponse struct {
	Available bool `json:"available"`
	Items     []struct {
		ProductID string `json:"product_id"`
		Available bool   `json:"available"`
		Reason    string `json:"reason,omitempty"`
	} `json:"items"`
}

// HTTPInventoryClient implements interfaces.InventoryClient over HTTP.
// It only reads availability; it never reserves stock.
type HTTPInventoryClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	logger     *logging.LoggerV2
	tracer     trace.Tracer
}

// NewHTTPInventoryClient creates a client whose calls are bounded by cfg.Timeout.
func NewHTTPInventoryClient(cfg config.ServiceConfig, logger *logging.LoggerV2) *HTTPInventoryClient {
	return &HTTPInventoryClient{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		apiKey: cfg.APIKey,
		logger: logger,
		tracer: tracing.Tracer(),
	}
}

// CheckAvailability asks whether every item can be fulfilled. Timeouts,
// connection failures and 5xx/429 answers yield *errors.InventoryUnreachableError.
func (c *HTTPInventoryClient) CheckAvailability(ctx context.Context, items []models.AvailabilityItem) (models.AvailabilityResult, error) {
	ctx, span := c.tracer.Start(ctx, "inventory.CheckAvailability",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("inventory.items", len(items))),
	)
	defer span.End()

	c.logger.Debug("Checking inventory availability", logging.Fields{"items": len(items)})

	result, err := c.check(ctx, items, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.AvailabilityResult{}, err
	}

	span.SetAttributes(attribute.Bool("inventory.available", result.Available))
	return result, nil
}

func (c *HTTPInventoryClient) check(ctx context.Context, items []models.AvailabilityItem, span trace.Span) (models.AvailabilityResult, error) {
	body, err := json.Marshal(availabilityRequest{Items: items})
	if err != nil {
		return models.AvailabilityResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+availabilityPath, bytes.NewReader(body))
	if err != nil {
		return models.AvailabilityResult{}, err
	}
	c.setHeaders(ctx, httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("Inventory request failed", logging.Fields{"error": err.Error()})
		return models.AvailabilityResult{}, &errors.InventoryUnreachableError{Attempts: 1, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("Inventory service unavailable", logging.Fields{"status_code": resp.StatusCode})
		return models.AvailabilityResult{}, &errors.InventoryUnreachableError{
			Attempts: 1,
			Err:      fmt.Errorf("inventory service returned status %d", resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		c.logger.Error("Inventory request returned error", logging.Fields{"status_code": resp.StatusCode})
		return models.AvailabilityResult{}, fmt.Errorf("%w: status %d", errors.ErrInventoryProtocol, resp.StatusCode)
	}

	var decoded availabilityResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return models.AvailabilityResult{}, fmt.Errorf("%w: decode response: %v", errors.ErrInventoryProtocol, err)
	}

	if decoded.Available {
		return models.Available(), nil
	}

	reasons := make(map[string]string)
	for _, item := range decoded.Items {
		if item.Available {
			continue
		}
		reason := item.Reason
		if reason == "" {
			reason = defaultUnavailCause
		}
		reasons[item.ProductID] = reason
	}
	if len(reasons) == 0 {
		return models.AvailabilityResult{}, fmt.Errorf("%w: unavailable without item reasons", errors.ErrInventoryProtocol)
	}

	c.logger.Info("Inventory reported items unavailable", logging.Fields{"reasons": reasons})
	return models.Unavailable(reasons), nil
}

func (c *HTTPInventoryClient) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if requestID := middleware.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set(middleware.HeaderRequestID, requestID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}
