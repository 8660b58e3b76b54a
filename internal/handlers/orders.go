package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-order-placement/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/models"
)

// CreateOrder handles POST /api/v1/orders
func (h *Handlers) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind request", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if key := c.GetHeader(middleware.HeaderIdempotencyKey); key != "" {
		if req.IdempotencyKey != "" && req.IdempotencyKey != key {
			handleError(c, errors.NewValidationError("idempotency_key", "header and body idempotency keys differ"))
			return
		}
		req.IdempotencyKey = key
	}

	result, err := h.orderService.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		if result != nil && result.Order != nil {
			h.respondFailedPlacement(c, result, err)
			return
		}
		handleError(c, err)
		return
	}

	c.JSON(placementStatus(result), result)
}

// respondFailedPlacement reports an order that was recorded as failed
// because inventory could not be consulted.
func (h *Handlers) respondFailedPlacement(c *gin.Context, result *models.PlacementResult, err error) {
	status := http.StatusBadGateway
	if result.Retryable {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"error":     err.Error(),
		"order":     result.Order,
		"outcome":   result.Outcome,
		"retryable": result.Retryable,
	})
}

func placementStatus(result *models.PlacementResult) int {
	switch {
	case result.Replayed:
		return http.StatusOK
	case result.Outcome == models.OutcomeConfirmed:
		return http.StatusCreated
	default:
		return http.StatusOK
	}
}

// GetOrder handles GET /api/v1/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	orderID := c.Param("id")

	order, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// ListOrders handles GET /api/v1/orders
func (h *Handlers) ListOrders(c *gin.Context) {
	filter, err := parseListFilter(c)
	if err != nil {
		handleError(c, err)
		return
	}

	orders, total, err := h.orderService.ListOrders(c.Request.Context(), filter)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func parseListFilter(c *gin.Context) (*models.OrderListFilter, error) {
	filter := &models.OrderListFilter{
		CustomerID: c.Query("customer_id"),
	}

	if status := c.Query("status"); status != "" {
		s := models.OrderStatus(status)
		filter.Status = &s
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"start_date", &filter.StartDate},
		{"end_date", &filter.EndDate},
	} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, errors.NewValidationError(p.name, "must be an RFC 3339 timestamp")
		}
		*p.dst = &t
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.NewValidationError(p.name, "must be an integer")
		}
		*p.dst = n
	}

	return filter, nil
}

func handleError(c *gin.Context, err error) {
	if errors.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	var validationErr *errors.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   validationErr.Message,
			"details": validationErr.Details,
		})
		return
	}

	var persistenceErr *errors.PersistenceError
	if errors.As(err, &persistenceErr) && persistenceErr.Retryable() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "order store unavailable",
			"retryable": true,
		})
		return
	}

	var unreachable *errors.InventoryUnreachableError
	if errors.As(err, &unreachable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "inventory service unavailable",
			"retryable": true,
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
