package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-shop-order-placement/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/models"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/repository"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/service"
)

type stubInventory struct {
	result models.AvailabilityResult
	err    error
	calls  int
}

func (s *stubInventory) CheckAvailability(context.Context, []models.AvailabilityItem) (models.AvailabilityResult, error) {
	s.calls++
	return s.result, s.err
}

func newTestRouter(t *testing.T, inv *stubInventory, checks ...ReadinessCheck) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Defaults()
	cfg.Workflow.RetryInitialInterval = time.Millisecond
	cfg.Workflow.RetryMaxInterval = time.Millisecond

	repo := repository.NewMemoryOrderRepository(logging.NewNopLogger())
	svc := service.NewOrderService(repo, inv, nil, nil, nil, cfg)
	h := NewHandlers(svc, cfg, checks...)

	r := gin.New()
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/live", h.Live)
	r.POST("/api/v1/orders", h.CreateOrder)
	r.GET("/api/v1/orders", h.ListOrders)
	r.GET("/api/v1/orders/:id", h.GetOrder)
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func orderRequest() models.CreateOrderRequest {
	return models.CreateOrderRequest{
		CustomerID: "cust_1",
		Items: []models.CreateOrderItem{
			{ProductID: "A1", Quantity: 2, UnitPrice: models.Money{Amount: 1000, Currency: "USD"}},
			{ProductID: "B2", Quantity: 1, UnitPrice: models.Money{Amount: 500, Currency: "USD"}},
		},
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRoot(t *testing.T) {
	r := newTestRouter(t, &stubInventory{})

	w := doJSON(r, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Welcome to the Order Service!", decode(t, w)["message"])
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := &Handlers{}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	h.Health(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "orders-service", resp["service"])
}

func TestLive(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := &Handlers{}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	h.Live(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReady(t *testing.T) {
	ok := ReadinessCheck{Name: "database", Check: func(context.Context) error { return nil }}
	down := ReadinessCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }}

	t.Run("all checks pass", func(t *testing.T) {
		r := newTestRouter(t, &stubInventory{}, ok)
		w := doJSON(r, http.MethodGet, "/ready", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("failing check", func(t *testing.T) {
		r := newTestRouter(t, &stubInventory{}, ok, down)
		w := doJSON(r, http.MethodGet, "/ready", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		checks, _ := decode(t, w)["checks"].(map[string]interface{})
		assert.Contains(t, checks, "redis")
		assert.NotContains(t, checks, "database")
	})
}

func TestCreateOrderHandler_Confirmed(t *testing.T) {
	inv := &stubInventory{result: models.Available()}
	r := newTestRouter(t, inv)

	w := doJSON(r, http.MethodPost, "/api/v1/orders", orderRequest(), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result models.PlacementResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, models.OutcomeConfirmed, result.Outcome)
	assert.Equal(t, models.OrderStatusConfirmed, result.Order.Status)
	assert.Equal(t, int64(2500), result.Order.Total.Amount)
}

func TestCreateOrderHandler_Rejected(t *testing.T) {
	inv := &stubInventory{result: models.Unavailable(map[string]string{"A1": "out_of_stock"})}
	r := newTestRouter(t, inv)

	w := doJSON(r, http.MethodPost, "/api/v1/orders", orderRequest(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result models.PlacementResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, models.OutcomeRejected, result.Outcome)
	assert.Equal(t, "out_of_stock", result.Order.Reasons["A1"])
}

func TestCreateOrderHandler_InventoryUnreachable(t *testing.T) {
	inv := &stubInventory{err: &errors.InventoryUnreachableError{Attempts: 1, Err: context.DeadlineExceeded}}
	r := newTestRouter(t, inv)

	w := doJSON(r, http.MethodPost, "/api/v1/orders", orderRequest(), nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decode(t, w)
	assert.Equal(t, true, resp["retryable"])
	assert.Equal(t, "failed", resp["outcome"])
	order, _ := resp["order"].(map[string]interface{})
	assert.Equal(t, "failed", order["status"])
	assert.Equal(t, 3, inv.calls)
}

func TestCreateOrderHandler_ProtocolError(t *testing.T) {
	inv := &stubInventory{err: errors.ErrInventoryProtocol}
	r := newTestRouter(t, inv)

	w := doJSON(r, http.MethodPost, "/api/v1/orders", orderRequest(), nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, false, decode(t, w)["retryable"])
}

func TestCreateOrderHandler_BadInput(t *testing.T) {
	tests := []struct {
		name    string
		body    interface{}
		headers map[string]string
	}{
		{"not json", "{", nil},
		{"no items", models.CreateOrderRequest{CustomerID: "cust_1"}, nil},
		{"zero quantity", models.CreateOrderRequest{Items: []models.CreateOrderItem{
			{ProductID: "A1", Quantity: 0, UnitPrice: models.Money{Amount: 100, Currency: "USD"}},
		}}, nil},
		{"conflicting keys", models.CreateOrderRequest{
			IdempotencyKey: "body-key",
			Items:          orderRequest().Items,
		}, map[string]string{middleware.HeaderIdempotencyKey: "header-key"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &stubInventory{result: models.Available()}
			r := newTestRouter(t, inv)

			w := doJSON(r, http.MethodPost, "/api/v1/orders", tt.body, tt.headers)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Zero(t, inv.calls)
		})
	}
}

func TestCreateOrderHandler_IdempotencyKeyHeader(t *testing.T) {
	inv := &stubInventory{result: models.Available()}
	r := newTestRouter(t, inv)
	headers := map[string]string{middleware.HeaderIdempotencyKey: "checkout-42"}

	first := doJSON(r, http.MethodPost, "/api/v1/orders", orderRequest(), headers)
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(r, http.MethodPost, "/api/v1/orders", orderRequest(), headers)
	require.Equal(t, http.StatusOK, second.Code)

	var a, b models.PlacementResult
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.Order.ID, b.Order.ID)
	assert.True(t, b.Replayed)
	assert.Equal(t, 1, inv.calls)
}

func TestGetOrderHandler(t *testing.T) {
	r := newTestRouter(t, &stubInventory{result: models.Available()})

	created := doJSON(r, http.MethodPost, "/api/v1/orders", orderRequest(), nil)
	require.Equal(t, http.StatusCreated, created.Code)
	var result models.PlacementResult
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &result))

	w := doJSON(r, http.MethodGet, "/api/v1/orders/"+result.Order.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var order models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, result.Order.ID, order.ID)
	assert.Len(t, order.Items, 2)

	missing := doJSON(r, http.MethodGet, "/api/v1/orders/ord_missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestListOrdersHandler(t *testing.T) {
	r := newTestRouter(t, &stubInventory{result: models.Available()})

	for i := 0; i < 3; i++ {
		w := doJSON(r, http.MethodPost, "/api/v1/orders", orderRequest(), nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(r, http.MethodGet, "/api/v1/orders?customer_id=cust_1&status=confirmed&limit=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.EqualValues(t, 3, resp["total"])
	assert.EqualValues(t, 2, resp["limit"])
	orders, _ := resp["orders"].([]interface{})
	assert.Len(t, orders, 2)
}

func TestListOrdersHandler_BadQuery(t *testing.T) {
	r := newTestRouter(t, &stubInventory{})

	for _, query := range []string{
		"limit=abc",
		"offset=-1",
		"status=shipped",
		"start_date=yesterday",
	} {
		t.Run(query, func(t *testing.T) {
			w := doJSON(r, http.MethodGet, "/api/v1/orders?"+query, nil, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", errors.ErrNotFound, http.StatusNotFound},
		{"validation", errors.NewValidationError("items", "required"), http.StatusBadRequest},
		{"transient store", errors.NewPersistenceError("create order", errors.New("timeout")), http.StatusServiceUnavailable},
		{"constraint", &errors.PersistenceError{Op: "create order", Err: errors.New("check"), Constraint: true}, http.StatusInternalServerError},
		{"unreachable", &errors.InventoryUnreachableError{Attempts: 3}, http.StatusServiceUnavailable},
		{"invalid state", &errors.InvalidStateError{OrderID: "ord_1", From: "confirmed", To: "failed"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			handleError(c, tt.err)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}
