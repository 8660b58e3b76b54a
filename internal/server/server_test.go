package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-shop-order-placement/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/middleware"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/models"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/repository"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/service"
)

type availableInventory struct{}

func (availableInventory) CheckAvailability(context.Context, []models.AvailabilityItem) (models.AvailabilityResult, error) {
	return models.Available(), nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Defaults()
	m := metrics.New(prometheus.NewRegistry())
	repo := repository.NewMemoryOrderRepository(logging.NewNopLogger())
	svc := service.NewOrderService(repo, availableInventory{}, nil, nil, m, cfg)
	h := handlers.NewHandlers(svc, cfg)

	return New(h, cfg, m, logging.NewNopLogger())
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/", "/health", "/ready", "/live", "/metrics", "/api/v1/orders"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestRequestIDAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	body := `{"customer_id":"cust_1","items":[{"product_id":"A1","quantity":1,"unit_price":{"amount":100,"currency":"USD"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderRequestID, "req-123")

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "req-123", w.Header().Get(middleware.HeaderRequestID))

	mw := httptest.NewRecorder()
	srv.Handler().ServeHTTP(mw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, mw.Code)

	out := mw.Body.String()
	assert.Contains(t, out, `acme_orders_placements_total{outcome="confirmed"} 1`)
	assert.Contains(t, out, `acme_orders_http_requests_total{handler="/api/v1/orders",status="201"} 1`)
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/payments", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
