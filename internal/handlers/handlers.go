package handlers

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-order-placement/internal/config"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/service"
)

// ReadinessCheck is a named dependency check run by GET /ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handlers holds all HTTP handlers for the orders service.
type Handlers struct {
	orderService *service.OrderService
	config       *config.Config
	logger       *logging.LoggerV2
	checks       []ReadinessCheck
}

// NewHandlers creates a new handlers instance.
func NewHandlers(
	orderService *service.OrderService,
	cfg *config.Config,
	checks ...ReadinessCheck,
) *Handlers {
	return &Handlers{
		orderService: orderService,
		config:       cfg,
		logger:       logging.NewLoggerV2("handlers"),
		checks:       checks,
	}
}
