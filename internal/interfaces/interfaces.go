// Package interfaces declares the seams between the order workflow and its
// collaborators. Implementations live in repository, clients and events.
package interfaces

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-order-placement/internal/models"
)

// OrderRepository persists orders together with their items.
type OrderRepository interface {
	// Create stores the order and all of its items atomically, with the
	// status the order already carries.
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	GetByID(ctx context.Context, id string) (*models.Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	// UpdateStatus moves a pending order into a terminal status.
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error)
	List(ctx context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error)
}

// InventoryClient asks the inventory service whether items can be fulfilled.
// Implementations must be side-effect free so callers may retry.
type InventoryClient interface {
	CheckAvailability(ctx context.Context, items []models.AvailabilityItem) (models.AvailabilityResult, error)
}

// OrderEventPublisher announces placement outcomes.
type OrderEventPublisher interface {
	PublishOrderPlaced(ctx context.Context, order *models.Order) error
	Close() error
}

// OrderCache holds snapshots of terminal orders.
type OrderCache interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	Set(ctx context.Context, order *models.Order) error
}

// OrderPlacer is the entry point used by the HTTP and Kafka surfaces.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.PlacementResult, error)
}
