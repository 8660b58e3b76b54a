package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tm-acme-shop/acme-shop-order-placement/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/models"
)

// MemoryOrderRepository keeps orders in process memory. Used for tests and
// DB_DRIVER=memory. Every read and write works on copies.
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
	byKey  map[string]string
	logger *logging.LoggerV2
	now    func() time.Time
}

func NewMemoryOrderRepository(logger *logging.LoggerV2) *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders: make(map[string]*models.Order),
		byKey:  make(map[string]string),
		logger: logger,
		now:    storeNow,
	}
}

func (r *MemoryOrderRepository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewPersistenceError("create order", err)
	}

	o := prepareForInsert(order, r.now())
	for _, item := range o.Items {
		if item.Quantity <= 0 || item.UnitPrice.Amount < 0 {
			return nil, &errors.PersistenceError{
				Op:         "create order",
				Err:        errors.New("order_items check constraint violated"),
				Constraint: true,
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if o.IdempotencyKey != "" {
		if _, exists := r.byKey[o.IdempotencyKey]; exists {
			return nil, errors.ErrDuplicateIdempotencyKey
		}
		r.byKey[o.IdempotencyKey] = o.ID
	}
	r.orders[o.ID] = o

	r.logger.Debug("Order stored in memory", logging.Fields{
		"order_id": o.ID,
		"status":   o.Status,
	})
	return o.Clone(), nil
}

func (r *MemoryOrderRepository) GetByID(_ context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *MemoryOrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	r.mu.RLock()
	id, ok := r.byKey[key]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryOrderRepository) UpdateStatus(_ context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	if !o.Status.CanTransitionTo(status) {
		return nil, &errors.InvalidStateError{OrderID: id, From: string(o.Status), To: string(status)}
	}
	o.Status = status
	o.UpdatedAt = r.now()
	return o.Clone(), nil
}

func (r *MemoryOrderRepository) List(_ context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error) {
	r.mu.RLock()
	matched := make([]*models.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if matchesFilter(o, filter) {
			matched = append(matched, o.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < total {
		end = start + filter.Limit
	}
	return matched[start:end], total, nil
}

func matchesFilter(o *models.Order, f *models.OrderListFilter) bool {
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if f.Status != nil && o.Status != *f.Status {
		return false
	}
	if f.StartDate != nil && o.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && o.CreatedAt.After(*f.EndDate) {
		return false
	}
	return true
}
