package service

import (
	"fmt"
	"math"
	"regexp"

	"github.com/tm-acme-shop/acme-shop-order-placement/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/models"
)

const (
	maxItemsPerOrder     = 100
	maxIdempotencyKeyLen = 128
	maxCustomerIDLen     = 64

	defaultListLimit = 20
	maxListLimit     = 100
)

var productIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidateCreateOrderRequest validates an order draft. It never touches the
// network or the store.
func ValidateCreateOrderRequest(req *models.CreateOrderRequest) error {
	if req == nil || len(req.Items) == 0 {
		return errors.NewValidationError("items", "at least one item is required")
	}
	if len(req.Items) > maxItemsPerOrder {
		return errors.NewValidationError("items", fmt.Sprintf("at most %d items are allowed", maxItemsPerOrder))
	}
	if len(req.CustomerID) > maxCustomerIDLen {
		return errors.NewValidationError("customer_id", "customer ID is too long")
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return errors.NewValidationError("idempotency_key", "idempotency key is too long")
	}

	currency := req.Items[0].UnitPrice.Currency
	seen := make(map[string]struct{}, len(req.Items))
	var total int64
	for i := range req.Items {
		item := &req.Items[i]
		if err := validateOrderItem(item, i, currency); err != nil {
			return err
		}
		if _, dup := seen[item.ProductID]; dup {
			return errors.NewValidationError(fmt.Sprintf("items[%d].product_id", i), "duplicate product ID")
		}
		seen[item.ProductID] = struct{}{}

		// Totals are int64 cents and must not wrap.
		if item.UnitPrice.Amount > 0 && int64(item.Quantity) > math.MaxInt64/item.UnitPrice.Amount {
			return errors.NewValidationError(fmt.Sprintf("items[%d].quantity", i), "line total is too large")
		}
		line := item.UnitPrice.Amount * int64(item.Quantity)
		if line > math.MaxInt64-total {
			return errors.NewValidationError("items", "order total is too large")
		}
		total += line
	}

	return nil
}

func validateOrderItem(item *models.CreateOrderItem, index int, currency string) error {
	field := func(name string) string { return fmt.Sprintf("items[%d].%s", index, name) }

	if item.ProductID == "" {
		return errors.NewValidationError(field("product_id"), "product ID is required")
	}
	if !productIDPattern.MatchString(item.ProductID) {
		return errors.NewValidationError(field("product_id"), "product ID has an invalid format")
	}
	if item.Quantity <= 0 {
		return errors.NewValidationError(field("quantity"), "quantity must be positive")
	}
	if item.UnitPrice.Amount < 0 {
		return errors.NewValidationError(field("unit_price"), "unit price cannot be negative")
	}
	if item.UnitPrice.Currency == "" {
		return errors.NewValidationError(field("unit_price"), "currency is required")
	}
	if item.UnitPrice.Currency != currency {
		return errors.NewValidationError(field("unit_price"), "all items must use the same currency")
	}
	return nil
}

// ValidateOrderListFilter validates a list filter and applies limit defaults.
func ValidateOrderListFilter(filter *models.OrderListFilter) error {
	if filter.Limit < 0 {
		return errors.NewValidationError("limit", "limit cannot be negative")
	}
	if filter.Offset < 0 {
		return errors.NewValidationError("offset", "offset cannot be negative")
	}

	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	if filter.Status != nil && !filter.Status.IsValid() {
		return errors.NewValidationError("status", "invalid order status")
	}

	if filter.StartDate != nil && filter.EndDate != nil {
		if filter.StartDate.After(*filter.EndDate) {
			return errors.NewValidationError("start_date", "start date cannot be after end date")
		}
	}

	return nil
}
