package models

import (
	"time"
)

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusFailed    OrderStatus = "failed"
)

// IsTerminal reports whether no further transition can leave the status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusConfirmed, OrderStatusRejected, OrderStatusFailed:
		return true
	}
	return false
}

// IsValid reports whether s is a known status.
func (s OrderStatus) IsValid() bool {
	return s == OrderStatusPending || s.IsTerminal()
}

// CanTransitionTo reports whether the one-way transition s -> to is allowed.
// Only pending orders move, and only into a terminal status.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	return s == OrderStatusPending && to.IsTerminal()
}

// Order is a customer's request to purchase one or more items.
type Order struct {
	ID             string            `json:"id"`
	CustomerID     string            `json:"customer_id,omitempty"`
	Status         OrderStatus       `json:"status"`
	Items          []OrderItem       `json:"items"`
	Total          Money             `json:"total"`
	Reasons        map[string]string `json:"reasons,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	IdempotencyKey string            `json:"-"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// OrderItem is a single product/quantity/price line owned by one order.
type OrderItem struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
	Total     Money  `json:"total"`
}

// CalculateTotal sets item totals from captured unit prices and sums them.
func (o *Order) CalculateTotal() {
	var currency string
	var sum int64
	for i := range o.Items {
		item := &o.Items[i]
		item.Total = item.UnitPrice.Multiply(item.Quantity)
		sum += item.Total.Amount
		if currency == "" {
			currency = item.UnitPrice.Currency
		}
	}
	o.Total = Money{Amount: sum, Currency: currency}
}

// Clone returns a deep copy so callers can't mutate stored snapshots.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.Items != nil {
		c.Items = make([]OrderItem, len(o.Items))
		copy(c.Items, o.Items)
	}
	if o.Reasons != nil {
		c.Reasons = make(map[string]string, len(o.Reasons))
		for k, v := range o.Reasons {
			c.Reasons[k] = v
		}
	}
	return &c
}

// CreateOrderItem is one requested line of a draft.
type CreateOrderItem struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
}

// CreateOrderRequest is an order draft submitted for placement.
type CreateOrderRequest struct {
	CustomerID     string            `json:"customer_id,omitempty"`
	Items          []CreateOrderItem `json:"items"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// OrderListFilter narrows ListOrders.
type OrderListFilter struct {
	CustomerID string       `json:"customer_id,omitempty"`
	Status     *OrderStatus `json:"status,omitempty"`
	StartDate  *time.Time   `json:"start_date,omitempty"`
	EndDate    *time.Time   `json:"end_date,omitempty"`
	Limit      int          `json:"limit"`
	Offset     int          `json:"offset"`
}
