package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatusTransitions(t *testing.T) {
	tests := []struct {
		name     string
		from     OrderStatus
		to       OrderStatus
		expected bool
	}{
		{"pending to confirmed", OrderStatusPending, OrderStatusConfirmed, true},
		{"pending to rejected", OrderStatusPending, OrderStatusRejected, true},
		{"pending to failed", OrderStatusPending, OrderStatusFailed, true},
		{"pending to pending", OrderStatusPending, OrderStatusPending, false},
		{"confirmed to failed", OrderStatusConfirmed, OrderStatusFailed, false},
		{"rejected to confirmed", OrderStatusRejected, OrderStatusConfirmed, false},
		{"failed to confirmed", OrderStatusFailed, OrderStatusConfirmed, false},
		{"pending to unknown", OrderStatusPending, OrderStatus("shipped"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestOrderStatusPredicates(t *testing.T) {
	assert.False(t, OrderStatusPending.IsTerminal())
	assert.True(t, OrderStatusPending.IsValid())
	assert.True(t, OrderStatusFailed.IsTerminal())
	assert.False(t, OrderStatus("cancelled").IsValid())
}

func TestCalculateTotal(t *testing.T) {
	o := &Order{Items: []OrderItem{
		{ProductID: "A1", Quantity: 2, UnitPrice: Money{Amount: 1000, Currency: "USD"}},
		{ProductID: "B2", Quantity: 3, UnitPrice: Money{Amount: 250, Currency: "USD"}},
	}}

	o.CalculateTotal()

	assert.Equal(t, Money{Amount: 2000, Currency: "USD"}, o.Items[0].Total)
	assert.Equal(t, Money{Amount: 750, Currency: "USD"}, o.Items[1].Total)
	assert.Equal(t, Money{Amount: 2750, Currency: "USD"}, o.Total)
}

func TestClone(t *testing.T) {
	o := &Order{
		ID:      "ord_1",
		Items:   []OrderItem{{ProductID: "A1", Quantity: 1}},
		Reasons: map[string]string{"A1": "out_of_stock"},
	}

	c := o.Clone()
	c.Items[0].Quantity = 9
	c.Reasons["A1"] = "changed"

	assert.Equal(t, 1, o.Items[0].Quantity)
	assert.Equal(t, "out_of_stock", o.Reasons["A1"])
	assert.Nil(t, (*Order)(nil).Clone())
}

func TestMoneyMultiply(t *testing.T) {
	m := Money{Amount: 1999, Currency: "USD"}
	assert.Equal(t, Money{Amount: 5997, Currency: "USD"}, m.Multiply(3))
	assert.Equal(t, Money{Amount: 0, Currency: "USD"}, m.Multiply(0))
}
