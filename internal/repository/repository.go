package repository

import (
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/interfaces"
)

var (
	_ interfaces.OrderRepository = (*PostgresOrderRepository)(nil)
	_ interfaces.OrderRepository = (*MemoryOrderRepository)(nil)
	_ interfaces.OrderCache      = (*RedisOrderCache)(nil)
)
