package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tm-acme-shop/acme-shop-order-placement/internal/errors"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/logging"
	"github.com/tm-acme-shop/acme-shop-order-placement/internal/models"
)

const (
	idempotencyKeyIndex = "orders_idempotency_key_idx"

	orderColumns = `id, customer_id, status, total_amount, total_currency, reasons,
		failure_reason, idempotency_key, created_at, updated_at`
	itemColumns = `id, order_id, product_id, quantity, unit_amount, unit_currency, total_amount`
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// PostgresOrderRepository implements interfaces.OrderRepository using PostgreSQL.
type PostgresOrderRepository struct {
	db     *sql.DB
	logger *logging.LoggerV2
	now    func() time.Time
}

// NewPostgresOrderRepository creates a new PostgreSQL order repository.
func NewPostgresOrderRepository(db *sql.DB, logger *logging.LoggerV2) *PostgresOrderRepository {
	return &PostgresOrderRepository{
		db:     db,
		logger: logger,
		now:    storeNow,
	}
}

// storeNow matches what a TIMESTAMPTZ column hands back: UTC at microsecond
// precision. Orders returned from Create then equal their read-back.
func storeNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Create inserts the order and its items in one transaction.
func (r *PostgresOrderRepository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	r.logger.Debug("Creating new order", logging.Fields{
		"customer_id": order.CustomerID,
		"status":      order.Status,
		"items":       len(order.Items),
	})

	o := prepareForInsert(order, r.now())

	reasonsJSON, err := marshalReasons(o.Reasons)
	if err != nil {
		return nil, errors.NewPersistenceError("create order", err)
	}

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			o.ID,
			o.CustomerID,
			o.Status,
			o.Total.Amount,
			o.Total.Currency,
			reasonsJSON,
			o.FailureReason,
			nullString(o.IdempotencyKey),
			o.CreatedAt,
			o.UpdatedAt,
		)
		if err != nil {
			return err
		}

		for i, item := range o.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, position, product_id, quantity,
				                         unit_amount, unit_currency, total_amount)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				item.ID,
				o.ID,
				i,
				item.ProductID,
				item.Quantity,
				item.UnitPrice.Amount,
				item.UnitPrice.Currency,
				item.Total.Amount,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		mapped := mapError("create order", err)
		if mapped != errors.ErrDuplicateIdempotencyKey {
			r.logger.Error("Failed to create order", logging.Fields{
				"order_id": o.ID,
				"error":    err,
			})
		}
		return nil, mapped
	}

	r.logger.Info("Order created successfully", logging.Fields{
		"order_id": o.ID,
		"status":   o.Status,
		"total":    o.Total.Amount,
	})

	return o, nil
}

// GetByID retrieves an order with its items.
func (r *PostgresOrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	r.logger.Debug("Fetching order by ID", logging.Fields{"order_id": id})

	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to fetch order", logging.Fields{
			"order_id": id,
			"error":    err,
		})
		return nil, errors.NewPersistenceError("get order", err)
	}

	if err := r.attachItems(ctx, r.db, []*models.Order{order}); err != nil {
		return nil, errors.NewPersistenceError("get order items", err)
	}
	return order, nil
}

// GetByIdempotencyKey retrieves the order placed with the given key.
func (r *PostgresOrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE idempotency_key = $1`, key).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, errors.NewPersistenceError("get order by idempotency key", err)
	}
	return r.GetByID(ctx, id)
}

// UpdateStatus moves a pending order into a terminal status. The row is
// locked for the check so concurrent transitions serialize.
func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, id string, status models.OrderStatus) (*models.Order, error) {
	r.logger.Debug("Updating order status", logging.Fields{
		"order_id":   id,
		"new_status": status,
	})

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var current models.OrderStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return errors.ErrNotFound
		}
		if err != nil {
			return err
		}
		if !current.CanTransitionTo(status) {
			return &errors.InvalidStateError{OrderID: id, From: string(current), To: string(status)}
		}
		_, err = tx.ExecContext(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`, id, status, r.now())
		return err
	})
	if err != nil {
		var invalid *errors.InvalidStateError
		if errors.IsNotFound(err) || errors.As(err, &invalid) {
			return nil, err
		}
		r.logger.Error("Failed to update order status", logging.Fields{
			"order_id": id,
			"error":    err,
		})
		return nil, mapError("update order status", err)
	}

	r.logger.Info("Order status updated", logging.Fields{
		"order_id":   id,
		"new_status": status,
	})

	return r.GetByID(ctx, id)
}

// List retrieves orders matching the filter, newest first, and the total
// number of matches.
func (r *PostgresOrderRepository) List(ctx context.Context, filter *models.OrderListFilter) ([]*models.Order, int, error) {
	r.logger.Debug("Listing orders", logging.Fields{
		"customer_id": filter.CustomerID,
		"limit":       filter.Limit,
		"offset":      filter.Offset,
	})

	where, args := buildListWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewPersistenceError("count orders", err)
	}

	n := len(args)
	query := "SELECT " + orderColumns + " FROM orders" + where +
		" ORDER BY created_at DESC, id LIMIT $" + strconv.Itoa(n+1) + " OFFSET $" + strconv.Itoa(n+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.NewPersistenceError("list orders", err)
	}
	defer rows.Close()

	orders := make([]*models.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, errors.NewPersistenceError("list orders", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewPersistenceError("list orders", err)
	}

	if err := r.attachItems(ctx, r.db, orders); err != nil {
		return nil, 0, errors.NewPersistenceError("list order items", err)
	}

	r.logger.Info("Orders listed", logging.Fields{
		"count": len(orders),
		"total": total,
	})

	return orders, total, nil
}

func buildListWhere(filter *models.OrderListFilter) (string, []interface{}) {
	var conds []string
	args := make([]interface{}, 0, 4)

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}

	if filter.CustomerID != "" {
		add("customer_id = ?", filter.CustomerID)
	}
	if filter.Status != nil {
		add("status = ?", *filter.Status)
	}
	if filter.StartDate != nil {
		add("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("created_at <= ?", *filter.EndDate)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// attachItems loads the items of all given orders with a single query.
func (r *PostgresOrderRepository) attachItems(ctx context.Context, q queryer, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]string, len(orders))
	byID := make(map[string]*models.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
		o.Items = make([]models.OrderItem, 0)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`,
		pq.Array(ids),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice.Amount,
			&item.UnitPrice.Currency,
			&item.Total.Amount,
		); err != nil {
			return err
		}
		item.Total.Currency = item.UnitPrice.Currency
		if o, ok := byID[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return rows.Err()
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var reasonsJSON []byte
	var idempotencyKey sql.NullString

	err := row.Scan(
		&order.ID,
		&order.CustomerID,
		&order.Status,
		&order.Total.Amount,
		&order.Total.Currency,
		&reasonsJSON,
		&order.FailureReason,
		&idempotencyKey,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(reasonsJSON) > 0 {
		if err := json.Unmarshal(reasonsJSON, &order.Reasons); err != nil {
			return nil, err
		}
	}
	if idempotencyKey.Valid {
		order.IdempotencyKey = idempotencyKey.String
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return &order, nil
}

// prepareForInsert returns a copy of order with ids, timestamps, item
// ownership and totals filled in. A draft without status is stored pending.
func prepareForInsert(order *models.Order, now time.Time) *models.Order {
	o := order.Clone()
	if o.ID == "" {
		o.ID = generateOrderID()
	}
	if o.Status == "" {
		o.Status = models.OrderStatusPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	} else {
		o.CreatedAt = o.CreatedAt.UTC().Truncate(time.Microsecond)
	}
	o.UpdatedAt = now
	for i := range o.Items {
		if o.Items[i].ID == "" {
			o.Items[i].ID = generateItemID()
		}
		o.Items[i].OrderID = o.ID
	}
	o.CalculateTotal()
	return o
}

func marshalReasons(reasons map[string]string) ([]byte, error) {
	if len(reasons) == 0 {
		return nil, nil
	}
	return json.Marshal(reasons)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// mapError translates driver errors into the service error taxonomy.
func mapError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == "23505" && pqErr.Constraint == idempotencyKeyIndex {
			return errors.ErrDuplicateIdempotencyKey
		}
		if pqErr.Code.Class() == "23" {
			return &errors.PersistenceError{Op: op, Err: err, Constraint: true}
		}
	}
	return errors.NewPersistenceError(op, err)
}

func generateOrderID() string {
	return "ord_" + uuid.NewString()
}

func generateItemID() string {
	return "item_" + uuid.NewString()
}
