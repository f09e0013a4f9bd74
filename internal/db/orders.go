package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/models"

	"github.com/jackc/pgx/v5"
)

const orderColumns = "id, user_id, item_id, side, kind, price, quantity, status, created_at"

// Bids first, then asks, each in price/time priority. Orders without a
// price sort last on their side.
const priorityOrder = `
	ORDER BY side ASC,
		CASE WHEN side = 'BUY' THEN price END DESC NULLS LAST,
		CASE WHEN side = 'SELL' THEN price END ASC NULLS LAST,
		created_at ASC,
		id ASC`

// InsertOrder stores a new order under its application-assigned id
func (db *DB) InsertOrder(ctx context.Context, order *models.Order) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO orders ("+orderColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		order.ID, order.UserID, order.ItemID, string(order.Side), string(order.Kind),
		order.Price, order.Quantity, string(order.Status), order.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// UpdateOrderStatus updates an order's status
func (db *DB) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	tag, err := db.Pool.Exec(ctx, "UPDATE orders SET status = $1 WHERE id = $2", string(status), orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return exchange.ErrNotFound
	}
	return nil
}

// GetOrder retrieves a single order
func (db *DB) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	row := db.Pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", orderID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, exchange.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetOrderStatus reads the current status of an order
func (db *DB) GetOrderStatus(ctx context.Context, orderID int64) (models.OrderStatus, error) {
	var status string
	err := db.Pool.QueryRow(ctx, "SELECT status FROM orders WHERE id = $1", orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", exchange.ErrNotFound
		}
		return "", fmt.Errorf("failed to get order status: %w", err)
	}
	return models.OrderStatus(status), nil
}

// GetOpenOrders retrieves all open orders from the database
func (db *DB) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	return db.queryOrders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE status = 'OPEN' ORDER BY created_at ASC, id ASC")
}

// GetOpenOrdersByItem retrieves the open orders of an item in book order
func (db *DB) GetOpenOrdersByItem(ctx context.Context, itemID int64) ([]models.Order, error) {
	return db.queryOrders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE item_id = $1 AND status = 'OPEN'"+priorityOrder,
		itemID)
}

// GetUserOrders retrieves all orders for a user
func (db *DB) GetUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return db.queryOrders(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY id ASC", userID)
}

// MaxOrderID returns the highest order id stored, or 0
func (db *DB) MaxOrderID(ctx context.Context) (int64, error) {
	var id int64
	if err := db.Pool.QueryRow(ctx, "SELECT COALESCE(MAX(id), 0) FROM orders").Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to get max order id: %w", err)
	}
	return id, nil
}

// GetUnmatchedOrderCount counts an item's open orders
func (db *DB) GetUnmatchedOrderCount(ctx context.Context, itemID int64) (int, error) {
	return db.count(ctx, "SELECT COUNT(*) FROM orders WHERE item_id = $1 AND status = 'OPEN'", itemID)
}

// GetTotalUnmatchedOrders counts all open orders
func (db *DB) GetTotalUnmatchedOrders(ctx context.Context) (int, error) {
	return db.count(ctx, "SELECT COUNT(*) FROM orders WHERE status = 'OPEN'")
}

func (db *DB) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := db.Pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

func (db *DB) queryOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		order              models.Order
		side, kind, status string
	)
	err := row.Scan(&order.ID, &order.UserID, &order.ItemID, &side, &kind,
		&order.Price, &order.Quantity, &status, &order.Timestamp)
	if err != nil {
		return nil, err
	}
	order.Side = models.Side(side)
	order.Kind = models.OrderKind(kind)
	order.Status = models.OrderStatus(status)
	return &order, nil
}
