package exchange

import (
	"context"

	"github.com/pkg/errors"
	"github.com/xtrntr/marketplace/internal/models"
)

var (
	// ErrInvalidOrder is returned for malformed submissions. Nothing is
	// mutated when it is returned.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrNotFound is returned by stores for unknown orders.
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps failed writes to the store.
	ErrPersistence = errors.New("persistence failure")
)

// Store is the durable record of orders and trades. The engine treats it as
// authoritative for order status while matching. Implementations must not
// call back into the exchange.
type Store interface {
	InsertOrder(ctx context.Context, order *models.Order) error
	UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error
	InsertTrade(ctx context.Context, trade *models.Trade) error

	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	GetOrderStatus(ctx context.Context, orderID int64) (models.OrderStatus, error)
	GetOpenOrders(ctx context.Context) ([]models.Order, error)
	GetOpenOrdersByItem(ctx context.Context, itemID int64) ([]models.Order, error)
	GetTradesByItem(ctx context.Context, itemID int64) ([]models.Trade, error)
	// GetLastTradePrices maps every item with trades to its most recent price.
	GetLastTradePrices(ctx context.Context) (map[int64]float64, error)

	GetAverageTradePrice(ctx context.Context, itemID int64) (float64, error)
	GetUnmatchedOrderCount(ctx context.Context, itemID int64) (int, error)
	GetTotalExecutedTrades(ctx context.Context) (int, error)
	GetExecutedTradesByItem(ctx context.Context, itemID int64) (int, error)
	GetTotalUnmatchedOrders(ctx context.Context) (int, error)

	NewTradeID(ctx context.Context) (int64, error)
	MaxOrderID(ctx context.Context) (int64, error)
}

// TradeListener is told about every trade after it has been persisted.
// It is called with the item lock held and must not block.
type TradeListener interface {
	OnTrade(trade models.Trade)
}
