package db

import (
	"context"
	"fmt"

	"github.com/xtrntr/marketplace/internal/models"
)

const tradeColumns = "id, buyer_id, buy_order_id, seller_id, sell_order_id, item_id, price, quantity, executed_at"

// InsertTrade stores an executed trade
func (db *DB) InsertTrade(ctx context.Context, trade *models.Trade) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO trades ("+tradeColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		trade.ID, trade.BuyerID, trade.BuyOrderID, trade.SellerID, trade.SellOrderID,
		trade.ItemID, trade.Price, trade.Quantity, trade.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// GetTradesByItem retrieves the trades of an item, newest first
func (db *DB) GetTradesByItem(ctx context.Context, itemID int64) ([]models.Trade, error) {
	return db.queryTrades(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE item_id = $1 ORDER BY executed_at DESC, id DESC",
		itemID)
}

// GetUserTrades retrieves all trades a user took part in
func (db *DB) GetUserTrades(ctx context.Context, userID int64) ([]models.Trade, error) {
	return db.queryTrades(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE buyer_id = $1 OR seller_id = $1 ORDER BY executed_at DESC, id DESC",
		userID)
}

// GetLastTradePrices returns the most recent trade price of every traded item
func (db *DB) GetLastTradePrices(ctx context.Context) (map[int64]float64, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT DISTINCT ON (item_id) item_id, price FROM trades ORDER BY item_id, executed_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to get last trade prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[int64]float64)
	for rows.Next() {
		var itemID int64
		var price float64
		if err := rows.Scan(&itemID, &price); err != nil {
			return nil, fmt.Errorf("failed to scan last trade price: %w", err)
		}
		prices[itemID] = price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get last trade prices: %w", err)
	}
	return prices, nil
}

// GetAverageTradePrice averages an item's trade prices, 0 without trades
func (db *DB) GetAverageTradePrice(ctx context.Context, itemID int64) (float64, error) {
	var avg float64
	err := db.Pool.QueryRow(ctx,
		"SELECT COALESCE(AVG(price), 0) FROM trades WHERE item_id = $1", itemID).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("failed to get average trade price: %w", err)
	}
	return avg, nil
}

// GetTotalExecutedTrades counts all trades
func (db *DB) GetTotalExecutedTrades(ctx context.Context) (int, error) {
	return db.count(ctx, "SELECT COUNT(*) FROM trades")
}

// GetExecutedTradesByItem counts an item's trades
func (db *DB) GetExecutedTradesByItem(ctx context.Context, itemID int64) (int, error) {
	return db.count(ctx, "SELECT COUNT(*) FROM trades WHERE item_id = $1", itemID)
}

// NewTradeID returns the next unused trade id
func (db *DB) NewTradeID(ctx context.Context) (int64, error) {
	var id int64
	if err := db.Pool.QueryRow(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM trades").Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to generate trade id: %w", err)
	}
	return id, nil
}

func (db *DB) queryTrades(ctx context.Context, query string, args ...any) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var trade models.Trade
		if err := rows.Scan(&trade.ID, &trade.BuyerID, &trade.BuyOrderID, &trade.SellerID, &trade.SellOrderID,
			&trade.ItemID, &trade.Price, &trade.Quantity, &trade.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}
