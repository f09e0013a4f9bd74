package db

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/models"
)

var testDB *DB

func TestMain(m *testing.M) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL not set, skipping postgres tests")
		os.Exit(0)
	}

	ctx := context.Background()
	db, err := NewDB(ctx, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	if err := db.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to apply migration: %v\n", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	db.Close(ctx)
	os.Exit(code)
}

var t0 = time.Date(2025, 9, 27, 10, 0, 0, 0, time.UTC)

// fixture truncates every table and creates two users and one item
func fixture(t *testing.T) (alice, bob *models.User, item *models.Item) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, testDB.Truncate(ctx))

	alice, err := testDB.CreateUser(ctx, "Alice", "hash")
	require.NoError(t, err)
	bob, err = testDB.CreateUser(ctx, "Bob", "hash")
	require.NoError(t, err)
	item, err = testDB.CreateItem(ctx, "Replica A")
	require.NoError(t, err)
	return alice, bob, item
}

func order(id, user, item int64, side models.Side, price *float64, ts time.Time) *models.Order {
	kind := models.Open
	if price != nil {
		kind = models.AtPrice
	}
	return &models.Order{
		ID:        id,
		UserID:    user,
		ItemID:    item,
		Side:      side,
		Kind:      kind,
		Price:     price,
		Quantity:  1,
		Status:    models.StatusOpen,
		Timestamp: ts,
	}
}

func TestDB_Catalog(t *testing.T) {
	ctx := context.Background()
	alice, _, item := fixture(t)

	got, err := testDB.GetUserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = testDB.CreateUser(ctx, "ALICE", "hash")
	assert.Error(t, err, "names are unique regardless of case")

	_, err = testDB.GetUserByID(ctx, 999)
	assert.ErrorIs(t, err, exchange.ErrNotFound)

	gotItem, err := testDB.GetItemByName(ctx, "replica a")
	require.NoError(t, err)
	assert.Equal(t, item.ID, gotItem.ID)

	_, err = testDB.GetItemByName(ctx, "missing")
	assert.ErrorIs(t, err, exchange.ErrNotFound)
}

func TestDB_InsertOrder(t *testing.T) {
	alice, _, item := fixture(t)

	tests := []struct {
		name        string
		order       *models.Order
		expectError bool
	}{
		{
			name:  "AtPrice",
			order: order(1, alice.ID, item.ID, models.Buy, models.PriceOf(100), t0),
		},
		{
			name:  "Open",
			order: order(2, alice.ID, item.ID, models.Sell, nil, t0),
		},
		{
			name:        "DuplicateID",
			order:       order(1, alice.ID, item.ID, models.Buy, models.PriceOf(100), t0),
			expectError: true,
		},
		{
			name: "OpenWithPrice",
			order: func() *models.Order {
				o := order(3, alice.ID, item.ID, models.Buy, nil, t0)
				o.Price = models.PriceOf(10)
				return o
			}(),
			expectError: true,
		},
		{
			name: "ZeroQuantity",
			order: func() *models.Order {
				o := order(4, alice.ID, item.ID, models.Buy, models.PriceOf(10), t0)
				o.Quantity = 0
				return o
			}(),
			expectError: true,
		},
		{
			name:        "NonExistentUser",
			order:       order(5, 999, item.ID, models.Buy, models.PriceOf(10), t0),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := testDB.InsertOrder(context.Background(), tt.order)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			got, err := testDB.GetOrder(context.Background(), tt.order.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.order.Kind, got.Kind)
			assert.Equal(t, tt.order.Price, got.Price)
			assert.True(t, tt.order.Timestamp.Equal(got.Timestamp))
		})
	}
}

func TestDB_OrderStatus(t *testing.T) {
	ctx := context.Background()
	alice, _, item := fixture(t)
	require.NoError(t, testDB.InsertOrder(ctx, order(1, alice.ID, item.ID, models.Buy, nil, t0)))

	status, err := testDB.GetOrderStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, status)

	require.NoError(t, testDB.UpdateOrderStatus(ctx, 1, models.StatusCancelled))
	status, err = testDB.GetOrderStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, status)

	_, err = testDB.GetOrderStatus(ctx, 42)
	assert.ErrorIs(t, err, exchange.ErrNotFound)
	assert.ErrorIs(t, testDB.UpdateOrderStatus(ctx, 42, models.StatusFilled), exchange.ErrNotFound)
}

func TestDB_GetOpenOrdersByItem(t *testing.T) {
	ctx := context.Background()
	alice, bob, item := fixture(t)

	orders := []*models.Order{
		order(1, alice.ID, item.ID, models.Buy, models.PriceOf(100), t0),
		order(2, alice.ID, item.ID, models.Buy, nil, t0),
		order(3, alice.ID, item.ID, models.Buy, models.PriceOf(110), t0.Add(time.Second)),
		order(4, bob.ID, item.ID, models.Sell, models.PriceOf(130), t0),
		order(5, bob.ID, item.ID, models.Sell, models.PriceOf(120), t0.Add(time.Second)),
		order(6, bob.ID, item.ID, models.Sell, models.PriceOf(120), t0),
		order(7, bob.ID, item.ID, models.Sell, nil, t0),
	}
	for _, o := range orders {
		require.NoError(t, testDB.InsertOrder(ctx, o))
	}
	require.NoError(t, testDB.UpdateOrderStatus(ctx, 4, models.StatusFilled))

	got, err := testDB.GetOpenOrdersByItem(ctx, item.ID)
	require.NoError(t, err)

	var ids []int64
	for _, o := range got {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []int64{3, 1, 2, 6, 5, 7}, ids)

	all, err := testDB.GetOpenOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	n, err := testDB.GetUnmatchedOrderCount(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	maxID, err := testDB.MaxOrderID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), maxID)

	mine, err := testDB.GetUserOrders(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 3)
}

func TestDB_Trades(t *testing.T) {
	ctx := context.Background()
	alice, bob, item := fixture(t)
	require.NoError(t, testDB.InsertOrder(ctx, order(1, alice.ID, item.ID, models.Buy, nil, t0)))
	require.NoError(t, testDB.InsertOrder(ctx, order(2, bob.ID, item.ID, models.Sell, nil, t0)))
	require.NoError(t, testDB.InsertOrder(ctx, order(3, alice.ID, item.ID, models.Buy, nil, t0)))
	require.NoError(t, testDB.InsertOrder(ctx, order(4, bob.ID, item.ID, models.Sell, nil, t0)))

	avg, err := testDB.GetAverageTradePrice(ctx, item.ID)
	require.NoError(t, err)
	assert.Zero(t, avg)

	id, err := testDB.NewTradeID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	for i, price := range []float64{1000, 1200} {
		trade := &models.Trade{
			ID: int64(i + 1), BuyerID: alice.ID, BuyOrderID: int64(2*i + 1),
			SellerID: bob.ID, SellOrderID: int64(2*i + 2), ItemID: item.ID,
			Price: price, Quantity: 1, Timestamp: t0.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, testDB.InsertTrade(ctx, trade))
	}

	trades, err := testDB.GetTradesByItem(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, int64(2), trades[0].ID, "newest first")

	avg, err = testDB.GetAverageTradePrice(ctx, item.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1100.0, avg, 1e-9)

	last, err := testDB.GetLastTradePrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]float64{item.ID: 1200}, last)

	total, err := testDB.GetTotalExecutedTrades(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	id, err = testDB.NewTradeID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)

	mine, err := testDB.GetUserTrades(ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

// The router on top of postgres must not fill an order twice when many
// goroutines trade the same item.
func TestDB_ConcurrentMatching(t *testing.T) {
	ctx := context.Background()
	alice, bob, item := fixture(t)

	router := exchange.NewRouter(testDB, exchange.RouterOptions{})
	require.NoError(t, router.Restore(ctx))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := router.Submit(ctx, exchange.SubmitRequest{UserID: alice.ID, ItemID: item.ID, Side: models.Buy, Kind: models.Open, Quantity: 1})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := router.Submit(ctx, exchange.SubmitRequest{UserID: bob.ID, ItemID: item.ID, Side: models.Sell, Kind: models.Open, Quantity: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	trades, err := testDB.GetTradesByItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, trades, n)

	seen := make(map[int64]bool)
	for _, tr := range trades {
		assert.False(t, seen[tr.BuyOrderID])
		assert.False(t, seen[tr.SellOrderID])
		seen[tr.BuyOrderID] = true
		seen[tr.SellOrderID] = true
	}

	open, err := testDB.GetTotalUnmatchedOrders(ctx)
	require.NoError(t, err)
	assert.Zero(t, open)
}

func TestDB_RestoreRebuildsBooks(t *testing.T) {
	ctx := context.Background()
	alice, bob, item := fixture(t)

	first := exchange.NewRouter(testDB, exchange.RouterOptions{})
	require.NoError(t, first.Restore(ctx))
	_, err := first.Submit(ctx, exchange.SubmitRequest{UserID: alice.ID, ItemID: item.ID, Side: models.Buy, Kind: models.AtPrice, Price: models.PriceOf(500), Quantity: 1})
	require.NoError(t, err)

	second := exchange.NewRouter(testDB, exchange.RouterOptions{})
	require.NoError(t, second.Restore(ctx))
	sell, err := second.Submit(ctx, exchange.SubmitRequest{UserID: bob.ID, ItemID: item.ID, Side: models.Sell, Kind: models.AtPrice, Price: models.PriceOf(400), Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), sell.ID)
	assert.Equal(t, models.StatusFilled, sell.Status)

	trades, err := testDB.GetTradesByItem(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 500.0, trades[0].Price)
}
