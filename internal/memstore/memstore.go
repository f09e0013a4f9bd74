// Package memstore keeps orders, trades and the user/item catalog in
// process memory. It satisfies both exchange.Store and catalog.Store and is
// what the CLI runs on when no database is configured.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/models"
)

// Store is a mutex-guarded in-memory store
type Store struct {
	mu sync.RWMutex

	orders map[int64]*models.Order
	trades []models.Trade
	users  []models.User
	items  []models.Item

	failWrites bool
}

// New creates an empty store
func New() *Store {
	return &Store{orders: make(map[int64]*models.Order)}
}

var errWriteFailed = fmt.Errorf("memstore: write failed")

// SetFailWrites makes every subsequent write return an error
func (s *Store) SetFailWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = fail
}

// Reset drops all data
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = make(map[int64]*models.Order)
	s.trades = nil
	s.users = nil
	s.items = nil
}

func (s *Store) InsertOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errWriteFailed
	}
	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("order %d already exists", order.ID)
	}
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errWriteFailed
	}
	o, ok := s.orders[orderID]
	if !ok {
		return exchange.ErrNotFound
	}
	o.Status = status
	return nil
}

func (s *Store) InsertTrade(ctx context.Context, trade *models.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errWriteFailed
	}
	s.trades = append(s.trades, *trade)
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, exchange.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *Store) GetOrderStatus(ctx context.Context, orderID int64) (models.OrderStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return "", exchange.ErrNotFound
	}
	return o.Status, nil
}

// GetOpenOrders returns every open order, oldest first
func (s *Store) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for _, o := range s.orders {
		if o.Status == models.StatusOpen {
			out = append(out, *o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetOpenOrdersByItem returns the item's open bids then asks, each side in
// priority order
func (s *Store) GetOpenOrdersByItem(ctx context.Context, itemID int64) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var bids, asks []models.Order
	for _, o := range s.orders {
		if o.ItemID != itemID || o.Status != models.StatusOpen {
			continue
		}
		if o.Side == models.Buy {
			bids = append(bids, *o.Clone())
		} else {
			asks = append(asks, *o.Clone())
		}
	}
	sortByPriority(bids)
	sortByPriority(asks)
	return append(bids, asks...), nil
}

func sortByPriority(orders []models.Order) {
	sort.Slice(orders, func(i, j int) bool { return models.Less(&orders[i], &orders[j]) })
}

// GetTradesByItem returns the item's trades, newest first
func (s *Store) GetTradesByItem(ctx context.Context, itemID int64) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Trade
	for _, t := range s.trades {
		if t.ItemID == itemID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// GetLastTradePrices returns each traded item's latest price
func (s *Store) GetLastTradePrices(ctx context.Context) (map[int64]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[int64]models.Trade)
	for _, t := range s.trades {
		cur, ok := latest[t.ItemID]
		if !ok || t.Timestamp.After(cur.Timestamp) ||
			(t.Timestamp.Equal(cur.Timestamp) && t.ID > cur.ID) {
			latest[t.ItemID] = t
		}
	}
	out := make(map[int64]float64, len(latest))
	for itemID, t := range latest {
		out[itemID] = t.Price
	}
	return out, nil
}

func (s *Store) GetAverageTradePrice(ctx context.Context, itemID int64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum float64
	var n int
	for _, t := range s.trades {
		if t.ItemID == itemID {
			sum += t.Price
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

func (s *Store) GetUnmatchedOrderCount(ctx context.Context, itemID int64) (int, error) {
	return s.countOpen(func(o *models.Order) bool { return o.ItemID == itemID }), nil
}

func (s *Store) GetTotalUnmatchedOrders(ctx context.Context) (int, error) {
	return s.countOpen(func(*models.Order) bool { return true }), nil
}

func (s *Store) countOpen(match func(*models.Order) bool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, o := range s.orders {
		if o.Status == models.StatusOpen && match(o) {
			n++
		}
	}
	return n
}

func (s *Store) GetTotalExecutedTrades(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trades), nil
}

func (s *Store) GetExecutedTradesByItem(ctx context.Context, itemID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.trades {
		if t.ItemID == itemID {
			n++
		}
	}
	return n, nil
}

// NewTradeID returns one past the highest trade id stored
func (s *Store) NewTradeID(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max int64
	for _, t := range s.trades {
		if t.ID > max {
			max = t.ID
		}
	}
	return max + 1, nil
}

func (s *Store) MaxOrderID(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var max int64
	for id := range s.orders {
		if id > max {
			max = id
		}
	}
	return max, nil
}

// CreateUser inserts a new user
func (s *Store) CreateUser(ctx context.Context, name, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return nil, errWriteFailed
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Name, name) {
			return nil, fmt.Errorf("user %q already exists", name)
		}
	}
	u := models.User{
		ID:           int64(len(s.users) + 1),
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	s.users = append(s.users, u)
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ID == id {
			u := u
			return &u, nil
		}
	}
	return nil, exchange.ErrNotFound
}

// GetUserByName looks a user up by case-insensitive name
func (s *Store) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Name, name) {
			u := u
			return &u, nil
		}
	}
	return nil, exchange.ErrNotFound
}

// CreateItem inserts a new item
func (s *Store) CreateItem(ctx context.Context, name string) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return nil, errWriteFailed
	}
	for _, it := range s.items {
		if strings.EqualFold(it.Name, name) {
			return nil, fmt.Errorf("item %q already exists", name)
		}
	}
	it := models.Item{
		ID:        int64(len(s.items) + 1),
		Name:      name,
		CreatedAt: time.Now(),
	}
	s.items = append(s.items, it)
	return &it, nil
}

func (s *Store) GetItemByID(ctx context.Context, id int64) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.ID == id {
			it := it
			return &it, nil
		}
	}
	return nil, exchange.ErrNotFound
}

// GetItemByName looks an item up by case-insensitive name
func (s *Store) GetItemByName(ctx context.Context, name string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if strings.EqualFold(it.Name, name) {
			it := it
			return &it, nil
		}
	}
	return nil, exchange.ErrNotFound
}
