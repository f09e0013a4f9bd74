package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/xtrntr/marketplace/internal/models"
	"go.uber.org/zap"
)

// Options configures an Engine.
type Options struct {
	Logger *zap.Logger
	// Now stamps trades. Defaults to time.Now.
	Now func() time.Time
	// NextTradeID hands out trade ids. When nil the store is asked for the
	// next unused id on every trade.
	NextTradeID func() int64
	// OnTrade is called with the item lock held after a trade is persisted.
	OnTrade func(models.Trade)
}

// Engine matches orders for a single item. All book mutation and matching
// happens under mu, so at most one matching pass runs per item at a time.
type Engine struct {
	mu sync.Mutex

	itemID int64
	bids   *Book
	asks   *Book
	open   map[int64]*models.Order

	lastPrice *float64
	executed  int

	store  Store
	logger *zap.Logger
	opts   Options
}

// NewEngine creates the matching engine for one item
func NewEngine(itemID int64, store Store, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		itemID: itemID,
		bids:   NewBook(),
		asks:   NewBook(),
		open:   make(map[int64]*models.Order),
		store:  store,
		logger: opts.Logger.With(zap.Int64("item_id", itemID)),
		opts:   opts,
	}
}

// Submit adds an order to the book and matches it against the opposing
// side. The returned order is a copy carrying the resulting status.
// Cancelling ctx does not interrupt the pass: every write that records an
// accepted match still reaches the store.
func (e *Engine) Submit(ctx context.Context, order *models.Order) *models.Order {
	if order.Status == models.StatusCancelled {
		return order
	}
	ctx = context.WithoutCancel(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.open[order.ID] = order
	e.book(order.Side).Add(order)
	e.match(ctx, order, e.book(order.Side.Opposite()))

	return order.Clone()
}

// Cancel marks a tracked open order as cancelled and removes it from the
// book. It does not touch the store.
func (e *Engine) Cancel(orderID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.open[orderID]
	if !ok {
		return false
	}
	order.Status = models.StatusCancelled
	e.book(order.Side).Remove(order)
	delete(e.open, orderID)
	return true
}

// Restore puts an already-persisted open order back on the book without
// matching it.
func (e *Engine) Restore(order *models.Order) {
	if order.Status != models.StatusOpen {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.open[order.ID]; ok {
		return
	}
	e.open[order.ID] = order
	e.book(order.Side).Add(order)
}

// SetLastTradedPrice seeds the cached last traded price
func (e *Engine) SetLastTradedPrice(price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastPrice = &price
}

// LastTradedPrice returns the price of the most recent trade, if any
func (e *Engine) LastTradedPrice() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastPrice == nil {
		return 0, false
	}
	return *e.lastPrice, true
}

// ExecutedTrades returns the number of trades this engine produced
func (e *Engine) ExecutedTrades() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executed
}

// Snapshot returns copies of both sides in priority order
func (e *Engine) Snapshot() (bids, asks []models.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bids.Orders(), e.asks.Orders()
}

func (e *Engine) book(side models.Side) *Book {
	if side == models.Buy {
		return e.bids
	}
	return e.asks
}

// match drains the opposing book until the incoming order is filled or no
// candidate is left. Candidates that cannot trade are set aside and put
// back once the scan is over.
func (e *Engine) match(ctx context.Context, incoming *models.Order, opposing *Book) {
	var skipped []*models.Order

	for incoming.Status == models.StatusOpen && opposing.Len() > 0 {
		candidate, _ := opposing.PopBest()

		if !e.stillOpen(ctx, candidate) {
			delete(e.open, candidate.ID)
			continue
		}

		if candidate.Quantity != incoming.Quantity {
			skipped = append(skipped, candidate)
			continue
		}

		price, ok := e.tradePrice(incoming, candidate)
		if !ok {
			skipped = append(skipped, candidate)
			continue
		}

		e.fill(ctx, incoming, candidate, price)
	}

	for _, o := range skipped {
		opposing.Add(o)
	}
}

// stillOpen re-reads the candidate's status from the store, which may have
// been changed by a cancel that raced the match.
func (e *Engine) stillOpen(ctx context.Context, o *models.Order) bool {
	status, err := e.store.GetOrderStatus(ctx, o.ID)
	if err != nil {
		e.logger.Warn("status lookup failed, using in-memory status",
			zap.Int64("order_id", o.ID), zap.Error(err))
		return o.Status == models.StatusOpen
	}
	if status != models.StatusOpen {
		o.Status = status
		return false
	}
	return o.Status == models.StatusOpen
}

// tradePrice decides whether incoming and candidate cross and at what price.
func (e *Engine) tradePrice(incoming, candidate *models.Order) (float64, bool) {
	buy, sell := incoming, candidate
	if incoming.Side == models.Sell {
		buy, sell = candidate, incoming
	}

	if buy.Kind == models.AtPrice && sell.Kind == models.AtPrice {
		if *buy.Price < *sell.Price {
			return 0, false
		}
		// the earlier of the two orders sets the price
		if incoming.Timestamp.Before(candidate.Timestamp) {
			return *incoming.Price, true
		}
		return *candidate.Price, true
	}

	price := e.fallbackPrice()
	if buy.Kind == models.AtPrice && *buy.Price < price {
		return 0, false
	}
	if sell.Kind == models.AtPrice && *sell.Price > price {
		return 0, false
	}
	return price, true
}

func (e *Engine) fill(ctx context.Context, incoming, candidate *models.Order, price float64) {
	for _, o := range []*models.Order{incoming, candidate} {
		if err := e.store.UpdateOrderStatus(ctx, o.ID, models.StatusFilled); err != nil {
			e.logger.Error("failed to persist fill",
				zap.Int64("order_id", o.ID),
				zap.Error(err))
		}
		o.Status = models.StatusFilled
		delete(e.open, o.ID)
	}
	// the candidate was popped already; the incoming order still sits on its side
	e.book(incoming.Side).Remove(incoming)

	e.executed++
	e.lastPrice = &price

	trade := e.newTrade(ctx, incoming, candidate, price)
	if err := e.store.InsertTrade(ctx, &trade); err != nil {
		e.logger.Error("failed to persist trade",
			zap.Int64("trade_id", trade.ID),
			zap.Error(err))
	}

	e.logger.Debug("trade executed",
		zap.Int64("trade_id", trade.ID),
		zap.Int64("buy_order_id", trade.BuyOrderID),
		zap.Int64("sell_order_id", trade.SellOrderID),
		zap.Float64("price", trade.Price),
		zap.Int("quantity", trade.Quantity))

	if e.opts.OnTrade != nil {
		e.opts.OnTrade(trade)
	}
}

func (e *Engine) newTrade(ctx context.Context, incoming, candidate *models.Order, price float64) models.Trade {
	buy, sell := incoming, candidate
	if incoming.Side == models.Sell {
		buy, sell = candidate, incoming
	}
	return models.Trade{
		ID:          e.nextTradeID(ctx),
		BuyerID:     buy.UserID,
		BuyOrderID:  buy.ID,
		SellerID:    sell.UserID,
		SellOrderID: sell.ID,
		ItemID:      e.itemID,
		Price:       price,
		Quantity:    incoming.Quantity,
		Timestamp:   e.opts.Now(),
	}
}

func (e *Engine) nextTradeID(ctx context.Context) int64 {
	if e.opts.NextTradeID != nil {
		return e.opts.NextTradeID()
	}
	id, err := e.store.NewTradeID(ctx)
	if err != nil {
		e.logger.Error("failed to allocate trade id", zap.Error(err))
		return int64(e.executed)
	}
	return id
}
