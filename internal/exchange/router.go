package exchange

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/xtrntr/marketplace/internal/models"
	"go.uber.org/zap"
)

// SubmitRequest describes a new order.
type SubmitRequest struct {
	UserID   int64
	ItemID   int64
	Side     models.Side
	Kind     models.OrderKind
	Price    *float64
	Quantity int
	// Status lets seed data enter pre-cancelled orders. Empty means OPEN.
	Status models.OrderStatus
}

// Validate checks a request before anything is assigned or stored
func (r SubmitRequest) Validate() error {
	if r.Side != models.Buy && r.Side != models.Sell {
		return errors.Wrapf(ErrInvalidOrder, "unknown side %q", r.Side)
	}
	switch r.Kind {
	case models.AtPrice:
		if r.Price == nil || *r.Price <= 0 {
			return errors.Wrap(ErrInvalidOrder, "AT_PRICE orders require a positive price")
		}
	case models.Open:
		if r.Price != nil {
			return errors.Wrap(ErrInvalidOrder, "OPEN orders cannot carry a price")
		}
	default:
		return errors.Wrapf(ErrInvalidOrder, "unknown order kind %q", r.Kind)
	}
	if r.Quantity <= 0 {
		return errors.Wrap(ErrInvalidOrder, "quantity must be positive")
	}
	switch r.Status {
	case "", models.StatusOpen, models.StatusCancelled:
	default:
		return errors.Wrapf(ErrInvalidOrder, "cannot submit an order as %s", r.Status)
	}
	return nil
}

// Recorder receives order lifecycle events, e.g. for metrics.
type Recorder interface {
	OrderSubmitted(order *models.Order)
	OrderCancelled(orderID int64)
	TradeExecuted(trade models.Trade)
}

// RouterOptions configures a Router.
type RouterOptions struct {
	Logger   *zap.Logger
	Now      func() time.Time
	Listener TradeListener
	Recorder Recorder
}

// Router is the entry point for order flow. It owns the order and trade id
// sequences and the item to engine mapping, creating one engine per item on
// first use.
type Router struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	listener TradeListener
	recorder Recorder

	mu      sync.Mutex
	engines map[int64]*Engine

	orderSeq atomic.Int64
	tradeSeq atomic.Int64
}

// NewRouter creates a router on top of the given store
func NewRouter(store Store, opts RouterOptions) *Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{
		store:    store,
		logger:   opts.Logger,
		now:      opts.Now,
		listener: opts.Listener,
		recorder: opts.Recorder,
		engines:  make(map[int64]*Engine),
	}
}

// Restore seeds the id sequences from the store and puts every open order
// back on its item's book. Call it once before serving traffic.
func (r *Router) Restore(ctx context.Context) error {
	maxOrderID, err := r.store.MaxOrderID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read max order id")
	}
	r.advanceOrderSeq(maxOrderID)

	nextTradeID, err := r.store.NewTradeID(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read next trade id")
	}
	r.advanceTradeSeq(nextTradeID - 1)

	open, err := r.store.GetOpenOrders(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load open orders")
	}
	items := make(map[int64]struct{})
	for i := range open {
		order := open[i]
		r.engine(order.ItemID).Restore(&order)
		items[order.ItemID] = struct{}{}
	}

	// items whose books drained before the restart still keep their price
	prices, err := r.store.GetLastTradePrices(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load last traded prices")
	}
	for itemID, price := range prices {
		r.engine(itemID).SetLastTradedPrice(price)
	}

	r.logger.Info("order books restored",
		zap.Int("open_orders", len(open)),
		zap.Int("items", len(items)),
		zap.Int("priced_items", len(prices)),
		zap.Int64("last_order_id", r.orderSeq.Load()),
		zap.Int64("last_trade_id", r.tradeSeq.Load()))
	return nil
}

// Reset drops every engine and restarts the id sequences
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines = make(map[int64]*Engine)
	r.orderSeq.Store(0)
	r.tradeSeq.Store(0)
}

// Submit assigns the next order id, persists the order and matches it.
func (r *Router) Submit(ctx context.Context, req SubmitRequest) (*models.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return r.submit(ctx, r.orderSeq.Add(1), req, r.now())
}

// SubmitWithID is Submit with a caller-chosen id and timestamp. Later
// generated ids never collide with id.
func (r *Router) SubmitWithID(ctx context.Context, id int64, req SubmitRequest, ts time.Time) (*models.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, errors.Wrapf(ErrInvalidOrder, "order id must be positive, got %d", id)
	}
	r.advanceOrderSeq(id)
	return r.submit(ctx, id, req, ts)
}

func (r *Router) submit(ctx context.Context, id int64, req SubmitRequest, ts time.Time) (*models.Order, error) {
	status := req.Status
	if status == "" {
		status = models.StatusOpen
	}
	order := &models.Order{
		ID:        id,
		UserID:    req.UserID,
		ItemID:    req.ItemID,
		Side:      req.Side,
		Kind:      req.Kind,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Status:    status,
		Timestamp: ts,
	}
	if order.Price != nil {
		p := *order.Price
		order.Price = &p
	}

	if err := r.store.InsertOrder(ctx, order); err != nil {
		r.logger.Error("failed to persist order", zap.Int64("order_id", id), zap.Error(err))
		return nil, errors.Wrapf(ErrPersistence, "insert order %d: %v", id, err)
	}
	if r.recorder != nil {
		r.recorder.OrderSubmitted(order)
	}

	result := r.engine(req.ItemID).Submit(ctx, order)

	r.logger.Debug("order submitted",
		zap.Int64("order_id", result.ID),
		zap.Int64("item_id", result.ItemID),
		zap.String("side", string(result.Side)),
		zap.String("kind", string(result.Kind)),
		zap.String("status", string(result.Status)))
	return result, nil
}

// Cancel cancels an open order. It returns false when the order does not
// exist or is already filled or cancelled. It also returns false, with no
// effect, for an order whose submission is still between being stored and
// reaching its book; the order stays open and a retry will find it.
func (r *Router) Cancel(ctx context.Context, orderID int64) (bool, error) {
	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrapf(err, "failed to look up order %d", orderID)
	}

	engine, ok := r.lookup(order.ItemID)
	if !ok || !engine.Cancel(orderID) {
		return false, nil
	}

	if err := r.store.UpdateOrderStatus(context.WithoutCancel(ctx), orderID, models.StatusCancelled); err != nil {
		// the cancel stands in memory; the store catches up on restart
		r.logger.Error("failed to persist cancel", zap.Int64("order_id", orderID), zap.Error(err))
	}
	if r.recorder != nil {
		r.recorder.OrderCancelled(orderID)
	}
	return true, nil
}

// Engine returns the engine for an item if one has been created
func (r *Router) Engine(itemID int64) (*Engine, bool) {
	return r.lookup(itemID)
}

// Order returns the stored order, or ErrNotFound
func (r *Router) Order(ctx context.Context, orderID int64) (*models.Order, error) {
	return r.store.GetOrder(ctx, orderID)
}

// OrderBook returns the open orders of an item, bids first, in priority order
func (r *Router) OrderBook(ctx context.Context, itemID int64) ([]models.Order, error) {
	return r.store.GetOpenOrdersByItem(ctx, itemID)
}

// TradeHistory returns the trades of an item, newest first
func (r *Router) TradeHistory(ctx context.Context, itemID int64) ([]models.Trade, error) {
	return r.store.GetTradesByItem(ctx, itemID)
}

func (r *Router) AverageTradePrice(ctx context.Context, itemID int64) (float64, error) {
	return r.store.GetAverageTradePrice(ctx, itemID)
}

func (r *Router) UnmatchedOrderCount(ctx context.Context, itemID int64) (int, error) {
	return r.store.GetUnmatchedOrderCount(ctx, itemID)
}

func (r *Router) TotalExecutedTrades(ctx context.Context) (int, error) {
	return r.store.GetTotalExecutedTrades(ctx)
}

func (r *Router) ExecutedTradesByItem(ctx context.Context, itemID int64) (int, error) {
	return r.store.GetExecutedTradesByItem(ctx, itemID)
}

// MaxOrderID returns the highest stored order id, 0 when there is none
func (r *Router) MaxOrderID(ctx context.Context) (int64, error) {
	return r.store.MaxOrderID(ctx)
}

func (r *Router) TotalUnmatchedOrders(ctx context.Context) (int, error) {
	return r.store.GetTotalUnmatchedOrders(ctx)
}

func (r *Router) lookup(itemID int64) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[itemID]
	return e, ok
}

// engine returns the item's engine, creating it on first use
func (r *Router) engine(itemID int64) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.engines[itemID]; ok {
		return e
	}
	e := NewEngine(itemID, r.store, Options{
		Logger:      r.logger,
		Now:         r.now,
		NextTradeID: func() int64 { return r.tradeSeq.Add(1) },
		OnTrade:     r.onTrade,
	})
	r.engines[itemID] = e
	return e
}

func (r *Router) onTrade(trade models.Trade) {
	if r.recorder != nil {
		r.recorder.TradeExecuted(trade)
	}
	if r.listener != nil {
		r.listener.OnTrade(trade)
	}
}

func (r *Router) advanceOrderSeq(id int64) {
	advance(&r.orderSeq, id)
}

func (r *Router) advanceTradeSeq(id int64) {
	advance(&r.tradeSeq, id)
}

// advance raises seq to at least v
func advance(seq *atomic.Int64, v int64) {
	for {
		cur := seq.Load()
		if v <= cur || seq.CompareAndSwap(cur, v) {
			return
		}
	}
}
