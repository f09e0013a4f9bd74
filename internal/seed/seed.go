// Package seed loads the demo data set: two items, three users and four
// orders that trade with each other on submission.
package seed

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/xtrntr/marketplace/internal/catalog"
	"github.com/xtrntr/marketplace/internal/exchange"
	"github.com/xtrntr/marketplace/internal/models"
	"go.uber.org/zap"
)

// Result describes what Load did
type Result struct {
	Skipped bool
	Users   []*models.User
	Items   []*models.Item
	Orders  []*models.Order
}

type order struct {
	id    int64
	user  int
	item  int
	side  models.Side
	kind  models.OrderKind
	price *float64
	at    time.Time
}

var start = time.Date(2025, 9, 27, 10, 0, 0, 0, time.UTC)

var (
	itemNames = []string{"Replica A", "Replica B"}
	userNames = []string{"Alice", "Bob", "Charlie"}

	// user and item are indexes into userNames and itemNames
	orders = []order{
		{id: 1, user: 0, item: 0, side: models.Buy, kind: models.AtPrice, price: models.PriceOf(1000), at: start},
		{id: 2, user: 1, item: 0, side: models.Sell, kind: models.AtPrice, price: models.PriceOf(950), at: start.Add(time.Second)},
		{id: 3, user: 0, item: 1, side: models.Buy, kind: models.Open, at: start.Add(2 * time.Second)},
		{id: 4, user: 2, item: 1, side: models.Sell, kind: models.Open, at: start.Add(3 * time.Second)},
	}
)

// Loader writes the seed data through the catalog and the router, so the
// seed orders are matched like any other.
type Loader struct {
	catalog *catalog.Service
	router  *exchange.Router
	logger  *zap.Logger
}

func NewLoader(cat *catalog.Service, router *exchange.Router, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{catalog: cat, router: router, logger: logger}
}

// Load seeds an empty marketplace. It does nothing when any order or trade
// already exists.
func (l *Loader) Load(ctx context.Context) (*Result, error) {
	trades, err := l.router.TotalExecutedTrades(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check trades")
	}
	open, err := l.router.TotalUnmatchedOrders(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check open orders")
	}
	maxID, err := l.router.MaxOrderID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check stored orders")
	}
	if trades > 0 || open > 0 || maxID > 0 {
		l.logger.Info("marketplace already has data, skipping seed",
			zap.Int("trades", trades), zap.Int("open_orders", open),
			zap.Int64("max_order_id", maxID))
		return &Result{Skipped: true}, nil
	}

	l.logger.Info("loading seed data")
	res := &Result{}
	for _, name := range itemNames {
		it, err := l.catalog.CreateItem(ctx, name)
		if err != nil {
			return nil, err
		}
		res.Items = append(res.Items, it)
	}
	for _, name := range userNames {
		u, err := l.catalog.CreateUser(ctx, name)
		if err != nil {
			return nil, err
		}
		res.Users = append(res.Users, u)
	}

	for _, o := range orders {
		req := exchange.SubmitRequest{
			UserID:   res.Users[o.user].ID,
			ItemID:   res.Items[o.item].ID,
			Side:     o.side,
			Kind:     o.kind,
			Price:    o.price,
			Quantity: 1,
		}
		placed, err := l.router.SubmitWithID(ctx, o.id, req, o.at)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to submit seed order %d", o.id)
		}
		res.Orders = append(res.Orders, placed)
	}

	l.logger.Info("seed data loaded",
		zap.Int("items", len(res.Items)),
		zap.Int("users", len(res.Users)),
		zap.Int("orders", len(res.Orders)))
	return res, nil
}
