package exchange

import "github.com/xtrntr/marketplace/internal/models"

// DefaultPrice is used when an item has neither trades nor priced open orders.
const DefaultPrice = 1000.0

// fallbackPrice prices a match where at least one side is an OPEN order.
// First match wins: the item's last traded price, the lowest open AT_PRICE
// sell, the highest open AT_PRICE buy, then DefaultPrice.
// Callers hold e.mu.
func (e *Engine) fallbackPrice() float64 {
	if e.lastPrice != nil {
		return *e.lastPrice
	}

	var bestSell, bestBuy *models.Order
	for _, o := range e.open {
		if o.Status != models.StatusOpen || o.Kind != models.AtPrice || !o.HasPrice() {
			continue
		}
		switch o.Side {
		case models.Sell:
			if bestSell == nil || models.Less(o, bestSell) {
				bestSell = o
			}
		case models.Buy:
			if bestBuy == nil || models.Less(o, bestBuy) {
				bestBuy = o
			}
		}
	}

	if bestSell != nil {
		return *bestSell.Price
	}
	if bestBuy != nil {
		return *bestBuy.Price
	}
	return DefaultPrice
}
