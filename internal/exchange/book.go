package exchange

import (
	"github.com/google/btree"
	"github.com/xtrntr/marketplace/internal/models"
)

const bookDegree = 8

// Book holds the open orders of one side of one item, best first.
type Book struct {
	orders *btree.BTreeG[*models.Order]
}

// NewBook creates an empty book. All orders added to it must share a side.
func NewBook() *Book {
	return &Book{
		orders: btree.NewG[*models.Order](bookDegree, models.Less),
	}
}

// Add inserts an order. Its position is derived from (price, timestamp, id)
// only, so re-adding a popped order restores its exact priority.
func (b *Book) Add(o *models.Order) {
	b.orders.ReplaceOrInsert(o)
}

// Remove deletes an order, reporting whether it was present
func (b *Book) Remove(o *models.Order) bool {
	_, ok := b.orders.Delete(o)
	return ok
}

// PopBest removes and returns the highest-priority order
func (b *Book) PopBest() (*models.Order, bool) {
	return b.orders.DeleteMin()
}

// Best returns the highest-priority order without removing it
func (b *Book) Best() (*models.Order, bool) {
	return b.orders.Min()
}

// Len returns the number of orders in the book
func (b *Book) Len() int {
	return b.orders.Len()
}

// Orders returns copies of all orders in priority order
func (b *Book) Orders() []models.Order {
	out := make([]models.Order, 0, b.orders.Len())
	b.orders.Ascend(func(o *models.Order) bool {
		out = append(out, *o.Clone())
		return true
	})
	return out
}
