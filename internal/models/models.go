package models

import "time"

// Side is the direction of an order
type Side string

// OrderKind says whether an order carries its own price
type OrderKind string

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"

	AtPrice OrderKind = "AT_PRICE" // limit price set by the user
	Open    OrderKind = "OPEN"     // priced at match time

	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Opposite returns the other side of the book
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Terminal reports whether no further transition is allowed
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled
}

// User represents a registered user
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Item represents a tradeable item
type Item struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Order represents a buy or sell order for a single item
type Order struct {
	ID        int64       `json:"id"`
	UserID    int64       `json:"user_id"`
	ItemID    int64       `json:"item_id"`
	Side      Side        `json:"side"`
	Kind      OrderKind   `json:"kind"`
	Price     *float64    `json:"price,omitempty"` // nil for OPEN orders
	Quantity  int         `json:"quantity"`
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"` // Used for time priority
}

// HasPrice reports whether the order carries an explicit price
func (o *Order) HasPrice() bool {
	return o.Price != nil
}

// PriceValue returns the order price, or 0 when it has none
func (o *Order) PriceValue() float64 {
	if o.Price == nil {
		return 0
	}
	return *o.Price
}

// Clone returns a copy that shares no pointers with o
func (o *Order) Clone() *Order {
	c := *o
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	return &c
}

// Trade represents an executed trade
type Trade struct {
	ID          int64     `json:"id"`
	BuyerID     int64     `json:"buyer_id"`
	BuyOrderID  int64     `json:"buy_order_id"`
	SellerID    int64     `json:"seller_id"`
	SellOrderID int64     `json:"sell_order_id"`
	ItemID      int64     `json:"item_id"`
	Price       float64   `json:"price"`
	Quantity    int       `json:"quantity"`
	Timestamp   time.Time `json:"timestamp"`
}

// PriceOf is a convenience for building *float64 prices
func PriceOf(p float64) *float64 {
	return &p
}
