package models

import (
	"fmt"
	"strings"
)

// Less reports whether a ranks ahead of b within one side of a book.
// Bids rank higher prices first, asks lower prices first. Orders without a
// price rank last on either side. Equal prices fall back to the earlier
// timestamp and then to the lower id, so the order is total.
func Less(a, b *Order) bool {
	switch {
	case a.HasPrice() && !b.HasPrice():
		return true
	case !a.HasPrice() && b.HasPrice():
		return false
	case a.HasPrice() && b.HasPrice() && *a.Price != *b.Price:
		if a.Side == Buy {
			return *a.Price > *b.Price
		}
		return *a.Price < *b.Price
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

// ParseSide parses a case-insensitive side token
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("side must be BUY or SELL, got %q", s)
}

// ParseKind parses a case-insensitive order kind token
func ParseKind(s string) (OrderKind, error) {
	switch OrderKind(strings.ToUpper(strings.TrimSpace(s))) {
	case AtPrice:
		return AtPrice, nil
	case Open:
		return Open, nil
	}
	return "", fmt.Errorf("order kind must be AT_PRICE or OPEN, got %q", s)
}
