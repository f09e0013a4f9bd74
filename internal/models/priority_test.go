package models

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLess_Bids(t *testing.T) {
	base := time.Date(2025, 9, 27, 10, 0, 0, 0, time.UTC)
	orders := []*Order{
		{ID: 1, Side: Buy, Kind: Open, Timestamp: base},
		{ID: 2, Side: Buy, Kind: AtPrice, Price: PriceOf(100), Timestamp: base.Add(time.Second)},
		{ID: 3, Side: Buy, Kind: AtPrice, Price: PriceOf(105), Timestamp: base.Add(2 * time.Second)},
		{ID: 4, Side: Buy, Kind: AtPrice, Price: PriceOf(100), Timestamp: base},
		{ID: 5, Side: Buy, Kind: AtPrice, Price: PriceOf(100), Timestamp: base},
	}

	sort.Slice(orders, func(i, j int) bool { return Less(orders[i], orders[j]) })

	var ids []int64
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []int64{3, 4, 5, 2, 1}, ids)
}

func TestLess_Asks(t *testing.T) {
	base := time.Date(2025, 9, 27, 10, 0, 0, 0, time.UTC)
	orders := []*Order{
		{ID: 1, Side: Sell, Kind: AtPrice, Price: PriceOf(120), Timestamp: base},
		{ID: 2, Side: Sell, Kind: Open, Timestamp: base.Add(-time.Hour)},
		{ID: 3, Side: Sell, Kind: AtPrice, Price: PriceOf(110), Timestamp: base.Add(time.Second)},
		{ID: 4, Side: Sell, Kind: AtPrice, Price: PriceOf(110), Timestamp: base},
	}

	sort.Slice(orders, func(i, j int) bool { return Less(orders[i], orders[j]) })

	var ids []int64
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []int64{4, 3, 1, 2}, ids)
}

func TestLess_Irreflexive(t *testing.T) {
	o := &Order{ID: 1, Side: Sell, Kind: AtPrice, Price: PriceOf(10), Timestamp: time.Now()}
	assert.False(t, Less(o, o))
}

func TestParseTokens(t *testing.T) {
	side, err := ParseSide(" buy ")
	require.NoError(t, err)
	assert.Equal(t, Buy, side)

	_, err = ParseSide("hold")
	assert.Error(t, err)

	kind, err := ParseKind("at_price")
	require.NoError(t, err)
	assert.Equal(t, AtPrice, kind)

	kind, err = ParseKind("OPEN")
	require.NoError(t, err)
	assert.Equal(t, Open, kind)

	_, err = ParseKind("market")
	assert.Error(t, err)
}

func TestOrder_Clone(t *testing.T) {
	o := &Order{ID: 1, Price: PriceOf(10)}
	c := o.Clone()
	*c.Price = 20
	assert.Equal(t, 10.0, o.PriceValue())
	assert.Equal(t, 20.0, c.PriceValue())
}
