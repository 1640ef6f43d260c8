package keeper

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anomi-labs/p2pmarket/x/market/types"
)

func bidOrder(id uint64, owner string, price, qty uint64) *types.Order {
	return types.NewOrder(types.OrderID{Lo: id}, owner, types.SideBid, types.OrderTypeLimit, price, qty, int64(id), 0, "")
}

func askOrder(id uint64, owner string, price, qty uint64) *types.Order {
	return types.NewOrder(types.OrderID{Lo: id}, owner, types.SideAsk, types.OrderTypeLimit, price, qty, int64(id), 0, "")
}

func TestOrderBook_InsertCancelRoundTrip(t *testing.T) {
	book := NewOrderBook("m1", "BASE", "QUOTE")

	o := askOrder(1, "alice", 100, 5)
	require.NoError(t, book.Insert(o))
	require.EqualValues(t, 1, book.TotalOrders())

	best := book.Best(types.SideAsk)
	require.NotNil(t, best)
	require.Equal(t, o, best.Peek())

	removed, err := book.Cancel(o.OrderID)
	require.NoError(t, err)
	require.Equal(t, o, removed)
	require.EqualValues(t, 0, book.TotalOrders())
	require.Nil(t, book.Best(types.SideAsk))
}

func TestOrderBook_BestPriceCaches(t *testing.T) {
	book := NewOrderBook("m1", "BASE", "QUOTE")

	require.NoError(t, book.Insert(askOrder(1, "a", 110, 1)))
	require.NoError(t, book.Insert(askOrder(2, "a", 105, 1)))
	require.NoError(t, book.Insert(askOrder(3, "a", 115, 1)))

	best := book.Best(types.SideAsk)
	require.EqualValues(t, 105, best.Price)

	require.NoError(t, book.Insert(bidOrder(4, "b", 90, 1)))
	require.NoError(t, book.Insert(bidOrder(5, "b", 95, 1)))

	bestBid := book.Best(types.SideBid)
	require.EqualValues(t, 95, bestBid.Price)

	spread, ok := book.Spread()
	require.True(t, ok)
	require.EqualValues(t, 10, spread)

	mid, ok := book.MidPrice()
	require.True(t, ok)
	require.EqualValues(t, 100, mid)
}

func TestOrderBook_CancelNotFound(t *testing.T) {
	book := NewOrderBook("m1", "BASE", "QUOTE")
	_, err := book.Cancel(types.OrderID{Lo: 999})
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestOrderBook_WouldSelfTrade(t *testing.T) {
	book := NewOrderBook("m1", "BASE", "QUOTE")
	require.NoError(t, book.Insert(askOrder(1, "alice", 100, 5)))

	require.True(t, book.WouldSelfTrade(types.SideBid, "alice"))
	require.False(t, book.WouldSelfTrade(types.SideBid, "bob"))
}

func TestOrderBook_PriceLevelPrunedWhenEmpty(t *testing.T) {
	book := NewOrderBook("m1", "BASE", "QUOTE")
	o := askOrder(1, "alice", 100, 5)
	require.NoError(t, book.Insert(o))

	_, err := book.Cancel(o.OrderID)
	require.NoError(t, err)

	_, ok := book.asks.Find(100)
	require.False(t, ok, "empty price level must be removed from the tree")
}

func TestOrderBook_Clone_IndependentMutation(t *testing.T) {
	book := NewOrderBook("m1", "BASE", "QUOTE")
	require.NoError(t, book.Insert(askOrder(1, "alice", 100, 5)))

	clone := book.Clone()
	_, err := clone.Cancel(types.OrderID{Lo: 1})
	require.NoError(t, err)

	require.EqualValues(t, 1, book.TotalOrders(), "cloning must not affect original book")
	require.EqualValues(t, 0, clone.TotalOrders())
}
