package keeper

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anomi-labs/p2pmarket/x/market/types"
)

// TestProperty_TotalOrdersMatchesQueueSum: across a sequence of inserts
// and cancels, TotalOrders always equals the sum of live queue lengths.
func TestProperty_TotalOrdersMatchesQueueSum(t *testing.T) {
	book := NewOrderBook("m1", "BASE", "QUOTE")
	r := rand.New(rand.NewSource(1))

	var live []types.OrderID
	for i := 0; i < 500; i++ {
		if len(live) == 0 || r.Intn(2) == 0 {
			side := types.SideBid
			if r.Intn(2) == 0 {
				side = types.SideAsk
			}
			price := uint64(1 + r.Intn(40))
			o := types.NewOrder(types.OrderID{Lo: uint64(i) + 1}, fmt.Sprintf("owner%d", i), side, types.OrderTypeLimit, price, uint64(1+r.Intn(10)), int64(i), 0, "")
			require.NoError(t, book.Insert(o))
			live = append(live, o.OrderID)
		} else {
			idx := r.Intn(len(live))
			id := live[idx]
			_, err := book.Cancel(id)
			require.NoError(t, err)
			live = append(live[:idx], live[idx+1:]...)
		}
		require.EqualValues(t, sumQueueOrders(book), book.TotalOrders())
	}
}

func sumQueueOrders(book *OrderBook) uint64 {
	var sum uint64
	for _, q := range book.slab.queues {
		if q == nil {
			continue
		}
		sum += uint64(len(q.Orders))
	}
	return sum
}

// TestProperty_InsertCancelRoundTrip: inserting then cancelling an
// order restores the book's total-order count and best-price caches to
// what they were before.
func TestProperty_InsertCancelRoundTrip(t *testing.T) {
	book := NewOrderBook("m1", "BASE", "QUOTE")
	require.NoError(t, book.Insert(askOrder(1, "base", 100, 5)))
	require.NoError(t, book.Insert(bidOrder(2, "base", 90, 5)))

	before := snapshotBook(book)

	o := askOrder(3, "alice", 105, 7)
	require.NoError(t, book.Insert(o))
	_, err := book.Cancel(o.OrderID)
	require.NoError(t, err)

	after := snapshotBook(book)
	require.Equal(t, before, after)
}

type bookSnapshot struct {
	totalOrders uint64
	bestBid     uint64
	bestAsk     uint64
}

func snapshotBook(book *OrderBook) bookSnapshot {
	return bookSnapshot{
		totalOrders: book.TotalOrders(),
		bestBid:     book.bestBidCache,
		bestAsk:     book.bestAskCache,
	}
}

// TestProperty_MatchNeverExceedsMaxQty: the sum of fill quantities a
// match produces never exceeds the requested max quantity.
func TestProperty_MatchNeverExceedsMaxQty(t *testing.T) {
	book := NewOrderBook("m1", "BASE", "QUOTE")
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 20; i++ {
		require.NoError(t, book.Insert(askOrder(uint64(i+1), fmt.Sprintf("m%d", i), uint64(100+i), uint64(1+r.Intn(20)))))
	}

	engine := newTestEngine()
	for i := 0; i < 50; i++ {
		maxQty := uint64(1 + r.Intn(30))
		fills, err := engine.Match(book, types.SideBid, maxQty, 200, "taker")
		require.NoError(t, err)
		require.LessOrEqual(t, totalFilled(fills), maxQty)
	}
}
