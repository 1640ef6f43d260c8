package keeper

import (
	"github.com/anomi-labs/p2pmarket/x/market/types"
)

// MaxPriceLevels bounds the number of distinct prices resting per side.
const MaxPriceLevels = 50

// bestAskSentinel stands in for "no asks" when computing spread/mid.
const bestAskSentinel = ^uint64(0)

// OrderBook binds the two CritBit price indexes (bids, asks) to a shared
// slab of price-level queues, and caches the best price on each side.
type OrderBook struct {
	MarketID  string
	BaseMint  string
	QuoteMint string

	bids *CritBitTree
	asks *CritBitTree
	slab *queueSlab

	totalOrders  uint64
	bestBidCache uint64 // 0 if empty
	bestAskCache uint64 // bestAskSentinel if empty

	orderIndex map[types.OrderID]orderLocation
}

type orderLocation struct {
	side      types.Side
	price     uint64
	queueSlot uint32
}

// NewOrderBook constructs an empty book for a market with the default
// price-level capacity. Escrow vault and token-custody wiring are
// handled by the caller, not the book itself.
func NewOrderBook(marketID, baseMint, quoteMint string) *OrderBook {
	return NewOrderBookWithCapacity(marketID, baseMint, quoteMint, MaxPriceLevels)
}

// NewOrderBookWithCapacity constructs an empty book bounded to maxLevels
// distinct resting prices per side.
func NewOrderBookWithCapacity(marketID, baseMint, quoteMint string, maxLevels int) *OrderBook {
	return &OrderBook{
		MarketID:     marketID,
		BaseMint:     baseMint,
		QuoteMint:    quoteMint,
		bids:         NewCritBitTree(2 * maxLevels),
		asks:         NewCritBitTree(2 * maxLevels),
		slab:         newQueueSlab(2 * maxLevels),
		bestAskCache: bestAskSentinel,
		orderIndex:   make(map[types.OrderID]orderLocation),
	}
}

func (b *OrderBook) treeFor(side types.Side) *CritBitTree {
	if side == types.SideBid {
		return b.bids
	}
	return b.asks
}

// Insert rests an order in the book, creating a new price level if needed
// and updating the best-price cache.
func (b *OrderBook) Insert(o *types.Order) error {
	tree := b.treeFor(o.Side)

	slotIdx, ok := tree.Find(o.Price)
	if !ok {
		newIdx, err := b.slab.alloc(o.Price)
		if err != nil {
			return err
		}
		if err := tree.Insert(o.Price, newIdx); err != nil {
			b.slab.release(newIdx)
			return err
		}
		slotIdx = newIdx
	}

	b.slab.at(slotIdx).Push(o)
	b.orderIndex[o.OrderID] = orderLocation{side: o.Side, price: o.Price, queueSlot: slotIdx}
	b.totalOrders++
	b.updateBestPrices()
	return nil
}

// Peek returns an order by id without removing it, so a caller can check
// authorization before deciding whether to cancel.
func (b *OrderBook) Peek(id types.OrderID) (*types.Order, bool) {
	loc, ok := b.orderIndex[id]
	if !ok {
		return nil, false
	}
	return b.slab.at(loc.queueSlot).Get(id)
}

// Cancel removes an order from the book by id, releasing its price level
// if it becomes empty.
func (b *OrderBook) Cancel(id types.OrderID) (*types.Order, error) {
	loc, ok := b.orderIndex[id]
	if !ok {
		return nil, types.ErrNotFound
	}

	queue := b.slab.at(loc.queueSlot)
	order, found := queue.Remove(id)
	if !found {
		return nil, types.ErrNotFound
	}
	delete(b.orderIndex, id)
	b.totalOrders--

	if queue.IsEmpty() {
		tree := b.treeFor(loc.side)
		if _, err := tree.Remove(loc.price); err != nil {
			return nil, err
		}
		b.slab.release(loc.queueSlot)
	}

	b.updateBestPrices()
	return order, nil
}

// Best returns the queue resting at the best price on side, or nil if
// that side is empty.
func (b *OrderBook) Best(side types.Side) *PriceLevelQueue {
	tree := b.treeFor(side)
	var key uint64
	var idx uint32
	var ok bool
	if side == types.SideBid {
		key, idx, ok = tree.Max()
	} else {
		key, idx, ok = tree.Min()
	}
	_ = key
	if !ok {
		return nil
	}
	return b.slab.at(idx)
}

// updateBestPrices refreshes the cached best bid/ask after a mutation.
func (b *OrderBook) updateBestPrices() {
	if key, _, ok := b.bids.Max(); ok {
		b.bestBidCache = key
	} else {
		b.bestBidCache = 0
	}
	if key, _, ok := b.asks.Min(); ok {
		b.bestAskCache = key
	} else {
		b.bestAskCache = bestAskSentinel
	}
}

// Spread returns the best-ask-minus-best-bid distance, and false if
// either side is empty.
func (b *OrderBook) Spread() (uint64, bool) {
	if b.bestBidCache == 0 || b.bestAskCache == bestAskSentinel {
		return 0, false
	}
	if b.bestAskCache < b.bestBidCache {
		return 0, false
	}
	return b.bestAskCache - b.bestBidCache, true
}

// MidPrice returns the midpoint of best bid and best ask, and false if
// either side is empty.
func (b *OrderBook) MidPrice() (uint64, bool) {
	if b.bestBidCache == 0 || b.bestAskCache == bestAskSentinel {
		return 0, false
	}
	return (b.bestBidCache + b.bestAskCache) / 2, true
}

// WouldSelfTrade reports whether the best resting order on the opposite
// side of takerSide belongs to takerOwner.
func (b *OrderBook) WouldSelfTrade(takerSide types.Side, takerOwner string) bool {
	opp := b.Best(takerSide.Opposite())
	if opp == nil {
		return false
	}
	head := opp.Peek()
	if head == nil {
		return false
	}
	return head.Owner == takerOwner
}

// TotalOrders returns the number of live orders resting in the book.
func (b *OrderBook) TotalOrders() uint64 {
	return b.totalOrders
}

// Clone returns a deep copy of the book, used by the matching engine to
// dry-run a fill-or-kill match without mutating live state.
func (b *OrderBook) Clone() *OrderBook {
	clone := &OrderBook{
		MarketID:     b.MarketID,
		BaseMint:     b.BaseMint,
		QuoteMint:    b.QuoteMint,
		bids:         b.bids.clone(),
		asks:         b.asks.clone(),
		slab:         b.slab.clone(),
		totalOrders:  b.totalOrders,
		bestBidCache: b.bestBidCache,
		bestAskCache: b.bestAskCache,
		orderIndex:   make(map[types.OrderID]orderLocation, len(b.orderIndex)),
	}
	for id, loc := range b.orderIndex {
		clone.orderIndex[id] = loc
	}
	return clone
}
