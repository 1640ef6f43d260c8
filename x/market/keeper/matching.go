package keeper

import (
	"cosmossdk.io/log"

	"github.com/anomi-labs/p2pmarket/x/market/types"
)

// MatchingEngine crosses a taker against an OrderBook under price-time
// priority, with self-trade prevention and order-type policies applied
// by the caller (Keeper) after Match returns.
type MatchingEngine struct {
	logger log.Logger
}

// NewMatchingEngine constructs a matching engine scoped under logger.
func NewMatchingEngine(logger log.Logger) *MatchingEngine {
	return &MatchingEngine{logger: logger.With("component", "matching_engine")}
}

// Match crosses a taker order of takerSide against book, accepting fills
// up to maxQty at prices no worse than limitPrice for the taker. It
// mutates book in place (popping filled queue heads, pruning emptied
// price levels) and returns the ordered list of fills produced.
//
// Self-trade halts the remainder rather than skipping the offending
// maker: once the best opposite order belongs to takerOwner, matching
// stops even if quantity remains unfilled.
func (e *MatchingEngine) Match(book *OrderBook, takerSide types.Side, maxQty, limitPrice uint64, takerOwner string) ([]types.Fill, error) {
	oppositeSide := takerSide.Opposite()
	oppositeTree := book.treeFor(oppositeSide)

	var fills []types.Fill
	remaining := maxQty

	for remaining > 0 {
		bestPrice, slotIdx, ok := bestKey(oppositeTree, oppositeSide)
		if !ok {
			break
		}

		if !priceAcceptable(takerSide, bestPrice, limitPrice) {
			break
		}

		queue := book.slab.at(slotIdx)
		head := queue.Peek()
		if head == nil {
			// An empty level would have been pruned already.
			break
		}

		if head.Owner == takerOwner {
			e.logger.Debug("self-trade prevented, halting match", "owner", takerOwner, "price", bestPrice)
			break
		}

		fillQty := remaining
		if head.Quantity < fillQty {
			fillQty = head.Quantity
		}

		fills = append(fills, types.Fill{Price: bestPrice, Quantity: fillQty, MakerOrderID: head.OrderID, MakerOwner: head.Owner})
		head.Fill(fillQty)
		remaining -= fillQty
		queue.TotalQuantity -= fillQty

		if head.IsFilled() {
			queue.PopIfFilled()
			delete(book.orderIndex, head.OrderID)
			book.totalOrders--
			if queue.IsEmpty() {
				if _, err := oppositeTree.Remove(bestPrice); err != nil {
					return fills, err
				}
				book.slab.release(slotIdx)
			}
		}
	}

	book.updateBestPrices()
	return fills, nil
}

func bestKey(tree *CritBitTree, side types.Side) (uint64, uint32, bool) {
	if side == types.SideBid {
		return tree.Max()
	}
	return tree.Min()
}

// priceAcceptable reports whether best is an acceptable crossing price
// for a taker on takerSide bounded by limitPrice.
func priceAcceptable(takerSide types.Side, best, limitPrice uint64) bool {
	if takerSide == types.SideBid {
		return best <= limitPrice
	}
	return best >= limitPrice
}

// totalFilled sums the quantity across a fill list.
func totalFilled(fills []types.Fill) uint64 {
	var sum uint64
	for _, f := range fills {
		sum += f.Quantity
	}
	return sum
}
