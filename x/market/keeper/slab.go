package keeper

import (
	"github.com/anomi-labs/p2pmarket/x/market/types"
)

// PriceLevelQueue is a FIFO queue of orders resting at one price, with a
// cached total quantity.
type PriceLevelQueue struct {
	Price         uint64
	Orders        []*types.Order
	TotalQuantity uint64
}

func newPriceLevelQueue(price uint64) *PriceLevelQueue {
	return &PriceLevelQueue{Price: price}
}

// Push appends an order to the tail of the queue.
func (q *PriceLevelQueue) Push(o *types.Order) {
	q.Orders = append(q.Orders, o)
	q.TotalQuantity += o.Quantity
}

// Remove deletes an order by id, returning it if found. Linear scan,
// O(n) within a level.
func (q *PriceLevelQueue) Remove(id types.OrderID) (*types.Order, bool) {
	for i, o := range q.Orders {
		if o.OrderID.Equal(id) {
			q.Orders = append(q.Orders[:i], q.Orders[i+1:]...)
			q.TotalQuantity -= o.Quantity
			return o, true
		}
	}
	return nil, false
}

// Peek returns the head (oldest) order without removing it.
func (q *PriceLevelQueue) Peek() *types.Order {
	if len(q.Orders) == 0 {
		return nil
	}
	return q.Orders[0]
}

// Get returns an order by id without removing it, for callers that need
// to inspect it (e.g. authorization) before deciding whether to mutate
// the queue.
func (q *PriceLevelQueue) Get(id types.OrderID) (*types.Order, bool) {
	for _, o := range q.Orders {
		if o.OrderID.Equal(id) {
			return o, true
		}
	}
	return nil, false
}

// PopIfFilled removes and returns the head order if it has no remaining
// quantity.
func (q *PriceLevelQueue) PopIfFilled() *types.Order {
	if len(q.Orders) == 0 {
		return nil
	}
	head := q.Orders[0]
	if !head.IsFilled() {
		return nil
	}
	q.Orders = q.Orders[1:]
	return head
}

// IsEmpty reports whether the queue has no resting orders.
func (q *PriceLevelQueue) IsEmpty() bool {
	return len(q.Orders) == 0
}

// queueSlab is the fixed-capacity, bump-allocated array of price-level
// queues referenced by CritBit leaves. A slot is live iff some CritBit
// leaf points to it; released slots return to a free-list so churn
// doesn't exhaust capacity.
type queueSlab struct {
	queues   []*PriceLevelQueue
	nextFree int
	freeList []uint32
	capacity int
}

func newQueueSlab(capacity int) *queueSlab {
	return &queueSlab{queues: make([]*PriceLevelQueue, capacity), capacity: capacity}
}

// alloc reserves a slot for price and returns its index.
func (s *queueSlab) alloc(price uint64) (uint32, error) {
	var idx uint32
	if n := len(s.freeList); n > 0 {
		idx = s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
	} else {
		if s.nextFree >= s.capacity {
			return 0, types.ErrBookFull
		}
		idx = uint32(s.nextFree)
		s.nextFree++
	}
	s.queues[idx] = newPriceLevelQueue(price)
	return idx, nil
}

// release returns a now-empty slot to the free-list.
func (s *queueSlab) release(idx uint32) {
	s.queues[idx] = nil
	s.freeList = append(s.freeList, idx)
}

func (s *queueSlab) at(idx uint32) *PriceLevelQueue {
	return s.queues[idx]
}

// clone returns a deep copy of the slab, including independent copies of
// each resting order, for dry-run matching.
func (s *queueSlab) clone() *queueSlab {
	clone := &queueSlab{
		queues:   make([]*PriceLevelQueue, len(s.queues)),
		nextFree: s.nextFree,
		freeList: append([]uint32(nil), s.freeList...),
		capacity: s.capacity,
	}
	for i, q := range s.queues {
		if q == nil {
			continue
		}
		orders := make([]*types.Order, len(q.Orders))
		for j, o := range q.Orders {
			cp := *o
			orders[j] = &cp
		}
		clone.queues[i] = &PriceLevelQueue{Price: q.Price, Orders: orders, TotalQuantity: q.TotalQuantity}
	}
	return clone
}
