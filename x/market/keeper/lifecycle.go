package keeper

import (
	"fmt"

	"cosmossdk.io/log"
	"github.com/google/uuid"
	"github.com/huandu/skiplist"

	"github.com/anomi-labs/p2pmarket/x/market/types"
)

// settlementTsKey orders skiplist entries ascending by settlement
// timestamp, so the earliest-eligible trade is always at the front.
type settlementTsKey struct{}

func (settlementTsKey) Compare(lhs, rhs interface{}) int {
	l, r := lhs.(int64), rhs.(int64)
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	default:
		return 0
	}
}

func (settlementTsKey) CalcScore(key interface{}) float64 {
	return float64(key.(int64))
}

// LifecycleManager owns the per-fill payment state machine: Pending ->
// PaymentMarked -> Verified, with Cancelled reachable only from Pending.
type LifecycleManager struct {
	logger         log.Logger
	settlementDelay int64 // seconds

	trades map[string]*types.TradeRecord // keyed by TradeRecord.Key()

	// readyIndex orders trades by SettlementTs so a caller can cheaply
	// enumerate which PaymentMarked trades have crossed their delay.
	readyIndex *skiplist.SkipList
}

// NewLifecycleManager constructs a lifecycle manager with the given
// settlement delay, in seconds.
func NewLifecycleManager(logger log.Logger, settlementDelaySeconds int64) *LifecycleManager {
	return &LifecycleManager{
		logger:          logger.With("component", "lifecycle"),
		settlementDelay: settlementDelaySeconds,
		trades:          make(map[string]*types.TradeRecord),
		readyIndex:      skiplist.New(settlementTsKey{}),
	}
}

// RecordFill creates a new Pending trade record for one fill produced by
// the matching engine. escrowOrder names the ask-side order whose
// escrowed tokens back the fill.
func (m *LifecycleManager) RecordFill(marketID string, maker, taker, escrowOrder types.OrderID, buyer, seller string, price, qty uint64, timestamp int64) *types.TradeRecord {
	tr := &types.TradeRecord{
		TradeID:       uuid.New().String(),
		MakerOrderID:  maker,
		TakerOrderID:  taker,
		EscrowOrderID: escrowOrder,
		MarketID:      marketID,
		Buyer:         buyer,
		Seller:        seller,
		Price:         price,
		Quantity:      qty,
		Timestamp:     timestamp,
		Status:        types.PaymentStatusPending,
	}
	m.trades[tr.Key()] = tr
	return tr
}

func (m *LifecycleManager) lookup(key string) (*types.TradeRecord, error) {
	tr, ok := m.trades[key]
	if !ok {
		return nil, types.ErrNotFound
	}
	return tr, nil
}

// MarkPayment transitions a trade Pending -> PaymentMarked. caller must
// be the buyer on that fill. Re-marking an already-marked trade is an
// error, matching the state machine's no-backward-edges invariant.
func (m *LifecycleManager) MarkPayment(key string, caller string, now int64) (*types.TradeRecord, error) {
	tr, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	if tr.Buyer != caller {
		return nil, types.ErrUnauthorized
	}
	switch tr.Status {
	case types.PaymentStatusPending:
		// proceed
	case types.PaymentStatusMarked:
		return nil, types.ErrTradeAlreadyMarked
	default:
		return nil, types.ErrTradeNotPending
	}

	tr.Status = types.PaymentStatusMarked
	tr.PaymentMarkedTs = now
	tr.SettlementTs = now + m.settlementDelay
	m.indexReady(tr)
	m.logger.Info("payment marked", "trade", tr.TradeID, "settlement_ts", tr.SettlementTs)
	return tr, nil
}

// indexReady appends tr to the bucket of trades sharing its settlement
// timestamp. Multiple trades routinely share a SettlementTs (all marked
// within the same wall-clock second), so the index stores a slice per
// key rather than overwriting on collision.
func (m *LifecycleManager) indexReady(tr *types.TradeRecord) {
	if elem := m.readyIndex.Get(tr.SettlementTs); elem != nil {
		bucket := elem.Value.([]*types.TradeRecord)
		m.readyIndex.Set(tr.SettlementTs, append(bucket, tr))
		return
	}
	m.readyIndex.Set(tr.SettlementTs, []*types.TradeRecord{tr})
}

// unindexReady removes tr from its settlement-timestamp bucket.
func (m *LifecycleManager) unindexReady(tr *types.TradeRecord) {
	elem := m.readyIndex.Get(tr.SettlementTs)
	if elem == nil {
		return
	}
	bucket := elem.Value.([]*types.TradeRecord)
	for i, candidate := range bucket {
		if candidate == tr {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		m.readyIndex.Remove(tr.SettlementTs)
		return
	}
	m.readyIndex.Set(tr.SettlementTs, bucket)
}

// Cancel transitions a trade to Cancelled. Only valid while Pending: once
// a buyer has marked payment, unilateral cancellation could strand an
// in-flight fiat transfer.
func (m *LifecycleManager) Cancel(key string) (*types.TradeRecord, error) {
	tr, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	if tr.Status != types.PaymentStatusPending {
		return nil, types.ErrTradeNotPending
	}
	tr.Status = types.PaymentStatusCancelled
	return tr, nil
}

// Verify checks the settlement delay has elapsed, confirms the encoded
// order id matches target, validates proof via verifier, and on success
// transitions the trade to Verified. A trade still Pending (never
// marked) fails the delay check.
func (m *LifecycleManager) Verify(key string, target types.OrderID, verifier *SettlementVerifier, proofA, proofB, proofC []byte, publicInputs []string, now int64) (*types.TradeRecord, error) {
	tr, err := m.lookup(key)
	if err != nil {
		return nil, err
	}
	switch tr.Status {
	case types.PaymentStatusMarked:
		// proceed
	case types.PaymentStatusPending:
		return nil, types.ErrSettlementDelayNotExpired
	default:
		return nil, types.ErrTradeNotPending
	}
	if now < tr.SettlementTs {
		return nil, types.ErrSettlementDelayNotExpired
	}

	encoded, err := verifier.ExtractOrderID(publicInputs)
	if err != nil {
		return nil, err
	}
	if !encoded.Equal(target) {
		return nil, types.ErrProofOrderIDMismatch
	}

	ok, err := verifier.Verify(proofA, proofB, proofC, publicInputs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.ErrInvalidProof
	}

	tr.Status = types.PaymentStatusVerified
	m.unindexReady(tr)
	m.logger.Info("settlement verified", "trade", tr.TradeID)
	return tr, nil
}

// ReadyForVerification returns trades whose settlement delay has
// elapsed as of now, ordered by SettlementTs ascending.
func (m *LifecycleManager) ReadyForVerification(now int64) []*types.TradeRecord {
	var out []*types.TradeRecord
	for elem := m.readyIndex.Front(); elem != nil; elem = elem.Next() {
		ts := elem.Key().(int64)
		if ts > now {
			break
		}
		out = append(out, elem.Value.([]*types.TradeRecord)...)
	}
	return out
}

// Trade returns the trade record for (maker, taker, ts), if present.
func (m *LifecycleManager) Trade(maker, taker types.OrderID, ts int64) (*types.TradeRecord, bool) {
	key := fmt.Sprintf("%s/%s/%d", maker.String(), taker.String(), ts)
	tr, ok := m.trades[key]
	return tr, ok
}
