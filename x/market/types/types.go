// Package types holds the plain data model shared by the market core:
// orders, sides, order types, and the per-fill payment lifecycle.
package types

import (
	"encoding/binary"
	"fmt"
)

// Side is which book an order rests on.
type Side int8

const (
	SideUnspecified Side = iota
	SideBid
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bid"
	case SideAsk:
		return "ask"
	default:
		return "unspecified"
	}
}

// Opposite returns the side a taker on s crosses against.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// OrderType selects the matching and resting policy applied after a match.
type OrderType int8

const (
	OrderTypeUnspecified OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
	OrderTypePostOnly
	OrderTypeIOC
	OrderTypeFOK
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeMarket:
		return "market"
	case OrderTypePostOnly:
		return "post_only"
	case OrderTypeIOC:
		return "ioc"
	case OrderTypeFOK:
		return "fok"
	default:
		return "unspecified"
	}
}

// PaymentStatus is the per-trade fiat settlement state.
type PaymentStatus int8

const (
	PaymentStatusPending PaymentStatus = iota
	PaymentStatusMarked
	PaymentStatusVerified
	PaymentStatusCancelled
)

func (p PaymentStatus) String() string {
	switch p {
	case PaymentStatusPending:
		return "pending"
	case PaymentStatusMarked:
		return "payment_marked"
	case PaymentStatusVerified:
		return "verified"
	case PaymentStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// PaymentMethodMaxLen is the stored truncation length for payment method
// labels.
const PaymentMethodMaxLen = 32

// PaymentMethodAcceptLen is the longest input accepted before truncation.
const PaymentMethodAcceptLen = 100

// OrderID is the 128-bit order identifier: upper 32 bits = creation
// timestamp (low bits), next 32 bits = monotonic per-market sequence,
// lower 64 bits = first eight bytes of owner key.
type OrderID struct {
	Hi uint64 // (timestamp_low32 << 32) | sequence32
	Lo uint64 // owner_low64
}

// NewOrderID packs a timestamp, sequence and owner key into an OrderID.
// Only (sequence, owner) need be unique; the timestamp component is
// informational.
func NewOrderID(timestamp int64, sequence uint32, owner []byte) OrderID {
	hi := (uint64(uint32(timestamp)) << 32) | uint64(sequence)
	var lo uint64
	if len(owner) >= 8 {
		lo = binary.LittleEndian.Uint64(owner[:8])
	} else {
		var buf [8]byte
		copy(buf[:], owner)
		lo = binary.LittleEndian.Uint64(buf[:])
	}
	return OrderID{Hi: hi, Lo: lo}
}

func (id OrderID) String() string {
	return fmt.Sprintf("%016x%016x", id.Hi, id.Lo)
}

// Equal reports whether two order IDs are identical.
func (id OrderID) Equal(other OrderID) bool {
	return id.Hi == other.Hi && id.Lo == other.Lo
}

// IsZero reports whether id is the zero value.
func (id OrderID) IsZero() bool {
	return id.Hi == 0 && id.Lo == 0
}

// Order is a resting or taker order. Quantity is the remaining amount;
// OriginalQuantity is fixed at creation. The payment lifecycle lives on
// the per-fill TradeRecord instead of here, since a single order can be
// filled by many counterparties each with their own settlement timeline.
type Order struct {
	OrderID          OrderID
	Owner            string // opaque principal; authorization is the caller's duty
	Side             Side
	OrderType        OrderType
	Price            uint64
	Quantity         uint64
	OriginalQuantity uint64
	Timestamp        int64
	ClientOrderID    uint64
	PaymentMethod    string // truncated to PaymentMethodMaxLen bytes
}

// NewOrder constructs an order, truncating the payment method. Input
// validation (zero price/quantity) is the caller's responsibility, e.g.
// Keeper.PlaceLimitOrder.
func NewOrder(id OrderID, owner string, side Side, orderType OrderType, price, quantity uint64, timestamp int64, clientOrderID uint64, paymentMethod string) *Order {
	if len(paymentMethod) > PaymentMethodMaxLen {
		paymentMethod = paymentMethod[:PaymentMethodMaxLen]
	}
	return &Order{
		OrderID:          id,
		Owner:            owner,
		Side:             side,
		OrderType:        orderType,
		Price:            price,
		Quantity:         quantity,
		OriginalQuantity: quantity,
		Timestamp:        timestamp,
		ClientOrderID:    clientOrderID,
		PaymentMethod:    paymentMethod,
	}
}

// IsFilled reports whether the order has no remaining quantity.
func (o *Order) IsFilled() bool {
	return o.Quantity == 0
}

// Fill reduces the order's remaining quantity by qty, saturating at zero.
// All quantity arithmetic in the matching engine is saturating, never
// wrapping or panicking.
func (o *Order) Fill(qty uint64) {
	if qty >= o.Quantity {
		o.Quantity = 0
		return
	}
	o.Quantity -= qty
}

// FillPercentage returns the filled fraction of the order in [0, 100].
func (o *Order) FillPercentage() uint64 {
	if o.OriginalQuantity == 0 {
		return 0
	}
	return ((o.OriginalQuantity - o.Quantity) * 100) / o.OriginalQuantity
}

// Fill is a single match event produced by the matching engine: a price,
// a quantity, and the maker order id and owner crossed.
type Fill struct {
	Price        uint64
	Quantity     uint64
	MakerOrderID OrderID
	MakerOwner   string
}

// TradeRecord is the per-fill settlement record: one record per fill,
// keyed by (MakerOrderID, TakerOrderID, Timestamp), carrying the payment
// lifecycle for that fill.
type TradeRecord struct {
	TradeID       string // uuid, for external correlation
	MakerOrderID  OrderID
	TakerOrderID  OrderID
	EscrowOrderID OrderID // the ask-side order whose escrow backs this fill
	MarketID      string
	Buyer         string // owner of the bid side of this fill
	Seller        string // owner of the ask side of this fill
	Price         uint64
	Quantity      uint64
	Timestamp     int64

	Status          PaymentStatus
	PaymentMarkedTs int64
	SettlementTs    int64
}

// Key returns the mandated (maker, taker, ts) lookup key as a string.
func (t *TradeRecord) Key() string {
	return fmt.Sprintf("%s/%s/%d", t.MakerOrderID.String(), t.TakerOrderID.String(), t.Timestamp)
}
