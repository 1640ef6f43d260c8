package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewOrderID_PacksTimestampSequenceOwner(t *testing.T) {
	owner := []byte("alice-principal-key-bytes")
	id := NewOrderID(1700000000, 42, owner)

	require.EqualValues(t, 42, uint32(id.Hi))
	require.EqualValues(t, uint32(1700000000), uint32(id.Hi>>32))

	// Uniqueness rests on the (sequence, owner) tuple alone; the
	// timestamp component is informational only.
	other := NewOrderID(1800000000, 42, owner)
	require.NotEqual(t, id.Hi, other.Hi)
	require.Equal(t, id.Lo, other.Lo)
}

func TestOrderID_ShortOwnerIsZeroPadded(t *testing.T) {
	id := NewOrderID(0, 1, []byte("ab"))
	require.NotZero(t, id.Lo)
}

func TestOrderID_EqualAndIsZero(t *testing.T) {
	var zero OrderID
	require.True(t, zero.IsZero())

	a := OrderID{Hi: 1, Lo: 2}
	b := OrderID{Hi: 1, Lo: 2}
	c := OrderID{Hi: 1, Lo: 3}
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.False(t, a.IsZero())
}

func TestOrder_FillSaturatesAtZero(t *testing.T) {
	o := NewOrder(OrderID{Lo: 1}, "alice", SideAsk, OrderTypeLimit, 100, 5, 0, 0, "")
	o.Fill(3)
	require.EqualValues(t, 2, o.Quantity)
	require.False(t, o.IsFilled())

	o.Fill(100) // saturating: must not wrap or go negative
	require.EqualValues(t, 0, o.Quantity)
	require.True(t, o.IsFilled())
}

func TestOrder_FillPercentage(t *testing.T) {
	o := NewOrder(OrderID{Lo: 1}, "alice", SideAsk, OrderTypeLimit, 100, 10, 0, 0, "")
	require.EqualValues(t, 0, o.FillPercentage())
	o.Fill(5)
	require.EqualValues(t, 50, o.FillPercentage())
	o.Fill(5)
	require.EqualValues(t, 100, o.FillPercentage())
}

func TestNewOrder_TruncatesPaymentMethod(t *testing.T) {
	long := "this-payment-method-label-is-much-longer-than-the-stored-limit"
	o := NewOrder(OrderID{Lo: 1}, "alice", SideAsk, OrderTypeLimit, 100, 5, 0, 0, long)
	require.LessOrEqual(t, len(o.PaymentMethod), PaymentMethodMaxLen)
	require.Equal(t, long[:PaymentMethodMaxLen], o.PaymentMethod)
}

func TestSide_Opposite(t *testing.T) {
	require.Equal(t, SideAsk, SideBid.Opposite())
	require.Equal(t, SideBid, SideAsk.Opposite())
}

func TestTradeRecord_KeyIsStableAndUnique(t *testing.T) {
	a := &TradeRecord{MakerOrderID: OrderID{Lo: 1}, TakerOrderID: OrderID{Lo: 2}, Timestamp: 100}
	b := &TradeRecord{MakerOrderID: OrderID{Lo: 1}, TakerOrderID: OrderID{Lo: 2}, Timestamp: 100}
	c := &TradeRecord{MakerOrderID: OrderID{Lo: 1}, TakerOrderID: OrderID{Lo: 2}, Timestamp: 101}

	require.Equal(t, a.Key(), b.Key())
	require.NotEqual(t, a.Key(), c.Key())
}
