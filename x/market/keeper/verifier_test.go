package keeper

import (
	"strconv"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/stretchr/testify/require"

	"github.com/anomi-labs/p2pmarket/x/market/types"
)

// testVerificationKey returns a structurally valid but cryptographically
// meaningless key, sufficient for tests that never reach the pairing
// check (order placement, lifecycle transitions not involving Verify).
func testVerificationKey(t *testing.T) VerificationKey {
	t.Helper()
	_, _, g1, g2 := bn254.Generators()
	ic := make([]bn254.G1Affine, minPublicInputs+1)
	for i := range ic {
		ic[i] = g1
	}
	return VerificationKey{Alpha: g1, Beta: g2, Gamma: g2, Delta: g2, IC: ic}
}

func validPublicInputs(orderID types.OrderID) []string {
	inputs := make([]string, minPublicInputs)
	for i := range inputs {
		inputs[i] = "0"
	}
	inputs[orderIDLowIndex] = strconv.FormatUint(orderID.Lo, 10)
	inputs[orderIDHighIndex] = strconv.FormatUint(orderID.Hi, 10)
	return inputs
}

func TestExtractOrderID_RoundTrip(t *testing.T) {
	v := NewSettlementVerifier(testVerificationKey(t))

	id := types.OrderID{Hi: 0xDEADBEEF, Lo: 0x1234567890ABCDEF}
	got, err := v.ExtractOrderID(validPublicInputs(id))
	require.NoError(t, err)
	require.True(t, got.Equal(id))
}

func TestExtractOrderID_TooFewInputs(t *testing.T) {
	v := NewSettlementVerifier(testVerificationKey(t))
	_, err := v.ExtractOrderID(make([]string, 10))
	require.ErrorIs(t, err, types.ErrInvalidProof)
}

func TestExtractOrderID_NonNumericField(t *testing.T) {
	v := NewSettlementVerifier(testVerificationKey(t))
	inputs := validPublicInputs(types.OrderID{})
	inputs[orderIDLowIndex] = "not-a-number"
	_, err := v.ExtractOrderID(inputs)
	require.ErrorIs(t, err, types.ErrInvalidProof)
}

func TestVerify_RejectsWrongProofShape(t *testing.T) {
	v := NewSettlementVerifier(testVerificationKey(t))
	inputs := validPublicInputs(types.OrderID{})

	_, err := v.Verify(make([]byte, 10), make([]byte, proofBLen), make([]byte, proofCLen), inputs)
	require.ErrorIs(t, err, types.ErrInvalidProof)

	_, err = v.Verify(make([]byte, proofALen), make([]byte, 10), make([]byte, proofCLen), inputs)
	require.ErrorIs(t, err, types.ErrInvalidProof)

	_, err = v.Verify(make([]byte, proofALen), make([]byte, proofBLen), make([]byte, 10), inputs)
	require.ErrorIs(t, err, types.ErrInvalidProof)
}

func TestVerify_RejectsMismatchedICLength(t *testing.T) {
	vk := testVerificationKey(t)
	vk.IC = vk.IC[:len(vk.IC)-1]
	v := NewSettlementVerifier(vk)

	inputs := validPublicInputs(types.OrderID{})
	_, err := v.Verify(make([]byte, proofALen), make([]byte, proofBLen), make([]byte, proofCLen), inputs)
	require.ErrorIs(t, err, types.ErrInvalidProof)
}

func TestVerify_RejectsMalformedCurvePoint(t *testing.T) {
	v := NewSettlementVerifier(testVerificationKey(t))
	inputs := validPublicInputs(types.OrderID{})

	junk := make([]byte, proofALen)
	for i := range junk {
		junk[i] = 0xFF
	}
	_, err := v.Verify(junk, make([]byte, proofBLen), make([]byte, proofCLen), inputs)
	require.ErrorIs(t, err, types.ErrInvalidProof)
}

func TestVerify_RejectsNonNumericPublicInput(t *testing.T) {
	v := NewSettlementVerifier(testVerificationKey(t))
	inputs := validPublicInputs(types.OrderID{})
	inputs[0] = "not-a-field-element"

	var a bn254.G1Affine
	ab := a.RawBytes()
	var b bn254.G2Affine
	bb := b.RawBytes()
	var c bn254.G1Affine
	cb := c.RawBytes()

	_, err := v.Verify(ab[:], bb[:], cb[:], inputs)
	require.ErrorIs(t, err, types.ErrInvalidProof)
}

func TestExtractOrderID_U128EncodingRoundTrip(t *testing.T) {
	// For any u128 split into low/high u64 halves, decoding must
	// reconstruct the original value.
	v := NewSettlementVerifier(testVerificationKey(t))

	cases := []struct{ hi, lo uint64 }{
		{0, 0},
		{0, 1},
		{1, 0},
		{^uint64(0), ^uint64(0)},
		{0x1122334455667788, 0x99AABBCCDDEEFF00},
	}
	for _, c := range cases {
		id := types.OrderID{Hi: c.hi, Lo: c.lo}
		got, err := v.ExtractOrderID(validPublicInputs(id))
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
}
