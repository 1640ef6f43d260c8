package keeper

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/anomi-labs/p2pmarket/x/market/types"
)

const (
	proofALen        = 64
	proofBLen        = 128
	proofCLen        = 64
	minPublicInputs  = 18
	orderIDLowIndex  = 16
	orderIDHighIndex = 17
)

// VerificationKey is the fixed, deployment-embedded Groth16 key the
// verifier checks proofs against. IC must have exactly
// 1+len(publicInputs) entries.
type VerificationKey struct {
	Alpha bn254.G1Affine
	Beta  bn254.G2Affine
	Gamma bn254.G2Affine
	Delta bn254.G2Affine
	IC    []bn254.G1Affine
}

// SettlementVerifier validates a Groth16-style settlement proof against
// an embedded verification key. It is deterministic and side-effect
// free: the same (vk, proof, inputs) always yields the same verdict.
type SettlementVerifier struct {
	vk VerificationKey
}

// NewSettlementVerifier constructs a verifier bound to vk.
func NewSettlementVerifier(vk VerificationKey) *SettlementVerifier {
	return &SettlementVerifier{vk: vk}
}

// ExtractOrderID decodes the order id encoded at publicInputs[16..18]
// (low u64, high u64) after validating the input shapes.
func (v *SettlementVerifier) ExtractOrderID(publicInputs []string) (types.OrderID, error) {
	if err := validateShape(nil, nil, nil, publicInputs); err != nil {
		return types.OrderID{}, err
	}

	low, ok := new(big.Int).SetString(publicInputs[orderIDLowIndex], 10)
	if !ok {
		return types.OrderID{}, types.ErrInvalidProof
	}
	high, ok := new(big.Int).SetString(publicInputs[orderIDHighIndex], 10)
	if !ok {
		return types.OrderID{}, types.ErrInvalidProof
	}
	return types.OrderID{Hi: high.Uint64(), Lo: low.Uint64()}, nil
}

// Verify performs structural validation of the proof and public input
// shapes, then a full Groth16 pairing check against the embedded
// verification key.
func (v *SettlementVerifier) Verify(proofA, proofB, proofC []byte, publicInputs []string) (bool, error) {
	if err := validateShape(proofA, proofB, proofC, publicInputs); err != nil {
		return false, err
	}
	if len(v.vk.IC) != 1+len(publicInputs) {
		return false, types.ErrInvalidProof
	}

	var a bn254.G1Affine
	if _, err := a.SetBytes(proofA); err != nil {
		return false, types.ErrInvalidProof
	}
	var b bn254.G2Affine
	if _, err := b.SetBytes(proofB); err != nil {
		return false, types.ErrInvalidProof
	}
	var c bn254.G1Affine
	if _, err := c.SetBytes(proofC); err != nil {
		return false, types.ErrInvalidProof
	}

	vkX, err := v.linearCombination(publicInputs)
	if err != nil {
		return false, err
	}

	// Groth16 verification equation, rearranged for a single multi-pairing
	// check: e(-A, B) * e(alpha, beta) * e(vkX, gamma) * e(C, delta) == 1.
	var negA bn254.G1Affine
	negA.Neg(&a)

	ok, err := bn254.PairingCheck(
		[]bn254.G1Affine{negA, v.vk.Alpha, vkX, c},
		[]bn254.G2Affine{b, v.vk.Beta, v.vk.Gamma, v.vk.Delta},
	)
	if err != nil {
		return false, types.ErrInvalidProof
	}
	return ok, nil
}

// linearCombination computes IC[0] + sum(input_i * IC[i+1]) in G1.
func (v *SettlementVerifier) linearCombination(publicInputs []string) (bn254.G1Affine, error) {
	acc := new(bn254.G1Jac).FromAffine(&v.vk.IC[0])
	for i, s := range publicInputs {
		var scalar fr.Element
		if _, err := scalar.SetString(s); err != nil {
			return bn254.G1Affine{}, types.ErrInvalidProof
		}
		var term bn254.G1Jac
		bigScalar := new(big.Int)
		scalar.BigInt(bigScalar)
		term.ScalarMultiplication(new(bn254.G1Jac).FromAffine(&v.vk.IC[i+1]), bigScalar)
		acc.AddAssign(&term)
	}
	var result bn254.G1Affine
	result.FromJacobian(acc)
	return result, nil
}

func validateShape(proofA, proofB, proofC []byte, publicInputs []string) error {
	if proofA != nil && len(proofA) != proofALen {
		return types.ErrInvalidProof
	}
	if proofB != nil && len(proofB) != proofBLen {
		return types.ErrInvalidProof
	}
	if proofC != nil && len(proofC) != proofCLen {
		return types.ErrInvalidProof
	}
	if len(publicInputs) < minPublicInputs {
		return types.ErrInvalidProof
	}
	return nil
}
