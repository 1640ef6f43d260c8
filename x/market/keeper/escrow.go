package keeper

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/anomi-labs/p2pmarket/x/market/types"
)

// Seed prefixes for the deterministic addresses a market derives from its
// token mint. A deployment embeds these, so every party computes the same
// vault and authority identities without coordination.
const (
	seedMarket          = "market"
	seedOrderBook       = "order_book"
	seedEscrowVault     = "escrow_vault"
	seedEscrowAuthority = "escrow_authority"
)

// DeriveAddress computes the deterministic identity for a seed tuple:
// sha256 over the length-prefixed seeds, hex-encoded. The length prefix
// keeps ("ab","c") and ("a","bc") from colliding.
func DeriveAddress(seeds ...string) string {
	h := sha256.New()
	for _, s := range seeds {
		h.Write([]byte{byte(len(s))})
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MarketAddress derives the market record identity for a token mint.
func MarketAddress(tokenMint string) string {
	return DeriveAddress(seedMarket, tokenMint)
}

// OrderBookAddress derives the order book record identity for a token mint.
func OrderBookAddress(tokenMint string) string {
	return DeriveAddress(seedOrderBook, tokenMint)
}

// EscrowVaultAddress derives the escrow vault identity for a token mint.
func EscrowVaultAddress(tokenMint string) string {
	return DeriveAddress(seedEscrowVault, tokenMint)
}

// EscrowAuthorityAddress derives the vault's transfer authority for a
// token mint. Only the keeper acts as this authority; no external signer
// can produce it.
func EscrowAuthorityAddress(tokenMint string) string {
	return DeriveAddress(seedEscrowAuthority, tokenMint)
}

// TokenCustody is the external token-transfer collaborator. The core
// never moves tokens itself; it instructs custody to, and trusts it to
// enforce funding. Implementations must be atomic per call: a returned
// error means no balance moved.
type TokenCustody interface {
	Transfer(from, to string, amount uint64) error
}

// LedgerCustody is an in-memory TokenCustody keeping one balance per
// principal. Intended for tests and single-process deployments; a real
// deployment implements TokenCustody over its token program.
type LedgerCustody struct {
	balances map[string]uint64
}

// NewLedgerCustody constructs an empty ledger.
func NewLedgerCustody() *LedgerCustody {
	return &LedgerCustody{balances: make(map[string]uint64)}
}

// Mint credits amount to a principal.
func (l *LedgerCustody) Mint(principal string, amount uint64) {
	l.balances[principal] += amount
}

// Balance returns a principal's current balance.
func (l *LedgerCustody) Balance(principal string) uint64 {
	return l.balances[principal]
}

// Transfer moves amount from one principal to another, failing without
// side effects when the sender's balance is short.
func (l *LedgerCustody) Transfer(from, to string, amount uint64) error {
	if l.balances[from] < amount {
		return types.ErrInsufficientFunds
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

// EscrowVault holds the tokens backing a market's resting and matched
// ask orders. Each deposit is locked under the ask's order id; tokens
// leave only as a refund to the ask owner on cancel, as a release to the
// buyer on verified settlement, or through the legacy release path gated
// on the settlement principal.
type EscrowVault struct {
	TokenMint string
	Address   string
	Authority string

	locked map[types.OrderID]uint64
	total  uint64
}

// NewEscrowVault constructs a vault for a token mint with its derived
// address and authority.
func NewEscrowVault(tokenMint string) *EscrowVault {
	return &EscrowVault{
		TokenMint: tokenMint,
		Address:   EscrowVaultAddress(tokenMint),
		Authority: EscrowAuthorityAddress(tokenMint),
		locked:    make(map[types.OrderID]uint64),
	}
}

// Deposit moves qty from the seller into the vault, locked under orderID.
func (v *EscrowVault) Deposit(custody TokenCustody, from string, orderID types.OrderID, qty uint64) error {
	if err := custody.Transfer(from, v.Address, qty); err != nil {
		return err
	}
	v.locked[orderID] += qty
	v.total += qty
	return nil
}

// Refund returns qty of orderID's escrow to the ask owner, on cancel or
// on the unfilled remainder of a non-resting taker.
func (v *EscrowVault) Refund(custody TokenCustody, orderID types.OrderID, to string, qty uint64) error {
	return v.withdraw(custody, orderID, to, qty)
}

// Release pays qty of orderID's escrow out to the buyer of a verified
// fill.
func (v *EscrowVault) Release(custody TokenCustody, orderID types.OrderID, to string, qty uint64) error {
	return v.withdraw(custody, orderID, to, qty)
}

func (v *EscrowVault) withdraw(custody TokenCustody, orderID types.OrderID, to string, qty uint64) error {
	held := v.locked[orderID]
	if held < qty {
		return types.ErrInsufficientEscrow
	}
	if err := custody.Transfer(v.Address, to, qty); err != nil {
		return err
	}
	if held == qty {
		delete(v.locked, orderID)
	} else {
		v.locked[orderID] = held - qty
	}
	v.total -= qty
	return nil
}

// Locked returns the amount currently escrowed under orderID.
func (v *EscrowVault) Locked(orderID types.OrderID) uint64 {
	return v.locked[orderID]
}

// Total returns the vault's total escrowed balance.
func (v *EscrowVault) Total() uint64 {
	return v.total
}
