package types

import (
	"cosmossdk.io/errors"
)

// Module error codes, registered under the market codespace.
var (
	// Input
	ErrInvalidAmount        = errors.Register("market", 1, "quantity must be greater than zero")
	ErrInvalidPrice         = errors.Register("market", 2, "price must be greater than zero")
	ErrPaymentMethodTooLong = errors.Register("market", 3, "payment method exceeds accepted length")

	// Book
	ErrBookFull    = errors.Register("market", 10, "order book is full")
	ErrNotFound    = errors.Register("market", 11, "order or price level not found")
	ErrInvalidSide = errors.Register("market", 12, "invalid order side")

	// Policy
	ErrSelfTradeNotAllowed = errors.Register("market", 20, "self-trade not allowed")
	ErrPostOnlyWouldMatch  = errors.Register("market", 21, "post-only order would match immediately")
	ErrFillOrKillNotFilled = errors.Register("market", 22, "fill-or-kill order could not be fully filled")

	// Authorization
	ErrUnauthorized             = errors.Register("market", 30, "unauthorized")
	ErrUnauthorizedCancellation = errors.Register("market", 31, "only the order owner may cancel")

	// Settlement
	ErrSettlementDelayNotExpired = errors.Register("market", 40, "settlement delay has not expired")
	ErrInvalidProof              = errors.Register("market", 41, "invalid settlement proof")
	ErrProofOrderIDMismatch      = errors.Register("market", 42, "proof order id does not match target order")
	ErrTradeNotPending           = errors.Register("market", 43, "trade is not in the pending state")
	ErrTradeAlreadyMarked        = errors.Register("market", 44, "trade payment already marked")

	// Escrow
	ErrVaultNotInitialized = errors.Register("market", 50, "escrow vault not initialized for token mint")
	ErrInsufficientEscrow  = errors.Register("market", 51, "escrowed amount is less than requested")
	ErrInsufficientFunds   = errors.Register("market", 52, "insufficient token balance")
)
