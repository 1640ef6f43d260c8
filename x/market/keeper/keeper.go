package keeper

import (
	"fmt"
	"sync"

	"cosmossdk.io/log"

	"github.com/anomi-labs/p2pmarket/metrics"
	"github.com/anomi-labs/p2pmarket/x/market/types"
)

// Config carries the tunables a deployment chooses at construction time.
type Config struct {
	// MaxPriceLevels bounds distinct resting prices per side.
	MaxPriceLevels int
	// SettlementDelaySeconds gates how long after a payment mark a trade
	// becomes eligible for proof verification.
	SettlementDelaySeconds int64
	// VerificationKey is the embedded Groth16 key settlement proofs are
	// checked against.
	VerificationKey VerificationKey
	// Custody executes the token transfers the keeper authorizes.
	Custody TokenCustody
	// SettlementAuthority is the sole principal allowed through the
	// legacy ReleaseEscrowedFunds path. Empty disables that path.
	SettlementAuthority string
}

// DefaultConfig returns 50 price levels per side and a 10 second
// settlement delay. SettlementDelaySeconds is a placeholder; production
// deployments should raise it to a real dispute window.
func DefaultConfig(vk VerificationKey) Config {
	return Config{
		MaxPriceLevels:         MaxPriceLevels,
		SettlementDelaySeconds: 10,
		VerificationKey:        vk,
		Custody:                NewLedgerCustody(),
	}
}

// Market is the per-market record: which mints trade, who administers
// the market, and its derived record address.
type Market struct {
	ID        string
	BaseMint  string
	QuoteMint string
	Authority string
	Address   string
}

// Keeper binds the order book, matching engine, lifecycle manager,
// escrow vaults and settlement verifier into the external operations of
// one or more markets.
type Keeper struct {
	mu sync.Mutex

	logger log.Logger
	cfg    Config

	markets   map[string]*Market
	books     map[string]*OrderBook
	vaults    map[string]*EscrowVault // keyed by token mint
	engine    *MatchingEngine
	lifecycle *LifecycleManager
	verifier  *SettlementVerifier
	feed      *BookFeed
	metrics   *metrics.Collector

	sequence uint32
}

// NewKeeper constructs a keeper. One keeper instance serves every market
// it has initialized; per-market mutual exclusion is provided by mu,
// matching the single-writer-per-market scheduling model.
func NewKeeper(logger log.Logger, cfg Config) *Keeper {
	scoped := logger.With("module", "market")
	m := metrics.GetCollector()
	return &Keeper{
		logger:    scoped,
		cfg:       cfg,
		markets:   make(map[string]*Market),
		books:     make(map[string]*OrderBook),
		vaults:    make(map[string]*EscrowVault),
		engine:    NewMatchingEngine(scoped),
		lifecycle: NewLifecycleManager(scoped, cfg.SettlementDelaySeconds),
		verifier:  NewSettlementVerifier(cfg.VerificationKey),
		feed:      NewBookFeed(scoped, m),
		metrics:   m,
	}
}

// InitializeMarket creates the market record for (baseMint, quoteMint)
// under authority. The book and escrow vault are initialized separately.
func (k *Keeper) InitializeMarket(marketID, baseMint, quoteMint, authority string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.markets[marketID]; exists {
		return fmt.Errorf("market %s already initialized", marketID)
	}
	k.markets[marketID] = &Market{
		ID:        marketID,
		BaseMint:  baseMint,
		QuoteMint: quoteMint,
		Authority: authority,
		Address:   MarketAddress(baseMint),
	}
	k.logger.Info("market initialized", "market_id", marketID, "base_mint", baseMint)
	return nil
}

// InitializeOrderBook creates marketID's empty book with zeroed trees.
func (k *Keeper) InitializeOrderBook(marketID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	mkt, ok := k.markets[marketID]
	if !ok {
		return types.ErrNotFound
	}
	if _, exists := k.books[marketID]; exists {
		return fmt.Errorf("order book for market %s already initialized", marketID)
	}
	k.books[marketID] = NewOrderBookWithCapacity(marketID, mkt.BaseMint, mkt.QuoteMint, k.maxPriceLevels())
	k.logger.Info("order book initialized", "market_id", marketID)
	return nil
}

// InitializeEscrowVault creates the escrow vault for a token mint, with
// its transfer authority derived from the mint. One vault serves every
// market trading that mint as base.
func (k *Keeper) InitializeEscrowVault(tokenMint string) (*EscrowVault, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.vaults[tokenMint]; exists {
		return nil, fmt.Errorf("escrow vault for mint %s already initialized", tokenMint)
	}
	vault := NewEscrowVault(tokenMint)
	k.vaults[tokenMint] = vault
	k.logger.Info("escrow vault initialized", "token_mint", tokenMint, "authority", vault.Authority)
	return vault, nil
}

// ResetOrderBook destroys and reallocates a market's book state. Only
// the market authority may reset.
func (k *Keeper) ResetOrderBook(marketID, caller string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	mkt, ok := k.markets[marketID]
	if !ok {
		return types.ErrNotFound
	}
	if caller != mkt.Authority {
		return types.ErrUnauthorized
	}
	if _, ok := k.books[marketID]; !ok {
		return types.ErrNotFound
	}
	k.books[marketID] = NewOrderBookWithCapacity(marketID, mkt.BaseMint, mkt.QuoteMint, k.maxPriceLevels())
	k.recordBookState(marketID, k.books[marketID])
	k.logger.Info("order book reset", "market_id", marketID)
	return nil
}

// maxPriceLevels is the configured per-side price-level bound.
func (k *Keeper) maxPriceLevels() int {
	if k.cfg.MaxPriceLevels > 0 {
		return k.cfg.MaxPriceLevels
	}
	return MaxPriceLevels
}

func (k *Keeper) book(marketID string) (*OrderBook, error) {
	book, ok := k.books[marketID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return book, nil
}

// vaultFor resolves the escrow vault backing a book's base mint.
func (k *Keeper) vaultFor(book *OrderBook) (*EscrowVault, error) {
	vault, ok := k.vaults[book.BaseMint]
	if !ok {
		return nil, types.ErrVaultNotInitialized
	}
	return vault, nil
}

func (k *Keeper) nextOrderID(owner string, timestamp int64) types.OrderID {
	k.sequence++
	return types.NewOrderID(timestamp, k.sequence, []byte(owner))
}

// PlaceLimitOrder validates input, allocates an order id, and applies
// the order-type policy: Limit crosses then rests its remainder, Market
// and IOC cross and discard their remainder, PostOnly rests only if it
// would not cross, FOK crosses only if it can be fully filled in one
// atomic step. An Ask deposits its full
// quantity into the mint's escrow vault up front; whatever does not
// fill or rest is refunded before the call returns.
func (k *Keeper) PlaceLimitOrder(marketID string, owner string, side types.Side, orderType types.OrderType, price, quantity uint64, timestamp int64, clientOrderID uint64, paymentMethod string) (orderID types.OrderID, fills []types.Fill, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	var book *OrderBook
	timer := metrics.NewTimer()
	defer func() {
		k.metrics.RecordOrderLatency(marketID, orderType.String(), timer.ElapsedMs())
		status := "rejected"
		if err == nil {
			status = "rested"
			if filled := totalFilled(fills); filled > 0 {
				status = "filled"
				if filled == quantity {
					status = "fully_filled"
				}
				k.metrics.RecordFillRate(marketID, orderType.String(), float64(filled)/float64(quantity))
			}
		}
		k.metrics.RecordOrder(marketID, side.String(), orderType.String(), status)
		if book != nil {
			k.recordBookState(marketID, book)
		}
	}()

	if side != types.SideBid && side != types.SideAsk {
		return types.OrderID{}, nil, types.ErrInvalidSide
	}
	if quantity == 0 {
		return types.OrderID{}, nil, types.ErrInvalidAmount
	}
	if price == 0 && orderType != types.OrderTypeMarket {
		return types.OrderID{}, nil, types.ErrInvalidPrice
	}
	if len(paymentMethod) > types.PaymentMethodAcceptLen {
		return types.OrderID{}, nil, types.ErrPaymentMethodTooLong
	}

	book, err = k.book(marketID)
	if err != nil {
		return types.OrderID{}, nil, err
	}

	// Sellers escrow up front, so every policy check that can reject
	// without book mutation runs before the deposit.
	var vault *EscrowVault
	if side == types.SideAsk {
		vault, err = k.vaultFor(book)
		if err != nil {
			return types.OrderID{}, nil, err
		}
	}

	id := k.nextOrderID(owner, timestamp)
	order := types.NewOrder(id, owner, side, orderType, price, quantity, timestamp, clientOrderID, paymentMethod)

	switch orderType {
	case types.OrderTypePostOnly:
		dryFills, err := k.engine.Match(book.Clone(), side, quantity, price, owner)
		if err != nil {
			return types.OrderID{}, nil, err
		}
		if len(dryFills) > 0 {
			return types.OrderID{}, nil, types.ErrPostOnlyWouldMatch
		}
		if err := k.escrowDeposit(vault, owner, id, quantity); err != nil {
			return types.OrderID{}, nil, err
		}
		if err := book.Insert(order); err != nil {
			if vault != nil {
				if refundErr := k.escrowRefund(vault, id, owner, quantity); refundErr != nil {
					k.logger.Error("failed to refund escrow after rejected rest", "order_id", id.String(), "err", refundErr)
				}
			}
			return types.OrderID{}, nil, err
		}
		return id, nil, nil

	case types.OrderTypeFOK:
		dry := book.Clone()
		dryFills, err := k.engine.Match(dry, side, quantity, price, owner)
		if err != nil {
			return types.OrderID{}, nil, err
		}
		if totalFilled(dryFills) < quantity {
			return types.OrderID{}, nil, types.ErrFillOrKillNotFilled
		}
		fills, err := k.takeOrder(book, vault, id, owner, side, quantity, price, timestamp, false)
		return id, fills, err

	case types.OrderTypeIOC:
		fills, err := k.takeOrder(book, vault, id, owner, side, quantity, price, timestamp, false)
		return id, fills, err

	case types.OrderTypeMarket:
		limit := price
		if side == types.SideBid {
			limit = ^uint64(0)
		}
		fills, err := k.takeOrder(book, vault, id, owner, side, quantity, limit, timestamp, false)
		return id, fills, err

	default: // Limit
		fills, err := k.takeOrder(book, vault, id, owner, side, quantity, price, timestamp, true)
		if err != nil {
			return types.OrderID{}, nil, err
		}
		filled := totalFilled(fills)
		if filled < quantity {
			order.Fill(filled)
			if err := book.Insert(order); err != nil {
				if vault != nil {
					if refundErr := k.escrowRefund(vault, id, owner, quantity-filled); refundErr != nil {
						k.logger.Error("failed to refund escrow after rejected rest", "order_id", id.String(), "err", refundErr)
					}
				}
				return types.OrderID{}, nil, err
			}
		}
		return id, fills, nil
	}
}

// takeOrder is the shared taker path: escrow an ask's quantity, cross
// the book, record one trade per fill, and refund whatever neither
// filled nor rests. restsRemainder is true only for the Limit policy,
// whose unfilled remainder stays escrowed under the resting order.
func (k *Keeper) takeOrder(book *OrderBook, vault *EscrowVault, id types.OrderID, owner string, side types.Side, quantity, limitPrice uint64, timestamp int64, restsRemainder bool) ([]types.Fill, error) {
	if err := k.escrowDeposit(vault, owner, id, quantity); err != nil {
		return nil, err
	}
	fills, err := k.engine.Match(book, side, quantity, limitPrice, owner)
	if err != nil {
		return nil, err
	}
	if vault != nil && !restsRemainder {
		if remainder := quantity - totalFilled(fills); remainder > 0 {
			if err := k.escrowRefund(vault, id, owner, remainder); err != nil {
				return nil, err
			}
		}
	}
	k.recordFills(book.MarketID, id, owner, side, fills, timestamp)
	return fills, nil
}

// escrowDeposit transfers qty from owner into vault under id. A nil
// vault means the order is a bid and escrows nothing.
func (k *Keeper) escrowDeposit(vault *EscrowVault, owner string, id types.OrderID, qty uint64) error {
	if vault == nil {
		return nil
	}
	if err := vault.Deposit(k.cfg.Custody, owner, id, qty); err != nil {
		return err
	}
	k.metrics.RecordEscrow(vault.TokenMint, "deposit", vault.Total())
	return nil
}

// escrowRefund returns qty of id's escrow to its owner.
func (k *Keeper) escrowRefund(vault *EscrowVault, id types.OrderID, to string, qty uint64) error {
	if err := vault.Refund(k.cfg.Custody, id, to, qty); err != nil {
		return err
	}
	k.metrics.RecordEscrow(vault.TokenMint, "refund", vault.Total())
	return nil
}

// escrowRelease pays qty of id's escrow out to a verified fill's buyer.
func (k *Keeper) escrowRelease(vault *EscrowVault, id types.OrderID, to string, qty uint64) error {
	if err := vault.Release(k.cfg.Custody, id, to, qty); err != nil {
		return err
	}
	k.metrics.RecordEscrow(vault.TokenMint, "release", vault.Total())
	return nil
}

// recordFills creates a trade record per fill and publishes a feed
// event for each. takerSide decides which party is the buyer: a bid
// taker is always the buyer of a fill, an ask taker always the seller.
// The fill's escrow lives under whichever order is the ask.
func (k *Keeper) recordFills(marketID string, takerID types.OrderID, takerOwner string, takerSide types.Side, fills []types.Fill, timestamp int64) {
	for _, f := range fills {
		buyer, seller := takerOwner, f.MakerOwner
		escrowOrder := f.MakerOrderID
		if takerSide == types.SideAsk {
			buyer, seller = f.MakerOwner, takerOwner
			escrowOrder = takerID
		}
		tr := k.lifecycle.RecordFill(marketID, f.MakerOrderID, takerID, escrowOrder, buyer, seller, f.Price, f.Quantity, timestamp)
		k.metrics.RecordSettlementTransition(marketID, tr.Status.String())
		k.feed.PublishTrade(tr)
	}
}

// recordBookState pushes the book's current depth and spread to the
// metrics collector. Called after every mutation under k.mu.
func (k *Keeper) recordBookState(marketID string, book *OrderBook) {
	spreadBps := 0.0
	if spread, ok := book.Spread(); ok {
		if mid, ok := book.MidPrice(); ok && mid > 0 {
			spreadBps = float64(spread) * 10000 / float64(mid)
		}
	}
	k.metrics.RecordBookState(marketID, book.bids.Len(), book.asks.Len(), spreadBps)
}

// CancelOrder removes an order from marketID's book and refunds an
// ask's remaining escrowed quantity to its owner. Ownership is checked
// before the book is touched, so an unauthorized caller never mutates
// book state and a rejected cancel can never disturb FIFO order at the
// order's price level.
func (k *Keeper) CancelOrder(marketID string, id types.OrderID, caller string) (*types.Order, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	book, err := k.book(marketID)
	if err != nil {
		return nil, err
	}
	order, ok := book.Peek(id)
	if !ok {
		return nil, types.ErrNotFound
	}
	if order.Owner != caller {
		return nil, types.ErrUnauthorizedCancellation
	}

	cancelled, err := book.Cancel(id)
	if err != nil {
		return nil, err
	}
	if cancelled.Side == types.SideAsk && cancelled.Quantity > 0 {
		vault, err := k.vaultFor(book)
		if err != nil {
			return nil, err
		}
		if err := k.escrowRefund(vault, id, cancelled.Owner, cancelled.Quantity); err != nil {
			return nil, err
		}
	}
	k.recordBookState(marketID, book)
	return cancelled, nil
}

// MatchOrder crosses a standalone taker against marketID's book with no
// resting remainder: IOC semantics, including the ask taker's
// escrow-then-refund round trip.
func (k *Keeper) MatchOrder(marketID string, side types.Side, quantity, limitPrice uint64, owner string, timestamp int64) ([]types.Fill, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if side != types.SideBid && side != types.SideAsk {
		return nil, types.ErrInvalidSide
	}
	if quantity == 0 {
		return nil, types.ErrInvalidAmount
	}
	book, err := k.book(marketID)
	if err != nil {
		return nil, err
	}
	var vault *EscrowVault
	if side == types.SideAsk {
		if vault, err = k.vaultFor(book); err != nil {
			return nil, err
		}
	}
	id := k.nextOrderID(owner, timestamp)
	timer := metrics.NewTimer()
	fills, err := k.takeOrder(book, vault, id, owner, side, quantity, limitPrice, timestamp, false)
	k.metrics.RecordMatch(marketID, timer.ElapsedMs(), len(fills), totalFilled(fills))
	k.recordBookState(marketID, book)
	return fills, err
}

// MarkPaymentMade transitions a fill's trade record Pending -> PaymentMarked.
func (k *Keeper) MarkPaymentMade(tradeKey, buyer string, now int64) (*types.TradeRecord, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	tr, err := k.lifecycle.MarkPayment(tradeKey, buyer, now)
	if err != nil {
		return nil, err
	}
	k.metrics.RecordSettlementTransition(tr.MarketID, tr.Status.String())
	return tr, nil
}

// VerifySettlement validates a settlement proof for a trade and, on
// success, releases the fill quantity from escrow to the buyer (see
// DESIGN.md for the escrow-direction decision).
func (k *Keeper) VerifySettlement(tradeKey string, target types.OrderID, proofA, proofB, proofC []byte, publicInputs []string, now int64) (*types.TradeRecord, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	tr, lookupErr := k.lifecycle.lookup(tradeKey)
	marketID := ""
	if lookupErr == nil {
		marketID = tr.MarketID
	}

	// Resolve the escrow backing before the state transition, so a
	// missing vault or short balance rejects with the trade still
	// PaymentMarked rather than stranding a Verified trade unpaid.
	var vault *EscrowVault
	if lookupErr == nil {
		book, err := k.book(tr.MarketID)
		if err != nil {
			return nil, err
		}
		if vault, err = k.vaultFor(book); err != nil {
			return nil, err
		}
		if vault.Locked(tr.EscrowOrderID) < tr.Quantity {
			return nil, types.ErrInsufficientEscrow
		}
	}

	verified, err := k.lifecycle.Verify(tradeKey, target, k.verifier, proofA, proofB, proofC, publicInputs, now)
	if err != nil {
		outcome := "invalid"
		if err == types.ErrSettlementDelayNotExpired {
			outcome = "delay_not_expired"
		}
		k.metrics.RecordProofVerification(marketID, outcome, 0)
		return nil, err
	}

	if err := k.escrowRelease(vault, verified.EscrowOrderID, verified.Buyer, verified.Quantity); err != nil {
		return nil, err
	}
	k.metrics.RecordSettlementTransition(verified.MarketID, verified.Status.String())
	k.metrics.RecordProofVerification(verified.MarketID, "verified", float64(now-verified.PaymentMarkedTs))
	k.feed.PublishSettlement(verified)
	return verified, nil
}

// ReleaseEscrowedFunds is the legacy escrow release path: it bypasses
// proof verification and is restricted to the designated settlement
// principal.
func (k *Keeper) ReleaseEscrowedFunds(tokenMint, caller string, orderID types.OrderID, recipient string, quantity uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cfg.SettlementAuthority == "" || caller != k.cfg.SettlementAuthority {
		return types.ErrUnauthorized
	}
	vault, ok := k.vaults[tokenMint]
	if !ok {
		return types.ErrVaultNotInitialized
	}
	if err := k.escrowRelease(vault, orderID, recipient, quantity); err != nil {
		return err
	}
	k.logger.Info("escrow released via legacy path", "token_mint", tokenMint, "order_id", orderID.String(), "recipient", recipient)
	return nil
}

// Book exposes a market's order book for read-only inspection (quotes,
// spread, depth). Callers must not mutate the returned value.
func (k *Keeper) Book(marketID string) (*OrderBook, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.book(marketID)
}

// Vault exposes a mint's escrow vault for read-only inspection.
func (k *Keeper) Vault(tokenMint string) (*EscrowVault, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	vault, ok := k.vaults[tokenMint]
	if !ok {
		return nil, types.ErrVaultNotInitialized
	}
	return vault, nil
}

// Feed returns the keeper's book/lifecycle event broadcaster.
func (k *Keeper) Feed() *BookFeed {
	return k.feed
}
