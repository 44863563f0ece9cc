package orderservice

import (
	"sync"

	"github.com/saiputravu/fenrir-core/internal/decimal"
	"github.com/saiputravu/fenrir-core/internal/domain"
	"github.com/saiputravu/fenrir-core/internal/persistence"
)

// Ledger is the order service's in-memory view of balances and
// positions: the authoritative values live wherever persistence.Port
// commits them, but the service needs a synchronous read/reserve path
// to validate and reserve funds before a submission ever reaches the
// executor. Kept in step with persistence by applying the exact same
// deltas the write set commits.
type Ledger struct {
	mu        sync.Mutex
	balances  map[string]*domain.Balance // key: accountID|currency
	positions map[string]*domain.Position // key: userID|instrumentSymbol
}

// NewLedger creates an empty ledger; seed it via Seed before serving
// traffic.
func NewLedger() *Ledger {
	return &Ledger{
		balances:  make(map[string]*domain.Balance),
		positions: make(map[string]*domain.Position),
	}
}

func balanceKey(accountID, currency string) string { return accountID + "|" + currency }
func positionKey(userID, symbol string) string      { return userID + "|" + symbol }

// SeedBalance installs a starting balance, overwriting any existing
// row for the same account/currency.
func (l *Ledger) SeedBalance(b *domain.Balance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[balanceKey(b.AccountID, b.Currency)] = b
}

// Balance returns the account's current balance in currency, creating
// a zeroed one if none exists yet.
func (l *Ledger) Balance(accountID, currency string) *domain.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(accountID, currency)
}

func (l *Ledger) balanceLocked(accountID, currency string) *domain.Balance {
	key := balanceKey(accountID, currency)
	b, ok := l.balances[key]
	if !ok {
		b = &domain.Balance{AccountID: accountID, Currency: currency}
		l.balances[key] = b
	}
	return b
}

// Position returns the user's position in symbol, creating a flat one
// if none exists yet.
func (l *Ledger) Position(userID, symbol string) *domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positionLocked(userID, symbol)
}

func (l *Ledger) positionLocked(userID, symbol string) *domain.Position {
	key := positionKey(userID, symbol)
	p, ok := l.positions[key]
	if !ok {
		p = &domain.Position{UserID: userID, InstrumentSymbol: symbol}
		l.positions[key] = p
	}
	return p
}

// TryReserve attempts to reserve amount of currency against
// accountID's available balance, returning false without mutating
// anything if the balance can't cover it.
func (l *Ledger) TryReserve(accountID, currency string, amount decimal.D) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.balanceLocked(accountID, currency)
	if !b.CanReserve(amount) {
		return false
	}
	b.Reserve(amount)
	return true
}

// Release returns a reservation that was never spent (a cancel, a
// reject, or an IOC/FOK residual).
func (l *Ledger) Release(accountID, currency string, amount decimal.D) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceLocked(accountID, currency).Release(amount)
}

// Settle applies one fill's effects: the quoted-currency balance
// movement on both legs plus the position update, and returns the
// persistence deltas/upserts for the write set. The buyer's notional
// comes out of what it already reserved at submission time (Debit);
// the seller receives it fresh (Credit). Balances are keyed by account
// id — the same id TryReserve/Release used — since a user may trade
// through more than one account; positions stay keyed by user id, the
// identity spec §3 attributes P&L to.
func (l *Ledger) Settle(trade *domain.Trade, symbol, quoteCcy string) ([]persistence.BalanceDelta, []*domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()

	notional := trade.Price.Mul(trade.Quantity)

	buyerBalance := l.balanceLocked(trade.BuyerAccountID, quoteCcy)
	buyerBalance.Debit(notional)

	sellerBalance := l.balanceLocked(trade.SellerAccountID, quoteCcy)
	sellerBalance.Credit(notional)

	buyerPosition := l.positionLocked(trade.BuyerUserID, symbol)
	buyerPosition.ApplyFill(trade.Quantity, trade.Price)

	sellerPosition := l.positionLocked(trade.SellerUserID, symbol)
	sellerPosition.ApplyFill(trade.Quantity.Neg(), trade.Price)

	deltas := []persistence.BalanceDelta{
		{AccountID: trade.BuyerAccountID, Currency: quoteCcy, ReservedDelta: notional.Neg(), TotalDelta: notional.Neg()},
		{AccountID: trade.SellerAccountID, Currency: quoteCcy, AvailableDelta: notional, TotalDelta: notional},
	}
	positions := []*domain.Position{buyerPosition, sellerPosition}
	return deltas, positions
}
