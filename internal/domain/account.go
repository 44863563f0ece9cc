package domain

import "github.com/saiputravu/fenrir-core/internal/decimal"

// Account is the owning entity for balances; one account may hold
// balances in several currencies.
type Account struct {
	ID       string
	UserID   string
	IsActive bool
}

// Balance tracks one currency for one account. Total is always
// Available + Reserved; both are always non-negative.
type Balance struct {
	AccountID string
	Currency  string

	Total     decimal.D
	Available decimal.D
	Reserved  decimal.D
}

// Reserve moves amount from Available to Reserved. Callers must check
// CanReserve first; Reserve itself does not validate.
func (b *Balance) Reserve(amount decimal.D) {
	b.Available = b.Available.Sub(amount)
	b.Reserved = b.Reserved.Add(amount)
}

// Release moves amount back from Reserved to Available (unused
// reservation on a cancelled/rejected residual).
func (b *Balance) Release(amount decimal.D) {
	b.Reserved = b.Reserved.Sub(amount)
	b.Available = b.Available.Add(amount)
}

// Debit consumes amount from Reserved and Total (a reserved amount was
// actually spent in a trade).
func (b *Balance) Debit(amount decimal.D) {
	b.Reserved = b.Reserved.Sub(amount)
	b.Total = b.Total.Sub(amount)
}

// Credit adds amount to both Available and Total (proceeds of a
// trade, or the asset received).
func (b *Balance) Credit(amount decimal.D) {
	b.Available = b.Available.Add(amount)
	b.Total = b.Total.Add(amount)
}

// CanReserve reports whether Available covers amount.
func (b *Balance) CanReserve(amount decimal.D) bool {
	return b.Available.Cmp(amount) >= 0
}

// Position tracks one user's net exposure in one instrument. Quantity
// is signed: positive is long, negative is short. AveragePrice is only
// meaningful while Quantity != 0.
type Position struct {
	UserID           string
	InstrumentSymbol string

	Quantity     decimal.D
	AveragePrice decimal.D

	UnrealizedPnl decimal.D
	RealizedPnl   decimal.D
}

// ApplyFill updates the position for one fill of signedQty (positive
// for a buy fill, negative for a sell fill) at execPrice, recomputing
// AveragePrice on adds and realizing P&L on reductions, per spec §3's
// position invariant.
func (p *Position) ApplyFill(signedQty, execPrice decimal.D) {
	if decimal.IsZero(signedQty) {
		return
	}

	prevQty := p.Quantity
	sameSignOrFlat := decimal.IsZero(prevQty) || prevQty.Sign() == signedQty.Sign()

	if sameSignOrFlat {
		// Growing (or opening) the position: blend the average price.
		newQty := prevQty.Add(signedQty)
		if decimal.IsZero(newQty) {
			p.Quantity = decimal.Zero
			return
		}
		prevNotional := p.AveragePrice.Mul(prevQty.Abs())
		addedNotional := execPrice.Mul(signedQty.Abs())
		p.AveragePrice = prevNotional.Add(addedNotional).Div(newQty.Abs())
		p.Quantity = newQty
		return
	}

	// Reducing or flipping the position: realize P&L on the portion
	// that closes existing exposure.
	closingQty := decimal.Min(prevQty.Abs(), signedQty.Abs())
	pnlPerUnit := execPrice.Sub(p.AveragePrice)
	if prevQty.Sign() < 0 {
		// Closing a short: profit when execPrice < averagePrice.
		pnlPerUnit = p.AveragePrice.Sub(execPrice)
	}
	p.RealizedPnl = p.RealizedPnl.Add(pnlPerUnit.Mul(closingQty))

	newQty := prevQty.Add(signedQty)
	switch {
	case decimal.IsZero(newQty):
		p.Quantity = decimal.Zero
	case newQty.Sign() == prevQty.Sign():
		// Partially closed; average price on the remaining exposure
		// is unchanged.
		p.Quantity = newQty
	default:
		// Flipped through zero: the remainder opens a fresh position
		// at the fill price.
		p.Quantity = newQty
		p.AveragePrice = execPrice
	}
}
