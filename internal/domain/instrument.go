package domain

import (
	"time"

	"github.com/saiputravu/fenrir-core/internal/decimal"
)

// MarketBuyReservationMode selects how a Market Buy's balance
// reservation is computed when no limit price exists to reserve
// against (spec §9 Open Question, resolved in DESIGN.md).
type MarketBuyReservationMode int

const (
	// ReserveAtMaxPrice reserves Quantity * Instrument.MaxPrice — the
	// spec's stated default: always sufficient, may over-reserve.
	ReserveAtMaxPrice MarketBuyReservationMode = iota
	// ReserveAtTopOfBook reserves Quantity * current best ask, falling
	// back to ReserveAtMaxPrice when the opposing side is empty.
	ReserveAtTopOfBook
)

// Instrument describes one tradeable symbol and the rules its orders
// must satisfy.
type Instrument struct {
	Symbol   string
	QuoteCcy string

	MinPrice decimal.D
	MaxPrice decimal.D
	TickSize decimal.D

	LotSize     decimal.D
	MinQuantity decimal.D
	MaxQuantity decimal.D

	IsActive       bool
	ExpirationDate *time.Time

	MarketBuyReservation MarketBuyReservationMode
}

// Expired reports whether the instrument's expiration date has passed
// as of t.
func (i *Instrument) Expired(t time.Time) bool {
	return i.ExpirationDate != nil && !t.Before(*i.ExpirationDate)
}

// ValidatePrice checks the Limit-order price-bound and tick-size rules
// of spec §4.3 steps 2-3.
func (i *Instrument) ValidatePrice(price decimal.D) *RejectError {
	if !decimal.InRange(price, i.MinPrice, i.MaxPrice) {
		return RejectField(PriceOutOfRange, "price", "price outside instrument bounds")
	}
	if !decimal.DivisibleBy(price, i.TickSize) {
		return RejectField(TickSizeViolation, "price", "price is not a multiple of tick size")
	}
	return nil
}

// ValidateQuantity checks the lot-size and quantity-bound rules of
// spec §4.3 step 4.
func (i *Instrument) ValidateQuantity(qty decimal.D) *RejectError {
	if !decimal.DivisibleBy(qty, i.LotSize) {
		return RejectField(LotSizeViolation, "quantity", "quantity is not a multiple of lot size")
	}
	if decimal.IsNegative(qty.Sub(i.MinQuantity)) {
		return RejectField(OrderSizeTooSmall, "quantity", "quantity below instrument minimum")
	}
	if decimal.IsPositive(qty.Sub(i.MaxQuantity)) {
		return RejectField(OrderSizeTooLarge, "quantity", "quantity above instrument maximum")
	}
	return nil
}
