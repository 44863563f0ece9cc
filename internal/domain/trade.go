package domain

import (
	"time"

	"github.com/saiputravu/fenrir-core/internal/decimal"
)

// TradeID is an opaque, unique trade identifier.
type TradeID string

// Trade is immutable once written: a single fill between a buy order
// and a sell order. Self-trades never reach this type — the matching
// engine skips the resting order instead of emitting one (spec §4.2).
type Trade struct {
	ID               TradeID
	InstrumentSymbol string

	BuyOrderID  OrderID
	SellOrderID OrderID

	BuyerUserID  string
	SellerUserID string

	// BuyerAccountID/SellerAccountID are the accounts the reservation
	// and settlement balance movements apply to — distinct from the
	// user id whenever a user trades through more than one account.
	BuyerAccountID  string
	SellerAccountID string

	Quantity decimal.D
	// Price is always the maker's (resting order's) price: price
	// improvement for the taker.
	Price decimal.D

	ExecutedAt time.Time
}
