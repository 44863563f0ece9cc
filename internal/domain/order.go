package domain

import (
	"time"

	"github.com/saiputravu/fenrir-core/internal/decimal"
)

// OrderID is an opaque, unique order identifier. No structure outside
// the persistence layer and the order-service index references an
// order by anything but this id.
type OrderID string

// Order is the durable representation of a trader's instruction. It
// is the unit the persistence port writes; the book only ever holds
// the lighter-weight OrderBookOrder derived from it.
type Order struct {
	ID               OrderID
	ClientOrderID    string // caller-supplied, used to de-duplicate retries
	UserID           string
	AccountID        string
	InstrumentSymbol string

	Side        Side
	Type        OrderType
	TimeInForce TimeInForce

	Quantity       decimal.D
	FilledQuantity decimal.D
	Price          *decimal.D // nil for Market orders

	Status OrderStatus

	// Priority is the per-process, per-instrument monotonic sequence
	// assigned at acceptance; it is the time-priority dimension of
	// price-time priority. Lower priority means earlier acceptance.
	Priority uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RemainingQuantity is Quantity - FilledQuantity.
func (o *Order) RemainingQuantity() decimal.D {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsFullyFilled reports whether FilledQuantity has reached Quantity.
func (o *Order) IsFullyFilled() bool {
	return o.FilledQuantity.Cmp(o.Quantity) >= 0
}

// ToBookOrder derives the in-memory working copy the order book owns
// while the order rests. Only Limit orders ever call this: Market
// orders never rest (spec invariant).
func (o *Order) ToBookOrder() *OrderBookOrder {
	if o.Price == nil {
		panic("domain: cannot rest an order with no price")
	}
	return &OrderBookOrder{
		ID:               o.ID,
		UserID:           o.UserID,
		AccountID:        o.AccountID,
		Side:             o.Side,
		Price:            *o.Price,
		RemainingQty:     o.RemainingQuantity(),
		Priority:         o.Priority,
		InstrumentSymbol: o.InstrumentSymbol,
	}
}

// OrderBookOrder is the working copy exclusively owned by the order
// book while an order rests. It carries only what the matching walk
// needs, plus the owner's account id for settling the maker leg of a
// trade; the durable Order record is the source of truth for
// everything else (time-in-force, client id, ...).
type OrderBookOrder struct {
	ID               OrderID
	UserID           string
	AccountID        string
	Side             Side
	Price            decimal.D
	RemainingQty     decimal.D
	Priority         uint64
	InstrumentSymbol string
}
