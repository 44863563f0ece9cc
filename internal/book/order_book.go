// Package book implements the per-instrument limit order book: ordered
// price levels with FIFO queues, indexed for O(log P) cancel/modify.
//
// Grounded on the teacher's internal/engine/orderbook.go, which already
// shaped price levels as a github.com/tidwall/btree.BTreeG[*PriceLevel]
// pair (bids sorted descending, asks ascending) holding FIFO order
// slices. This package keeps that exact shape, adds the orderIndex the
// teacher's version lacked, and generalizes price/quantity from
// float64 to decimal.D.
package book

import (
	"fmt"

	"github.com/tidwall/btree"

	"github.com/saiputravu/fenrir-core/internal/decimal"
	"github.com/saiputravu/fenrir-core/internal/domain"
)

// LevelChange describes one structural mutation of a price level for
// the market-data projection: NewAggregateQuantity == 0 means "remove
// this level" (spec §6).
type LevelChange struct {
	Side                 domain.Side
	Price                decimal.D
	NewAggregateQuantity decimal.D
	NewOrderCount        int
}

type indexEntry struct {
	side  domain.Side
	price decimal.D
}

type levels = btree.BTreeG[*PriceLevel]

// OrderBook is the ordered set of price levels for one instrument,
// plus the orderId -> (price, side) index spec §3 requires for cancel
// and modify. The book is the exclusive owner of every resting
// OrderBookOrder; nothing outside this package holds a mutable
// reference to one.
type OrderBook struct {
	instrumentSymbol string

	bids *levels // sorted highest price first
	asks *levels // sorted lowest price first

	index map[domain.OrderID]indexEntry

	sequence uint64
}

// New creates an empty book for one instrument.
func New(instrumentSymbol string) *OrderBook {
	bids := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.GreaterThan(b.Price)
	})
	asks := btree.NewBTreeG(func(a, b *PriceLevel) bool {
		return a.Price.LessThan(b.Price)
	})
	return &OrderBook{
		instrumentSymbol: instrumentSymbol,
		bids:             bids,
		asks:             asks,
		index:            make(map[domain.OrderID]indexEntry),
	}
}

func (b *OrderBook) InstrumentSymbol() string { return b.instrumentSymbol }

// Sequence is the count of structural mutations applied to this book
// so far (spec §3/§8 property 1).
func (b *OrderBook) Sequence() uint64 { return b.sequence }

func (b *OrderBook) sideTree(side domain.Side) *levels {
	if side == domain.Buy {
		return b.bids
	}
	return b.asks
}

// AddOrder inserts a new resting order at its price, appending to the
// back of the level's FIFO queue (or creating the level if this is
// the first order at that price). Bumps Sequence and returns the
// resulting LevelChange.
func (b *OrderBook) AddOrder(o *domain.OrderBookOrder) LevelChange {
	tree := b.sideTree(o.Side)
	level, ok := tree.GetMut(&PriceLevel{Price: o.Price})
	if !ok {
		level = newPriceLevel(o.Price)
		tree.Set(level)
	}
	level.pushBack(o)
	b.index[o.ID] = indexEntry{side: o.Side, price: o.Price}
	b.sequence++
	return LevelChange{Side: o.Side, Price: level.Price, NewAggregateQuantity: level.TotalQuantity, NewOrderCount: level.OrderCount}
}

// RemoveOrder removes the resting order entirely (full cancel, or a
// maker fully consumed by a match). Deletes the level if it is left
// empty. Returns the removed order, the LevelChange, and whether it
// was present.
func (b *OrderBook) RemoveOrder(id domain.OrderID) (*domain.OrderBookOrder, LevelChange, bool) {
	entry, ok := b.index[id]
	if !ok {
		return nil, LevelChange{}, false
	}
	tree := b.sideTree(entry.side)
	level, ok := tree.GetMut(&PriceLevel{Price: entry.price})
	if !ok {
		return nil, LevelChange{}, false
	}
	i := level.indexOf(id)
	if i < 0 {
		return nil, LevelChange{}, false
	}
	removed := level.Orders[i]
	level.removeAt(i)
	delete(b.index, id)
	b.sequence++

	change := LevelChange{Side: entry.side, Price: entry.price, NewAggregateQuantity: level.TotalQuantity, NewOrderCount: level.OrderCount}
	if level.empty() {
		tree.Delete(level)
		change.NewAggregateQuantity = decimal.Zero
		change.NewOrderCount = 0
	}
	return removed, change, true
}

// UpdateOrderQuantity handles a quantity-decrease modify in place
// (spec §4.2 "Modify semantics": quantity decrease only, priority
// preserved). Increases must go through RemoveOrder + AddOrder so a
// new priority is assigned.
func (b *OrderBook) UpdateOrderQuantity(id domain.OrderID, newQty decimal.D) (LevelChange, bool) {
	entry, ok := b.index[id]
	if !ok {
		return LevelChange{}, false
	}
	tree := b.sideTree(entry.side)
	level, ok := tree.GetMut(&PriceLevel{Price: entry.price})
	if !ok {
		return LevelChange{}, false
	}
	i := level.indexOf(id)
	if i < 0 {
		return LevelChange{}, false
	}
	level.Orders[i].RemainingQty = newQty
	level.refreshAggregate()
	b.sequence++
	return LevelChange{Side: entry.side, Price: entry.price, NewAggregateQuantity: level.TotalQuantity, NewOrderCount: level.OrderCount}, true
}

// Consume reduces the remaining quantity of resting order id by qty
// during a match. If the order is fully consumed it is removed from
// the book (same as RemoveOrder); otherwise its level's aggregate is
// refreshed in place. Returns whether the order was fully consumed.
func (b *OrderBook) Consume(id domain.OrderID, qty decimal.D) (consumed bool, change LevelChange, err error) {
	entry, ok := b.index[id]
	if !ok {
		return false, LevelChange{}, fmt.Errorf("book: consume: order %s not resting", id)
	}
	tree := b.sideTree(entry.side)
	level, ok := tree.GetMut(&PriceLevel{Price: entry.price})
	if !ok {
		return false, LevelChange{}, fmt.Errorf("book: consume: level %s missing for indexed order %s", entry.price, id)
	}
	i := level.indexOf(id)
	if i < 0 {
		return false, LevelChange{}, fmt.Errorf("book: consume: order %s missing from its indexed level", id)
	}
	order := level.Orders[i]
	if order.RemainingQty.LessThan(qty) {
		return false, LevelChange{}, fmt.Errorf("book: consume: order %s has less remaining quantity than requested", id)
	}
	order.RemainingQty = order.RemainingQty.Sub(qty)
	if decimal.IsZero(order.RemainingQty) {
		level.removeAt(i)
		delete(b.index, id)
		b.sequence++
		change = LevelChange{Side: entry.side, Price: entry.price, NewAggregateQuantity: level.TotalQuantity, NewOrderCount: level.OrderCount}
		if level.empty() {
			tree.Delete(level)
			change.NewAggregateQuantity = decimal.Zero
			change.NewOrderCount = 0
		}
		return true, change, nil
	}
	level.refreshAggregate()
	b.sequence++
	return false, LevelChange{Side: entry.side, Price: entry.price, NewAggregateQuantity: level.TotalQuantity, NewOrderCount: level.OrderCount}, nil
}

// GetOrder looks up a resting order by id without removing it.
func (b *OrderBook) GetOrder(id domain.OrderID) (*domain.OrderBookOrder, bool) {
	entry, ok := b.index[id]
	if !ok {
		return nil, false
	}
	tree := b.sideTree(entry.side)
	level, ok := tree.GetMut(&PriceLevel{Price: entry.price})
	if !ok {
		return nil, false
	}
	i := level.indexOf(id)
	if i < 0 {
		return nil, false
	}
	return level.Orders[i], true
}

// BestLevel returns the best (highest bid / lowest ask) price level on
// side, for the matching engine to walk. The returned slice aliases
// book-owned order pointers; engine mutation of RemainingQty is
// visible here, but removal must always go through Consume/RemoveOrder
// so the index and aggregates stay correct.
func (b *OrderBook) BestLevel(side domain.Side) (*PriceLevel, bool) {
	return b.sideTree(side).MinMut()
}

// NextLevel returns the next level strictly worse than price on side,
// for continuing a market-order sweep after fully consuming the
// current best level.
func (b *OrderBook) NextLevel(side domain.Side, afterPrice decimal.D) (*PriceLevel, bool) {
	var found *PriceLevel
	b.sideTree(side).Ascend(&PriceLevel{Price: afterPrice}, func(item *PriceLevel) bool {
		if item.Price.Equal(afterPrice) {
			return true // skip the level we just consumed
		}
		found = item
		return false
	})
	if found != nil {
		return found, true
	}
	return nil, false
}

// RefreshAggregate recomputes a level's TotalQuantity/OrderCount after
// the engine has mutated RemainingQty of one or more of its orders in
// place, without removing any of them. Use after a self-trade skip
// pass where some orders were partially matched but none emptied.
func (b *OrderBook) RefreshAggregate(side domain.Side, price decimal.D) (LevelChange, bool) {
	level, ok := b.sideTree(side).GetMut(&PriceLevel{Price: price})
	if !ok {
		return LevelChange{}, false
	}
	level.refreshAggregate()
	b.sequence++
	return LevelChange{Side: side, Price: price, NewAggregateQuantity: level.TotalQuantity, NewOrderCount: level.OrderCount}, true
}

// BestBid returns the highest resting bid price level, if any.
func (b *OrderBook) BestBid() (*PriceLevel, bool) { return b.bids.MinMut() }

// BestAsk returns the lowest resting ask price level, if any.
func (b *OrderBook) BestAsk() (*PriceLevel, bool) { return b.asks.MinMut() }

// Spread returns BestAsk - BestBid; ok is false if either side is empty.
func (b *OrderBook) Spread() (decimal.D, bool) {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	if !bidOk || !askOk {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// MidPrice returns (BestBid + BestAsk) / 2; ok is false if either side
// is empty.
func (b *OrderBook) MidPrice() (decimal.D, bool) {
	bid, bidOk := b.BestBid()
	ask, askOk := b.BestAsk()
	if !bidOk || !askOk {
		return decimal.Zero, false
	}
	two := decimal.MustParse("2")
	return bid.Price.Add(ask.Price).Div(two), true
}

// OrdersAtPrice returns the FIFO order slice resting at (side, price).
func (b *OrderBook) OrdersAtPrice(side domain.Side, price decimal.D) ([]*domain.OrderBookOrder, bool) {
	level, ok := b.sideTree(side).GetMut(&PriceLevel{Price: price})
	if !ok {
		return nil, false
	}
	return level.Orders, true
}

// LevelView is one row of a snapshot: the read-only aggregate shape
// spec §6 puts on the wire.
type LevelView struct {
	Price      decimal.D
	Quantity   decimal.D
	OrderCount int
}

// Snapshot is an atomic, ordered copy of both sides of the book plus
// the sequence it reflects (spec §4.5).
type Snapshot struct {
	InstrumentSymbol string
	Sequence         uint64
	Bids             []LevelView // descending by price
	Asks             []LevelView // ascending by price
}

// Snapshot copies out both sides, best-first, under the current
// sequence.
func (b *OrderBook) Snapshot() Snapshot {
	snap := Snapshot{InstrumentSymbol: b.instrumentSymbol, Sequence: b.sequence}
	b.bids.Scan(func(l *PriceLevel) bool {
		snap.Bids = append(snap.Bids, LevelView{Price: l.Price, Quantity: l.TotalQuantity, OrderCount: l.OrderCount})
		return true
	})
	b.asks.Scan(func(l *PriceLevel) bool {
		snap.Asks = append(snap.Asks, LevelView{Price: l.Price, Quantity: l.TotalQuantity, OrderCount: l.OrderCount})
		return true
	})
	return snap
}

// ValidateIntegrity checks spec §3/§8's integrity invariants: every
// indexed order appears in exactly the level the index says, every
// level's aggregate matches its orders, and no empty level survives.
// A non-nil error here is fatal (spec §4.2/§7) — callers must abort
// rather than attempt partial recovery.
func (b *OrderBook) ValidateIntegrity() error {
	seen := make(map[domain.OrderID]bool, len(b.index))

	checkSide := func(side domain.Side, tree *levels) error {
		var errOut error
		tree.Scan(func(l *PriceLevel) bool {
			if l.empty() {
				errOut = fmt.Errorf("book: empty level %s survives on %s side", l.Price, side)
				return false
			}
			total := decimal.Zero
			for _, o := range l.Orders {
				entry, ok := b.index[o.ID]
				if !ok {
					errOut = fmt.Errorf("book: order %s in level %s %s missing from index", o.ID, side, l.Price)
					return false
				}
				if entry.side != side || !entry.price.Equal(l.Price) {
					errOut = fmt.Errorf("book: order %s index entry (%s %s) disagrees with level (%s %s)", o.ID, entry.side, entry.price, side, l.Price)
					return false
				}
				seen[o.ID] = true
				total = total.Add(o.RemainingQty)
			}
			if !total.Equal(l.TotalQuantity) {
				errOut = fmt.Errorf("book: level %s %s aggregate %s disagrees with sum %s", side, l.Price, l.TotalQuantity, total)
				return false
			}
			if l.OrderCount != len(l.Orders) {
				errOut = fmt.Errorf("book: level %s %s order count %d disagrees with length %d", side, l.Price, l.OrderCount, len(l.Orders))
				return false
			}
			return true
		})
		return errOut
	}

	if err := checkSide(domain.Buy, b.bids); err != nil {
		return err
	}
	if err := checkSide(domain.Sell, b.asks); err != nil {
		return err
	}
	if len(seen) != len(b.index) {
		return fmt.Errorf("book: orderIndex has %d entries not present in any level", len(b.index)-len(seen))
	}
	return nil
}
