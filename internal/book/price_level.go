package book

import (
	"github.com/saiputravu/fenrir-core/internal/decimal"
	"github.com/saiputravu/fenrir-core/internal/domain"
)

// PriceLevel is one (instrument, side, price) bucket: a FIFO queue of
// resting orders plus the two aggregates spec §3 requires to stay in
// sync with it (TotalQuantity, OrderCount).
type PriceLevel struct {
	Price         decimal.D
	Orders        []*domain.OrderBookOrder
	TotalQuantity decimal.D
	OrderCount    int
}

func newPriceLevel(price decimal.D) *PriceLevel {
	return &PriceLevel{Price: price, TotalQuantity: decimal.Zero}
}

// pushBack appends to the end of the FIFO queue: new orders at a price
// always sort behind existing orders at that price (time priority).
func (l *PriceLevel) pushBack(o *domain.OrderBookOrder) {
	l.Orders = append(l.Orders, o)
	l.TotalQuantity = l.TotalQuantity.Add(o.RemainingQty)
	l.OrderCount = len(l.Orders)
}

// removeAt removes the order at index i and keeps FIFO order for the
// remainder (no reordering, so time priority of the survivors holds).
func (l *PriceLevel) removeAt(i int) {
	l.TotalQuantity = l.TotalQuantity.Sub(l.Orders[i].RemainingQty)
	l.Orders = append(l.Orders[:i], l.Orders[i+1:]...)
	l.OrderCount = len(l.Orders)
}

func (l *PriceLevel) indexOf(id domain.OrderID) int {
	for i, o := range l.Orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

// refreshAggregate recomputes TotalQuantity/OrderCount from the
// current Orders slice. Called after in-place RemainingQty mutation
// (a partial fill) so the aggregate invariant of spec §3 never drifts.
func (l *PriceLevel) refreshAggregate() {
	total := decimal.Zero
	for _, o := range l.Orders {
		total = total.Add(o.RemainingQty)
	}
	l.TotalQuantity = total
	l.OrderCount = len(l.Orders)
}

func (l *PriceLevel) empty() bool {
	return len(l.Orders) == 0
}
