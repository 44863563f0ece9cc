// Package engine implements the matching engine: the component that
// takes an incoming order, crosses it against the resting book per
// price-time priority, and returns the trades and book mutations that
// resulted (spec §4.2).
//
// Grounded on the teacher's internal/engine/orderbook.go (the
// sweep-while-crossing loop and taker/maker handling) and
// internal/engine/engine.go (Engine.Books map[AssetType]OrderBook,
// generalized here to map[string]*book.OrderBook keyed by instrument
// symbol). Self-trade prevention and time-in-force handling are new:
// the teacher has neither; both are grounded directly on spec §4.2's
// skip-maker policy and TIF semantics.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saiputravu/fenrir-core/internal/book"
	"github.com/saiputravu/fenrir-core/internal/decimal"
	"github.com/saiputravu/fenrir-core/internal/domain"
)

// MatchResult is what ProcessOrder returns: the (possibly mutated)
// order, any trades executed, and the book mutations the market-data
// projection needs to replay (spec §4.5).
type MatchResult struct {
	Order        *domain.Order
	Trades       []*domain.Trade
	LevelChanges []book.LevelChange
}

// Engine owns one order book per instrument and the instrument
// registry that governs validation. Callers (the executor) are
// responsible for serializing access per instrument; Engine's own
// mutex only protects registration/lookup of the instrument/book maps
// themselves, not the matching walk.
type Engine struct {
	mu          sync.RWMutex
	instruments map[string]*domain.Instrument
	books       map[string]*book.OrderBook
}

// New creates an engine with no registered instruments.
func New() *Engine {
	return &Engine{
		instruments: make(map[string]*domain.Instrument),
		books:       make(map[string]*book.OrderBook),
	}
}

// RegisterInstrument adds or replaces an instrument's rules. The
// instrument's book is created empty the first time it is registered
// and is never replaced by a later re-registration.
func (e *Engine) RegisterInstrument(inst *domain.Instrument) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.instruments[inst.Symbol] = inst
	if _, ok := e.books[inst.Symbol]; !ok {
		e.books[inst.Symbol] = book.New(inst.Symbol)
	}
}

// Instrument returns the registered instrument, if any.
func (e *Engine) Instrument(symbol string) (*domain.Instrument, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, ok := e.instruments[symbol]
	return inst, ok
}

func (e *Engine) resolve(symbol string) (*book.OrderBook, *domain.Instrument, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, iok := e.instruments[symbol]
	ob, bok := e.books[symbol]
	if !iok || !bok {
		return nil, nil, domain.RejectField(domain.InvalidOrder, "instrumentSymbol", "unknown instrument")
	}
	return ob, inst, nil
}

// Snapshot returns the current book snapshot for symbol.
func (e *Engine) Snapshot(symbol string) (book.Snapshot, error) {
	ob, _, err := e.resolve(symbol)
	if err != nil {
		return book.Snapshot{}, err
	}
	return ob.Snapshot(), nil
}

// ResolveBook exposes the instrument's book and instrument definition
// to callers outside this package (the executor) that need direct
// book access for rollback repair or sequence/publish bookkeeping.
func (e *Engine) ResolveBook(symbol string) (*book.OrderBook, *domain.Instrument, error) {
	return e.resolve(symbol)
}

// RestoreRemoved re-inserts a previously removed resting order,
// unchanged (same id, price, quantity and priority value). Used by the
// executor to undo a cancel whose persistence commit failed. The order
// joins the back of its price level's FIFO queue, so orders that
// arrived at that price after it now sit ahead of it.
func (e *Engine) RestoreRemoved(symbol string, order *domain.OrderBookOrder) error {
	ob, _, err := e.resolve(symbol)
	if err != nil {
		return err
	}
	ob.AddOrder(order)
	return nil
}

// crosses reports whether a resting level at levelPrice on the
// opposite side is marketable against a taker on takerSide bound by
// takerPrice. A nil takerPrice (a Market order) always crosses.
func crosses(takerSide domain.Side, takerPrice *decimal.D, levelPrice decimal.D) bool {
	if takerPrice == nil {
		return true
	}
	if takerSide == domain.Buy {
		return levelPrice.LessThanOrEqual(*takerPrice)
	}
	return levelPrice.GreaterThanOrEqual(*takerPrice)
}

// availableLiquidity sums the resting quantity on the opposite side of
// takerSide that is both marketable against takerPrice and not owned
// by takerUserID (self-trade orders never count toward a fill-or-kill
// decision, since the engine will skip them exactly as it does during
// an actual match). Used only by the FOK pre-check; it never mutates
// the book.
func availableLiquidity(ob *book.OrderBook, takerSide domain.Side, takerUserID string, takerPrice *decimal.D) decimal.D {
	total := decimal.Zero
	side := takerSide.Opposite()
	var cursor *decimal.D
	for {
		var level *book.PriceLevel
		var ok bool
		if cursor == nil {
			level, ok = ob.BestLevel(side)
		} else {
			level, ok = ob.NextLevel(side, *cursor)
		}
		if !ok {
			break
		}
		if !crosses(takerSide, takerPrice, level.Price) {
			break
		}
		for _, o := range level.Orders {
			if o.UserID != takerUserID {
				total = total.Add(o.RemainingQty)
			}
		}
		price := level.Price
		cursor = &price
	}
	return total
}

func buildTrade(taker, maker orderParty, takerSide domain.Side, qty, price decimal.D, now time.Time, symbol string) *domain.Trade {
	buyOrderID, sellOrderID := taker.id, maker.id
	buyer, seller := taker, maker
	if takerSide == domain.Sell {
		buyOrderID, sellOrderID = maker.id, taker.id
		buyer, seller = maker, taker
	}
	return &domain.Trade{
		ID:               domain.TradeID(uuid.NewString()),
		InstrumentSymbol: symbol,
		BuyOrderID:       buyOrderID,
		SellOrderID:      sellOrderID,
		BuyerUserID:      buyer.userID,
		SellerUserID:     seller.userID,
		BuyerAccountID:   buyer.accountID,
		SellerAccountID:  seller.accountID,
		Quantity:         qty,
		Price:            price,
		ExecutedAt:       now,
	}
}

// orderParty is the identity a trade's buy/sell leg attributes to —
// carried separately from domain.Order/domain.OrderBookOrder since the
// taker is one and the maker is the other.
type orderParty struct {
	id        domain.OrderID
	userID    string
	accountID string
}

// match walks the opposite side of the book, consuming resting
// quantity at each crossing level FIFO-first, until the taker is
// fully filled, the book runs out of marketable liquidity, or a
// limit taker reaches a level it no longer crosses. Orders owned by
// the taker's own user are skipped rather than matched (self-trade
// prevention, skip-maker policy): they remain resting, untouched.
func (e *Engine) match(ob *book.OrderBook, taker *domain.Order, now time.Time) ([]*domain.Trade, []book.LevelChange, error) {
	var trades []*domain.Trade
	var changes []book.LevelChange

	side := taker.Side
	var cursor *decimal.D

	for !taker.IsFullyFilled() {
		var level *book.PriceLevel
		var ok bool
		if cursor == nil {
			level, ok = ob.BestLevel(side.Opposite())
		} else {
			level, ok = ob.NextLevel(side.Opposite(), *cursor)
		}
		if !ok {
			break
		}
		if !crosses(side, taker.Price, level.Price) {
			break
		}
		price := level.Price
		cursor = &price

		i := 0
		for i < len(level.Orders) && !taker.IsFullyFilled() {
			maker := level.Orders[i]
			if maker.UserID == taker.UserID {
				i++
				continue
			}
			qty := decimal.Min(taker.RemainingQuantity(), maker.RemainingQty)
			consumed, change, err := ob.Consume(maker.ID, qty)
			if err != nil {
				return trades, changes, &domain.IntegrityError{Instrument: taker.InstrumentSymbol, Reason: err.Error()}
			}
			changes = append(changes, change)
			takerParty := orderParty{id: taker.ID, userID: taker.UserID, accountID: taker.AccountID}
			makerParty := orderParty{id: maker.ID, userID: maker.UserID, accountID: maker.AccountID}
			trades = append(trades, buildTrade(takerParty, makerParty, side, qty, level.Price, now, taker.InstrumentSymbol))
			taker.FilledQuantity = taker.FilledQuantity.Add(qty)
			if !consumed {
				i++
			}
		}
	}

	if err := ob.ValidateIntegrity(); err != nil {
		return trades, changes, &domain.IntegrityError{Instrument: taker.InstrumentSymbol, Reason: err.Error()}
	}
	return trades, changes, nil
}

// ProcessOrder validates order against its instrument, matches it
// against the resting book, and — for a GTC limit order with
// remaining quantity — rests it. It mutates order in place (FilledQuantity,
// Status, UpdatedAt) and returns every trade and level change produced.
func (e *Engine) ProcessOrder(order *domain.Order, now time.Time) (*MatchResult, error) {
	ob, instrument, err := e.resolve(order.InstrumentSymbol)
	if err != nil {
		return nil, err
	}
	if !instrument.IsActive || instrument.Expired(now) {
		return nil, domain.Reject(domain.InstrumentInactive, "instrument is not active")
	}
	if order.Type == domain.Limit {
		if order.Price == nil {
			return nil, domain.RejectField(domain.InvalidOrder, "price", "limit order requires a price")
		}
		if rej := instrument.ValidatePrice(*order.Price); rej != nil {
			return nil, rej
		}
	} else if order.TimeInForce == domain.GTC {
		// Market orders never rest; normalize so the post-match switch
		// below never tries to add one to the book.
		order.TimeInForce = domain.IOC
	}
	if rej := instrument.ValidateQuantity(order.Quantity); rej != nil {
		return nil, rej
	}

	if order.TimeInForce == domain.FOK {
		available := availableLiquidity(ob, order.Side, order.UserID, order.Price)
		if available.LessThan(order.RemainingQuantity()) {
			order.Status = domain.Rejected
			order.UpdatedAt = now
			return &MatchResult{Order: order}, domain.Reject(domain.NoLiquidity, "insufficient liquidity to fill completely")
		}
	}

	trades, changes, err := e.match(ob, order, now)
	if err != nil {
		return nil, err
	}

	remaining := order.RemainingQuantity()
	switch {
	case decimal.IsZero(remaining):
		order.Status = domain.Filled
	case order.Type == domain.Limit && order.TimeInForce == domain.GTC:
		if decimal.IsZero(order.FilledQuantity) {
			order.Status = domain.Working
		} else {
			order.Status = domain.PartiallyFilled
		}
		change := ob.AddOrder(order.ToBookOrder())
		changes = append(changes, change)
	default:
		// IOC/FOK/Market with quantity left over: never rests. A limit
		// IOC/FOK residual is Cancelled whatever it filled; a Market
		// order with fills keeps PartiallyFilled.
		if decimal.IsZero(order.FilledQuantity) || order.Type == domain.Limit {
			order.Status = domain.Cancelled
		} else {
			order.Status = domain.PartiallyFilled
		}
	}
	order.UpdatedAt = now

	return &MatchResult{Order: order, Trades: trades, LevelChanges: changes}, nil
}

// CancelOrder removes a resting order from its book. It returns the
// removed working copy (the caller uses it to release any remaining
// balance reservation) and the resulting level change.
func (e *Engine) CancelOrder(symbol string, id domain.OrderID) (*domain.OrderBookOrder, book.LevelChange, error) {
	ob, _, err := e.resolve(symbol)
	if err != nil {
		return nil, book.LevelChange{}, err
	}
	removed, change, ok := ob.RemoveOrder(id)
	if !ok {
		return nil, book.LevelChange{}, domain.Reject(domain.OrderNotFound, "order is not resting")
	}
	return removed, change, nil
}

// ModifyOrder applies a quantity or price change to a resting order.
// A quantity decrease at the same price is applied in place, keeping
// the order's existing time priority (spec §4.2). Any price change, or
// a quantity increase, is instead a remove-and-reinsert: the caller
// supplies newPriority, the fresh priority value the order receives
// from the order service's sequencer, since the order loses its place
// in the FIFO queue.
func (e *Engine) ModifyOrder(symbol string, id domain.OrderID, newPrice *decimal.D, newQuantity decimal.D, newPriority uint64) (*domain.OrderBookOrder, []book.LevelChange, error) {
	ob, instrument, err := e.resolve(symbol)
	if err != nil {
		return nil, nil, err
	}
	existing, ok := ob.GetOrder(id)
	if !ok {
		return nil, nil, domain.Reject(domain.OrderNotFound, "order is not resting")
	}
	if rej := instrument.ValidateQuantity(newQuantity); rej != nil {
		return nil, nil, rej
	}

	priceUnchanged := newPrice == nil || newPrice.Equal(existing.Price)
	quantityDecrease := newQuantity.LessThanOrEqual(existing.RemainingQty)

	if priceUnchanged && quantityDecrease {
		change, ok := ob.UpdateOrderQuantity(id, newQuantity)
		if !ok {
			return nil, nil, fmt.Errorf("engine: modify: order %s vanished mid-update", id)
		}
		existing.RemainingQty = newQuantity
		return existing, []book.LevelChange{change}, nil
	}

	targetPrice := existing.Price
	if newPrice != nil {
		targetPrice = *newPrice
	}
	if rej := instrument.ValidatePrice(targetPrice); rej != nil {
		return nil, nil, rej
	}

	removed, removeChange, ok := ob.RemoveOrder(id)
	if !ok {
		return nil, nil, fmt.Errorf("engine: modify: order %s vanished mid-update", id)
	}
	removed.Price = targetPrice
	removed.RemainingQty = newQuantity
	removed.Priority = newPriority
	addChange := ob.AddOrder(removed)
	return removed, []book.LevelChange{removeChange, addChange}, nil
}
