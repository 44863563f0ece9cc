// Package orderservice is the boundary between callers and THE CORE:
// it validates an inbound placement/cancel/modify request, reserves
// the balance a new order needs, hands accepted work to the
// instrument's executor, and keeps the read-side order index spec §4.3
// calls for (listOrders).
//
// Grounded on the teacher's net.Server.handleMessage dispatch (decode
// -> call into the engine -> report back), generalized into
// validate -> reserve -> submit -> settle-or-release. Struct-tag
// validation is grounded on go-playground/validator/v10, used the same
// way in abdoElHodaky-tradSys and DimaJoyti-ai-agentic-crypto-browser:
// validate the inbound request shape before any business logic runs.
package orderservice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/saiputravu/fenrir-core/internal/decimal"
	"github.com/saiputravu/fenrir-core/internal/domain"
	"github.com/saiputravu/fenrir-core/internal/engine"
	"github.com/saiputravu/fenrir-core/internal/executor"
	"github.com/saiputravu/fenrir-core/internal/persistence"
)

var validate = validator.New()

// PlacementRequest is the wire-shape of a new order. Decimal-valued
// fields arrive as strings (the caller's exact literal, never a
// float) and are parsed after the struct-tag shape check passes.
type PlacementRequest struct {
	ClientOrderID    string `validate:"required"`
	UserID           string `validate:"required"`
	AccountID        string `validate:"required"`
	InstrumentSymbol string `validate:"required"`
	Side             string `validate:"required,oneof=BUY SELL"`
	Type             string `validate:"required,oneof=LIMIT MARKET"`
	TimeInForce      string `validate:"omitempty,oneof=GTC IOC FOK"`
	Quantity         string `validate:"required,numeric"`
	Price            string `validate:"omitempty,numeric"`
}

// ModifyRequest carries a quantity-decrease or price change for a
// resting order.
type ModifyRequest struct {
	OrderID  domain.OrderID `validate:"required"`
	Price    string         `validate:"omitempty,numeric"`
	Quantity string         `validate:"required,numeric"`
}

// ListFilter narrows ListOrders; zero-value fields are unfiltered.
type ListFilter struct {
	InstrumentSymbol string
	Side             domain.Side
	HasSide          bool
	Status           domain.OrderStatus
	HasStatus        bool
}

// Service ties the matching engine, the per-instrument executors, the
// balance/position ledger, and the order read-index together.
type Service struct {
	eng        *engine.Engine
	executors  map[string]*executor.Executor
	ledger     *Ledger
	index      *orderIndex
	commitWait time.Duration
}

// New creates a service. executors must contain one entry per
// instrument registered on eng, keyed by symbol (wired in cmd/server).
func New(eng *engine.Engine, executors map[string]*executor.Executor, ledger *Ledger, commitWait time.Duration) *Service {
	return &Service{
		eng:        eng,
		executors:  executors,
		ledger:     ledger,
		index:      newOrderIndex(),
		commitWait: commitWait,
	}
}

// PlaceOrder validates req, reserves the balance it needs, and
// submits it to the instrument's executor. It returns the accepted
// (and possibly filled) order plus any trades it produced.
func (s *Service) PlaceOrder(ctx context.Context, req PlacementRequest) (*domain.Order, []*domain.Trade, error) {
	if err := validate.Struct(req); err != nil {
		return nil, nil, domain.Reject(domain.InvalidOrder, err.Error())
	}

	if existing, ok := s.index.byClientOrderID(req.UserID, req.ClientOrderID); ok {
		return existing, nil, nil
	}

	instrument, ok := s.eng.Instrument(req.InstrumentSymbol)
	if !ok {
		return nil, nil, domain.RejectField(domain.InvalidOrder, "instrumentSymbol", "unknown instrument")
	}

	side, err := parseSide(req.Side)
	if err != nil {
		return nil, nil, err
	}
	orderType, err := parseOrderType(req.Type)
	if err != nil {
		return nil, nil, err
	}
	tif := domain.GTC
	if req.TimeInForce != "" {
		if tif, err = parseTIF(req.TimeInForce); err != nil {
			return nil, nil, err
		}
	}
	quantity, err := decimal.Parse(req.Quantity)
	if err != nil {
		return nil, nil, domain.RejectField(domain.InvalidOrder, "quantity", "not a valid decimal")
	}
	if !decimal.IsPositive(quantity) {
		return nil, nil, domain.RejectField(domain.InvalidOrder, "quantity", "quantity must be positive")
	}
	var price *decimal.D
	if req.Price != "" {
		p, err := decimal.Parse(req.Price)
		if err != nil {
			return nil, nil, domain.RejectField(domain.InvalidOrder, "price", "not a valid decimal")
		}
		price = &p
	}
	if orderType == domain.Limit && price == nil {
		return nil, nil, domain.RejectField(domain.InvalidOrder, "price", "limit order requires a price")
	}

	reserveCurrency, reserveAmount := reservation(instrument, s.eng, side, quantity, price)
	if !s.ledger.TryReserve(req.AccountID, reserveCurrency, reserveAmount) {
		return nil, nil, domain.Reject(domain.InsufficientBalance, "insufficient available balance to reserve")
	}

	order := &domain.Order{
		ID:               domain.OrderID(uuid.NewString()),
		ClientOrderID:    req.ClientOrderID,
		UserID:           req.UserID,
		AccountID:        req.AccountID,
		InstrumentSymbol: req.InstrumentSymbol,
		Side:             side,
		Type:             orderType,
		TimeInForce:      tif,
		Quantity:         quantity,
		Price:            price,
		Status:           domain.Working,
		CreatedAt:        time.Now(),
	}

	exec, ok := s.executors[req.InstrumentSymbol]
	if !ok {
		s.ledger.Release(req.AccountID, reserveCurrency, reserveAmount)
		return nil, nil, domain.RejectField(domain.InvalidOrder, "instrumentSymbol", "no executor for instrument")
	}

	build := s.buildWriteSet(instrument.QuoteCcy)
	ctx, cancel := context.WithTimeout(ctx, s.commitWait)
	defer cancel()
	outcome, err := exec.Submit(ctx, order, build)
	if err != nil {
		s.ledger.Release(req.AccountID, reserveCurrency, reserveAmount)
		return outcome.Order, nil, err
	}

	s.releaseUnusedReservation(outcome.Order, outcome.Trades, reserveCurrency, reserveAmount, side, price)
	s.index.put(outcome.Order)
	return outcome.Order, outcome.Trades, nil
}

// CancelOrder cancels a resting order and releases whatever of its
// reservation was never spent. userID must own the order; a non-owner
// gets the same ORDER_NOT_FOUND a nonexistent order would (spec §7:
// never leak an order's existence to a caller who doesn't own it).
func (s *Service) CancelOrder(ctx context.Context, symbol string, id domain.OrderID, userID string) error {
	exec, ok := s.executors[symbol]
	if !ok {
		return domain.RejectField(domain.InvalidOrder, "instrumentSymbol", "no executor for instrument")
	}
	instrument, ok := s.eng.Instrument(symbol)
	if !ok {
		return domain.RejectField(domain.InvalidOrder, "instrumentSymbol", "unknown instrument")
	}

	existing, ok := s.index.byID(id)
	if !ok || existing.UserID != userID {
		return domain.Reject(domain.OrderNotFound, "order not found")
	}
	if existing.Status.IsTerminal() {
		return domain.Reject(domain.OrderAlreadyTerminal, "order already terminal")
	}

	build := s.buildWriteSet(instrument.QuoteCcy)
	ctx, cancel := context.WithTimeout(ctx, s.commitWait)
	defer cancel()
	outcome, err := exec.Cancel(ctx, id, build)
	if err != nil {
		return err
	}

	currency, amount := reservation(instrument, s.eng, existing.Side, existing.RemainingQuantity(), existing.Price)
	s.ledger.Release(existing.AccountID, currency, amount)

	existing.Status = domain.Cancelled
	existing.UpdatedAt = time.Now()
	s.index.put(existing)
	_ = outcome
	return nil
}

// ModifyOrder applies a quantity decrease (priority preserved) or a
// price/quantity-increase change (new priority) to a resting order.
// userID must own the order; a non-owner gets the same ORDER_NOT_FOUND
// a nonexistent order would (spec §7: never leak existence).
func (s *Service) ModifyOrder(ctx context.Context, symbol string, req ModifyRequest, userID string) (*domain.Order, error) {
	if err := validate.Struct(req); err != nil {
		return nil, domain.Reject(domain.InvalidOrder, err.Error())
	}
	exec, ok := s.executors[symbol]
	if !ok {
		return nil, domain.RejectField(domain.InvalidOrder, "instrumentSymbol", "no executor for instrument")
	}
	instrument, ok := s.eng.Instrument(symbol)
	if !ok {
		return nil, domain.RejectField(domain.InvalidOrder, "instrumentSymbol", "unknown instrument")
	}
	existing, ok := s.index.byID(req.OrderID)
	if !ok || existing.UserID != userID {
		return nil, domain.Reject(domain.OrderNotFound, "order not found")
	}

	newQuantity, err := decimal.Parse(req.Quantity)
	if err != nil {
		return nil, domain.RejectField(domain.InvalidOrder, "quantity", "not a valid decimal")
	}
	var newPrice *decimal.D
	if req.Price != "" {
		p, err := decimal.Parse(req.Price)
		if err != nil {
			return nil, domain.RejectField(domain.InvalidOrder, "price", "not a valid decimal")
		}
		newPrice = &p
	}

	build := s.buildWriteSet(instrument.QuoteCcy)
	ctx, cancel := context.WithTimeout(ctx, s.commitWait)
	defer cancel()
	outcome, err := exec.Modify(ctx, req.OrderID, newPrice, newQuantity, build)
	if err != nil {
		return nil, err
	}

	existing.Quantity = newQuantity
	existing.FilledQuantity = decimal.Zero
	if newPrice != nil {
		existing.Price = newPrice
	}
	existing.UpdatedAt = time.Now()
	s.index.put(existing)
	return outcome.Order, nil
}

// ListOrders returns a user's orders matching filter, newest first.
func (s *Service) ListOrders(userID string, filter ListFilter) []*domain.Order {
	return s.index.list(userID, filter)
}

// buildWriteSet returns an executor.WriteSetBuilder closure that
// settles every trade through the ledger and assembles the full
// OrderWriteSet the persistence port must commit atomically.
func (s *Service) buildWriteSet(quoteCcy string) executor.WriteSetBuilder {
	return func(order *domain.Order, trades []*domain.Trade) persistence.OrderWriteSet {
		ws := persistence.OrderWriteSet{UpsertOrders: []*domain.Order{order}}
		seenPosition := make(map[string]bool)
		for _, trade := range trades {
			ws.InsertTrades = append(ws.InsertTrades, trade)
			deltas, positions := s.ledger.Settle(trade, order.InstrumentSymbol, quoteCcy)
			ws.BalanceDeltas = append(ws.BalanceDeltas, deltas...)
			for _, p := range positions {
				key := p.UserID + "|" + p.InstrumentSymbol
				if !seenPosition[key] {
					ws.PositionUpserts = append(ws.PositionUpserts, p)
					seenPosition[key] = true
				}
			}
		}
		return ws
	}
}

// releaseUnusedReservation frees the reservation held for a remainder
// that will never rest. A GTC limit order with quantity left over
// rests on the book (engine.ProcessOrder's same condition) and keeps
// its full remainder reserved — the book quantity must stay backed by
// a live reservation, or a later fill's Ledger.Settle debit drives
// Reserved negative. Only a remainder that will never rest (an
// IOC/FOK/Market residual, discarded on the spot) gets released here:
// the remaining quantity (priced at the limit for a limit buy), or,
// for a market buy, whatever of the reservation its fills did not
// spend. Nothing is released for a fully filled order, nor for the gap
// between a buy's reserved price and a lower execution price.
func (s *Service) releaseUnusedReservation(order *domain.Order, trades []*domain.Trade, currency string, reserved decimal.D, side domain.Side, limitPrice *decimal.D) {
	if decimal.IsZero(order.RemainingQuantity()) {
		return
	}
	if order.Type == domain.Limit && order.TimeInForce == domain.GTC {
		return
	}
	_, unusedAmount := reservation(nil, nil, side, order.RemainingQuantity(), limitPrice)
	if side == domain.Buy && limitPrice == nil {
		unusedAmount = reserved
		for _, trade := range trades {
			unusedAmount = unusedAmount.Sub(trade.Price.Mul(trade.Quantity))
		}
	}
	if decimal.IsPositive(unusedAmount) && unusedAmount.LessThanOrEqual(reserved) {
		s.ledger.Release(order.AccountID, currency, unusedAmount)
	}
}

func parseSide(s string) (domain.Side, error) {
	switch s {
	case "BUY":
		return domain.Buy, nil
	case "SELL":
		return domain.Sell, nil
	default:
		return 0, domain.RejectField(domain.InvalidOrder, "side", "unrecognized side")
	}
}

func parseOrderType(s string) (domain.OrderType, error) {
	switch s {
	case "LIMIT":
		return domain.Limit, nil
	case "MARKET":
		return domain.Market, nil
	default:
		return 0, domain.RejectField(domain.InvalidOrder, "type", "unrecognized order type")
	}
}

func parseTIF(s string) (domain.TimeInForce, error) {
	switch s {
	case "GTC":
		return domain.GTC, nil
	case "IOC":
		return domain.IOC, nil
	case "FOK":
		return domain.FOK, nil
	default:
		return 0, domain.RejectField(domain.InvalidOrder, "timeInForce", "unrecognized time in force")
	}
}

// reservation computes the currency and amount a side/quantity/price
// combination must reserve. A nil eng/instrument (used only by
// releaseUnusedReservation, which already knows the original
// reservation was in the instrument's quote currency for a buy or the
// instrument symbol itself for a sell) skips the market-buy lookup and
// just prices the remainder at limitPrice.
func reservation(instrument *domain.Instrument, eng *engine.Engine, side domain.Side, quantity decimal.D, limitPrice *decimal.D) (string, decimal.D) {
	if side == domain.Sell {
		symbol := ""
		if instrument != nil {
			symbol = instrument.Symbol
		}
		return symbol, quantity
	}

	quoteCcy := ""
	if instrument != nil {
		quoteCcy = instrument.QuoteCcy
	}
	if limitPrice != nil {
		return quoteCcy, quantity.Mul(*limitPrice)
	}
	if instrument == nil {
		return quoteCcy, decimal.Zero
	}
	switch instrument.MarketBuyReservation {
	case domain.ReserveAtTopOfBook:
		if eng != nil {
			if ob, _, err := eng.ResolveBook(instrument.Symbol); err == nil {
				if ask, ok := ob.BestAsk(); ok {
					return quoteCcy, quantity.Mul(ask.Price)
				}
			}
		}
		fallthrough
	default:
		return quoteCcy, quantity.Mul(instrument.MaxPrice)
	}
}

// orderIndex is the service's read-side view of every order it has
// accepted, kept for listOrders and cancel/modify lookups (the book
// itself only ever holds resting orders, never terminal ones).
type orderIndex struct {
	mu               sync.RWMutex
	byOrderID        map[domain.OrderID]*domain.Order
	byUser           map[string][]*domain.Order
	byClientOrderKey map[string]*domain.Order
}

func newOrderIndex() *orderIndex {
	return &orderIndex{
		byOrderID:        make(map[domain.OrderID]*domain.Order),
		byUser:           make(map[string][]*domain.Order),
		byClientOrderKey: make(map[string]*domain.Order),
	}
}

func (idx *orderIndex) put(order *domain.Order) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.byOrderID[order.ID]; !exists {
		idx.byUser[order.UserID] = append(idx.byUser[order.UserID], order)
	}
	idx.byOrderID[order.ID] = order
	idx.byClientOrderKey[clientOrderKey(order.UserID, order.ClientOrderID)] = order
}

func (idx *orderIndex) byID(id domain.OrderID) (*domain.Order, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	o, ok := idx.byOrderID[id]
	return o, ok
}

func (idx *orderIndex) byClientOrderID(userID, clientOrderID string) (*domain.Order, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	o, ok := idx.byClientOrderKey[clientOrderKey(userID, clientOrderID)]
	return o, ok
}

func (idx *orderIndex) list(userID string, filter ListFilter) []*domain.Order {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	orders := idx.byUser[userID]
	out := make([]*domain.Order, 0, len(orders))
	for i := len(orders) - 1; i >= 0; i-- {
		o := orders[i]
		if filter.InstrumentSymbol != "" && o.InstrumentSymbol != filter.InstrumentSymbol {
			continue
		}
		if filter.HasSide && o.Side != filter.Side {
			continue
		}
		if filter.HasStatus && o.Status != filter.Status {
			continue
		}
		out = append(out, o)
	}
	return out
}

func clientOrderKey(userID, clientOrderID string) string {
	return fmt.Sprintf("%s|%s", userID, clientOrderID)
}
