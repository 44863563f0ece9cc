// Package executor supervises one serial goroutine per instrument:
// every order submission, cancel, and modify for a given symbol is
// processed one at a time, in arrival order, so the matching engine
// and the order book it owns never need their own internal locking
// (spec §5).
//
// Grounded on the teacher's internal/worker.go WorkerPool (a
// tomb.v2-supervised pool of goroutines pulling off one task channel)
// and internal/net/server.go's sessionHandler (a single goroutine
// draining a channel and reporting errors back per message). Here
// there is exactly one long-lived goroutine per instrument rather than
// a pool, because spec §5 requires strict per-instrument ordering, not
// just bounded concurrency.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"github.com/saiputravu/fenrir-core/internal/book"
	"github.com/saiputravu/fenrir-core/internal/decimal"
	"github.com/saiputravu/fenrir-core/internal/domain"
	"github.com/saiputravu/fenrir-core/internal/engine"
	"github.com/saiputravu/fenrir-core/internal/metrics"
	"github.com/saiputravu/fenrir-core/internal/persistence"
)

// Publisher receives the book mutations a processed command produced,
// for the market-data projection to turn into a sequenced delta (spec
// §4.5). Implemented by internal/marketdata.
type Publisher interface {
	Publish(instrumentSymbol string, sequence uint64, changes []book.LevelChange)
}

// WriteSetBuilder computes the durable effects (balance deltas,
// position upserts) of an order's trades. It is supplied by the order
// service, which alone knows the account/position model; the executor
// only knows how to match and persist.
type WriteSetBuilder func(order *domain.Order, trades []*domain.Trade) persistence.OrderWriteSet

// Outcome is what Submit/Cancel/Modify return once a command has been
// fully processed (matched, persisted, projected) or failed.
type Outcome struct {
	Order  *domain.Order
	Trades []*domain.Trade
	Err    error
}

type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdCancel
	cmdModify
)

type command struct {
	kind        commandKind
	order       *domain.Order
	orderID     domain.OrderID
	newPrice    *decimal.D
	newQuantity decimal.D
	build       WriteSetBuilder
	reply       chan Outcome
}

// Executor is the per-instrument serializer. Construct one per symbol
// and call Run inside a tomb goroutine (see cmd/server for wiring).
type Executor struct {
	symbol     string
	engine     *engine.Engine
	persister  persistence.Port
	publisher  Publisher
	commands   chan command
	priority   atomic.Uint64
	commitWait time.Duration
}

// New creates an executor for symbol. commitWait bounds how long a
// single Commit call may block before the caller gives up on this
// command (not the whole executor, which keeps running).
func New(symbol string, eng *engine.Engine, persister persistence.Port, publisher Publisher, commitWait time.Duration) *Executor {
	return &Executor{
		symbol:     symbol,
		engine:     eng,
		persister:  persister,
		publisher:  publisher,
		commands:   make(chan command, 256),
		commitWait: commitWait,
	}
}

// Run drains commands until the tomb dies. It is fatal to the whole
// executor (and therefore the whole instrument) if the engine ever
// reports a book integrity violation: spec §4.2/§7 require aborting
// rather than attempting partial recovery.
func (e *Executor) Run(t *tomb.Tomb) error {
	log.Info().Str("instrument", e.symbol).Msg("executor starting")
	for {
		select {
		case <-t.Dying():
			log.Info().Str("instrument", e.symbol).Msg("executor stopping")
			return nil
		case cmd := <-e.commands:
			metrics.ExecutorQueueDepth.WithLabelValues(e.symbol).Set(float64(len(e.commands)))
			if err := e.handle(cmd); err != nil {
				log.Error().Err(err).Str("instrument", e.symbol).Msg("fatal engine error, executor aborting")
				return err
			}
		}
	}
}

// Submit enqueues a new order for matching. It blocks until the
// command is fully processed or ctx is cancelled.
func (e *Executor) Submit(ctx context.Context, order *domain.Order, build WriteSetBuilder) (Outcome, error) {
	return e.dispatch(ctx, command{kind: cmdSubmit, order: order, build: build})
}

// Cancel enqueues a cancel of a resting order.
func (e *Executor) Cancel(ctx context.Context, id domain.OrderID, build WriteSetBuilder) (Outcome, error) {
	return e.dispatch(ctx, command{kind: cmdCancel, orderID: id, build: build})
}

// Modify enqueues a price/quantity change of a resting order.
func (e *Executor) Modify(ctx context.Context, id domain.OrderID, newPrice *decimal.D, newQuantity decimal.D, build WriteSetBuilder) (Outcome, error) {
	return e.dispatch(ctx, command{kind: cmdModify, orderID: id, newPrice: newPrice, newQuantity: newQuantity, build: build})
}

func (e *Executor) dispatch(ctx context.Context, cmd command) (Outcome, error) {
	cmd.reply = make(chan Outcome, 1)
	select {
	case e.commands <- cmd:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	select {
	case out := <-cmd.reply:
		return out, out.Err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// handle processes exactly one command. A non-nil return is a fatal
// (integrity) error; ordinary rejections and transient failures are
// reported through cmd.reply instead.
func (e *Executor) handle(cmd command) error {
	now := time.Now()
	switch cmd.kind {
	case cmdSubmit:
		return e.handleSubmit(cmd, now)
	case cmdCancel:
		return e.handleCancel(cmd)
	case cmdModify:
		return e.handleModify(cmd)
	default:
		cmd.reply <- Outcome{Err: fmt.Errorf("executor: unknown command kind %d", cmd.kind)}
		return nil
	}
}

func (e *Executor) handleSubmit(cmd command, now time.Time) error {
	order := cmd.order
	order.Priority = e.priority.Add(1)

	result, err := e.engine.ProcessOrder(order, now)
	if err != nil {
		var integrity *domain.IntegrityError
		if errors.As(err, &integrity) {
			cmd.reply <- Outcome{Err: err}
			return err
		}
		e.countReject(err)
		// A validation/business reject never mutated the book; nothing
		// to roll back or persist.
		cmd.reply <- Outcome{Order: order, Err: err}
		return nil
	}

	ws := cmd.build(result.Order, result.Trades)
	commitResult, cerr := e.commit(ws)
	if cerr != nil {
		e.rollback(result)
		cmd.reply <- Outcome{Order: order, Err: domain.Reject(domain.Transient, cerr.Error())}
		return nil
	}
	_ = commitResult

	metrics.TradesExecuted.WithLabelValues(e.symbol).Add(float64(len(result.Trades)))
	e.publish(result.LevelChanges)
	cmd.reply <- Outcome{Order: result.Order, Trades: result.Trades}
	return nil
}

func (e *Executor) countReject(err error) {
	var reject *domain.RejectError
	if errors.As(err, &reject) {
		metrics.OrdersRejected.WithLabelValues(reject.Kind.String()).Inc()
	}
}

func (e *Executor) handleCancel(cmd command) error {
	removed, change, err := e.engine.CancelOrder(e.symbol, cmd.orderID)
	if err != nil {
		cmd.reply <- Outcome{Err: err}
		return nil
	}
	cancelled := &domain.Order{ID: removed.ID, InstrumentSymbol: e.symbol, Status: domain.Cancelled}
	ws := cmd.build(cancelled, nil)
	if _, cerr := e.commit(ws); cerr != nil {
		// Put the order back: the cancel never durably happened.
		e.engine.RestoreRemoved(e.symbol, removed)
		cmd.reply <- Outcome{Err: domain.Reject(domain.Transient, cerr.Error())}
		return nil
	}
	e.publish([]book.LevelChange{change})
	cmd.reply <- Outcome{Order: cancelled}
	return nil
}

func (e *Executor) handleModify(cmd command) error {
	ob, _, err := e.engine.ResolveBook(e.symbol)
	if err != nil {
		cmd.reply <- Outcome{Err: err}
		return nil
	}
	var previous domain.OrderBookOrder
	if existing, ok := ob.GetOrder(cmd.orderID); ok {
		previous = *existing
	}

	newPriority := e.priority.Add(1)
	updated, changes, err := e.engine.ModifyOrder(e.symbol, cmd.orderID, cmd.newPrice, cmd.newQuantity, newPriority)
	if err != nil {
		cmd.reply <- Outcome{Err: err}
		return nil
	}
	modified := &domain.Order{ID: updated.ID, InstrumentSymbol: e.symbol, Price: &updated.Price, Quantity: updated.RemainingQty, Priority: updated.Priority, Status: domain.Working}
	ws := cmd.build(modified, nil)
	if _, cerr := e.commit(ws); cerr != nil {
		e.revertModify(ob, previous)
		cmd.reply <- Outcome{Err: domain.Reject(domain.Transient, cerr.Error())}
		return nil
	}
	e.publish(changes)
	cmd.reply <- Outcome{Order: modified}
	return nil
}

// revertModify undoes an in-memory modify whose persistence commit
// failed, restoring the order's pre-modify price, quantity, and
// priority. The modify may have changed the order in place (quantity
// decrease at the same price) or removed and re-added it at a new
// level; either way the post-modify copy is removed before the
// pre-modify state is restored. The restored copy joins the back of
// its price level's queue: it keeps its old priority value but not its
// place ahead of orders that arrived at that price after it.
func (e *Executor) revertModify(ob *book.OrderBook, previous domain.OrderBookOrder) {
	ob.RemoveOrder(previous.ID)
	restored := previous
	ob.AddOrder(&restored)
}

func (e *Executor) commit(ws persistence.OrderWriteSet) (persistence.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.commitWait)
	defer cancel()

	start := time.Now()
	result, err := e.persister.Commit(ctx, ws)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.CommitLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return result, err
}

func (e *Executor) publish(changes []book.LevelChange) {
	if len(changes) == 0 || e.publisher == nil {
		return
	}
	ob, _, err := e.engine.ResolveBook(e.symbol)
	if err != nil {
		return
	}
	e.publisher.Publish(e.symbol, ob.Sequence(), changes)
}

// rollback undoes the in-memory effects of a match whose persistence
// commit failed: the taker's own resting remainder (if any) is
// removed, and each maker's consumed quantity is restored. Restored
// quantity is given a fresh id and priority when its original order
// is no longer resting (fully consumed) — the financial effect is
// identical, but the maker loses the queue position it already spent
// on this trade, since that position cannot be un-spent.
func (e *Executor) rollback(result *engine.MatchResult) {
	ob, _, err := e.engine.ResolveBook(result.Order.InstrumentSymbol)
	if err != nil {
		return
	}
	if result.Order.Status == domain.Working || result.Order.Status == domain.PartiallyFilled {
		if result.Order.Type == domain.Limit && result.Order.TimeInForce == domain.GTC {
			ob.RemoveOrder(result.Order.ID)
		}
	}
	for _, trade := range result.Trades {
		makerID, makerSide, makerUserID, makerAccountID := makerOf(result.Order, trade)
		if existing, ok := ob.GetOrder(makerID); ok {
			ob.UpdateOrderQuantity(makerID, existing.RemainingQty.Add(trade.Quantity))
			continue
		}
		fresh := &domain.OrderBookOrder{
			ID:               domain.OrderID(uuid.NewString()),
			UserID:           makerUserID,
			AccountID:        makerAccountID,
			Side:             makerSide,
			Price:            trade.Price,
			RemainingQty:     trade.Quantity,
			Priority:         e.priority.Add(1),
			InstrumentSymbol: result.Order.InstrumentSymbol,
		}
		ob.AddOrder(fresh)
	}
}

func makerOf(taker *domain.Order, trade *domain.Trade) (domain.OrderID, domain.Side, string, string) {
	if trade.BuyOrderID == taker.ID {
		return trade.SellOrderID, domain.Sell, trade.SellerUserID, trade.SellerAccountID
	}
	return trade.BuyOrderID, domain.Buy, trade.BuyerUserID, trade.BuyerAccountID
}

