// Package marketdata projects the order book's mutations into the
// snapshot + sequenced delta stream spec §4.5 exposes to subscribers:
// a new subscriber starts from Snapshot(), then applies every Delta
// whose Sequence follows on, never missing or reordering one.
//
// Grounded on the teacher's net.Server.ReportTrade/ReportError (push a
// report to interested parties over a channel), generalized from
// "report to the two trade counterparties" into "broadcast a
// sequenced delta to every subscriber of this instrument's book".
package marketdata

import (
	"sync"

	"github.com/saiputravu/fenrir-core/internal/book"
	"github.com/saiputravu/fenrir-core/internal/decimal"
)

// LevelDelta is the wire-shape of one book.LevelChange.
type LevelDelta struct {
	Side                 string
	Price                decimal.D
	NewAggregateQuantity decimal.D
	NewOrderCount        int
}

// Delta is one sequenced batch of level changes produced by a single
// processed command. Subscribers must apply deltas in Sequence order
// and treat a gap as a signal to re-snapshot (spec §4.5 property).
type Delta struct {
	InstrumentSymbol string
	Sequence         uint64
	Levels           []LevelDelta
}

// subscriber is a bounded delivery channel; a slow subscriber that
// falls behind is dropped rather than allowed to block publication for
// everyone else, the same choice the teacher makes about a
// non-responsive client connection.
type subscriber struct {
	id string
	ch chan Delta
}

// Publisher fans deltas out to subscribers of one or more instruments.
// Safe for concurrent use: Publish is called by each instrument's
// executor goroutine, Subscribe/Unsubscribe by request-handling
// goroutines.
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber // instrument -> subscriberID -> sub
	bufferSize  int
}

// NewPublisher creates a publisher whose per-subscriber channels hold
// up to bufferSize pending deltas before that subscriber is dropped.
func NewPublisher(bufferSize int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Publisher{
		subscribers: make(map[string]map[string]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers subscriberID for instrumentSymbol's deltas and
// returns the channel to read them from. Calling Subscribe again with
// the same id replaces the previous channel.
func (p *Publisher) Subscribe(instrumentSymbol, subscriberID string) <-chan Delta {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs, ok := p.subscribers[instrumentSymbol]
	if !ok {
		subs = make(map[string]*subscriber)
		p.subscribers[instrumentSymbol] = subs
	}
	sub := &subscriber{id: subscriberID, ch: make(chan Delta, p.bufferSize)}
	subs[subscriberID] = sub
	return sub.ch
}

// Unsubscribe removes subscriberID and closes its channel.
func (p *Publisher) Unsubscribe(instrumentSymbol, subscriberID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs, ok := p.subscribers[instrumentSymbol]
	if !ok {
		return
	}
	if sub, ok := subs[subscriberID]; ok {
		close(sub.ch)
		delete(subs, subscriberID)
	}
}

// Publish converts changes into a Delta stamped with sequence and
// fans it out to every current subscriber of instrumentSymbol. A
// subscriber whose channel is full is dropped: it must re-subscribe
// and re-snapshot, since it has already missed a delta it cannot
// recover by waiting.
func (p *Publisher) Publish(instrumentSymbol string, sequence uint64, changes []book.LevelChange) {
	if len(changes) == 0 {
		return
	}
	delta := Delta{InstrumentSymbol: instrumentSymbol, Sequence: sequence, Levels: make([]LevelDelta, len(changes))}
	for i, c := range changes {
		delta.Levels[i] = LevelDelta{
			Side:                 c.Side.String(),
			Price:                c.Price,
			NewAggregateQuantity: c.NewAggregateQuantity,
			NewOrderCount:        c.NewOrderCount,
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, sub := range p.subscribers[instrumentSymbol] {
		select {
		case sub.ch <- delta:
		default:
			close(sub.ch)
			delete(p.subscribers[instrumentSymbol], id)
		}
	}
}
