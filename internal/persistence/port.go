// Package persistence is the durable write side of the order
// lifecycle: one atomic commit per accepted order, covering the
// order's own row, any trades it produced, and the balance/position
// effects of those trades (spec §4.4).
//
// The teacher has no persistence layer at all — orders live only in
// the in-memory book. Port and its Postgres adapter are new, grounded
// on other_examples/manifests/thatreguy-trade.re, which talks to
// Postgres directly through jackc/pgx/v5 rather than an ORM: a good
// fit here, since a port that must express "all of these writes in
// one transaction, or none of them" wants explicit SQL and explicit
// transaction boundaries, not a generated query builder.
package persistence

import (
	"context"
	"time"

	"github.com/saiputravu/fenrir-core/internal/decimal"
	"github.com/saiputravu/fenrir-core/internal/domain"
)

// BalanceDelta is one currency-balance adjustment produced by settling
// a set of trades. Deltas are signed and additive; Commit applies them
// to whatever the account's current row holds.
type BalanceDelta struct {
	AccountID       string
	Currency        string
	AvailableDelta  decimal.D
	ReservedDelta   decimal.D
	TotalDelta      decimal.D
}

// OrderWriteSet is everything one accepted order (or cancel/modify)
// must commit atomically: its own updated row, the trades it just
// produced, and the balance/position effects those trades have. Spec
// §4.4 requires all of this to land in a single commit or not at all.
type OrderWriteSet struct {
	UpsertOrders    []*domain.Order
	InsertTrades    []*domain.Trade
	BalanceDeltas   []BalanceDelta
	PositionUpserts []*domain.Position
}

// Empty reports whether the write set has nothing to commit (e.g. a
// cancel that touched no balances or trades still needs its order row
// upserted, so this is rarely true for a real order event).
func (ws OrderWriteSet) Empty() bool {
	return len(ws.UpsertOrders) == 0 && len(ws.InsertTrades) == 0 &&
		len(ws.BalanceDeltas) == 0 && len(ws.PositionUpserts) == 0
}

// Result is returned by a successful Commit.
type Result struct {
	CommittedAt time.Time
}

// Port is the persistence boundary the order service and executor
// depend on. Implementations must apply every part of ws atomically:
// a partial commit is a correctness bug, not a degraded outcome.
type Port interface {
	Commit(ctx context.Context, ws OrderWriteSet) (Result, error)
}
