package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saiputravu/fenrir-core/internal/decimal"
	"github.com/saiputravu/fenrir-core/internal/domain"
)

// PostgresPort commits an OrderWriteSet as a single pgx transaction:
// upsert the order rows, insert the trades, apply the balance deltas,
// and upsert the positions, then commit once. Any failure rolls the
// whole transaction back.
type PostgresPort struct {
	pool *pgxpool.Pool
}

// NewPostgresPort wraps an already-connected pool. Callers own the
// pool's lifecycle (pgxpool.New / Close).
func NewPostgresPort(pool *pgxpool.Pool) *PostgresPort {
	return &PostgresPort{pool: pool}
}

func (p *PostgresPort) Commit(ctx context.Context, ws OrderWriteSet) (Result, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Result{}, fmt.Errorf("persistence: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	for _, order := range ws.UpsertOrders {
		if err := upsertOrder(ctx, tx, order); err != nil {
			return Result{}, fmt.Errorf("persistence: upsert order %s: %w", order.ID, err)
		}
	}
	for _, trade := range ws.InsertTrades {
		if err := insertTrade(ctx, tx, trade); err != nil {
			return Result{}, fmt.Errorf("persistence: insert trade %s: %w", trade.ID, err)
		}
	}
	for _, delta := range ws.BalanceDeltas {
		if err := applyBalanceDelta(ctx, tx, delta); err != nil {
			return Result{}, fmt.Errorf("persistence: apply balance delta for %s/%s: %w", delta.AccountID, delta.Currency, err)
		}
	}
	for _, position := range ws.PositionUpserts {
		if err := upsertPosition(ctx, tx, position); err != nil {
			return Result{}, fmt.Errorf("persistence: upsert position %s/%s: %w", position.UserID, position.InstrumentSymbol, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("persistence: commit: %w", err)
	}
	return Result{CommittedAt: time.Now()}, nil
}

func upsertOrder(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO orders (
			id, client_order_id, user_id, account_id, instrument_symbol,
			side, type, time_in_force, quantity, filled_quantity, price,
			status, priority, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO UPDATE SET
			filled_quantity = EXCLUDED.filled_quantity,
			status          = EXCLUDED.status,
			updated_at      = EXCLUDED.updated_at
	`,
		o.ID, o.ClientOrderID, o.UserID, o.AccountID, o.InstrumentSymbol,
		o.Side.String(), o.Type.String(), o.TimeInForce.String(),
		o.Quantity, o.FilledQuantity, priceParam(o.Price),
		o.Status.String(), o.Priority, o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func priceParam(p *decimal.D) any {
	if p == nil {
		return nil
	}
	return *p
}

func insertTrade(ctx context.Context, tx pgx.Tx, t *domain.Trade) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO trades (
			id, instrument_symbol, buy_order_id, sell_order_id,
			buyer_user_id, seller_user_id, quantity, price, executed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING
	`,
		t.ID, t.InstrumentSymbol, t.BuyOrderID, t.SellOrderID,
		t.BuyerUserID, t.SellerUserID, t.Quantity, t.Price, t.ExecutedAt,
	)
	return err
}

func applyBalanceDelta(ctx context.Context, tx pgx.Tx, d BalanceDelta) error {
	_, err := tx.Exec(ctx, `
		UPDATE balances SET
			available = available + $3,
			reserved  = reserved + $4,
			total     = total + $5
		WHERE account_id = $1 AND currency = $2
	`, d.AccountID, d.Currency, d.AvailableDelta, d.ReservedDelta, d.TotalDelta)
	return err
}

func upsertPosition(ctx context.Context, tx pgx.Tx, p *domain.Position) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO positions (
			user_id, instrument_symbol, quantity, average_price,
			unrealized_pnl, realized_pnl
		) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (user_id, instrument_symbol) DO UPDATE SET
			quantity       = EXCLUDED.quantity,
			average_price  = EXCLUDED.average_price,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			realized_pnl   = EXCLUDED.realized_pnl
	`, p.UserID, p.InstrumentSymbol, p.Quantity, p.AveragePrice, p.UnrealizedPnl, p.RealizedPnl)
	return err
}
