package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"

	"github.com/saiputravu/fenrir-core/internal/decimal"
	"github.com/saiputravu/fenrir-core/internal/domain"
	"github.com/saiputravu/fenrir-core/internal/engine"
	"github.com/saiputravu/fenrir-core/internal/persistence"
)

type fakePort struct {
	mu       sync.Mutex
	commits  int
	failNext bool
}

func (f *fakePort) Commit(ctx context.Context, ws persistence.OrderWriteSet) (persistence.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return persistence.Result{}, assert.AnError
	}
	f.commits++
	return persistence.Result{CommittedAt: time.Now()}, nil
}

func testInstrument(symbol string) *domain.Instrument {
	return &domain.Instrument{
		Symbol:      symbol,
		QuoteCcy:    "USD",
		MinPrice:    decimal.MustParse("0.01"),
		MaxPrice:    decimal.MustParse("100000"),
		TickSize:    decimal.MustParse("0.01"),
		LotSize:     decimal.MustParse("0.0001"),
		MinQuantity: decimal.MustParse("0.0001"),
		MaxQuantity: decimal.MustParse("100000"),
		IsActive:    true,
	}
}

func newTestExecutor(t *testing.T) (*Executor, *engine.Engine, *fakePort, func()) {
	t.Helper()
	eng := engine.New()
	eng.RegisterInstrument(testInstrument("BTC-USD"))
	port := &fakePort{}
	exec := New("BTC-USD", eng, port, nil, time.Second)

	var tb tomb.Tomb
	tb.Go(func() error { return exec.Run(&tb) })
	stop := func() {
		tb.Kill(nil)
		_ = tb.Wait()
	}
	return exec, eng, port, stop
}

func noopBuild(order *domain.Order, trades []*domain.Trade) persistence.OrderWriteSet {
	return persistence.OrderWriteSet{UpsertOrders: []*domain.Order{order}}
}

func limitOrder(side domain.Side, userID, price, qty string) *domain.Order {
	p := decimal.MustParse(price)
	return &domain.Order{
		ID:               domain.OrderID(userID + "-" + price + "-" + qty),
		UserID:           userID,
		AccountID:        userID,
		InstrumentSymbol: "BTC-USD",
		Side:             side,
		Type:             domain.Limit,
		TimeInForce:      domain.GTC,
		Quantity:         decimal.MustParse(qty),
		Price:            &p,
	}
}

func TestSubmit_RestsAndCommits(t *testing.T) {
	exec, _, port, stop := newTestExecutor(t)
	defer stop()

	outcome, err := exec.Submit(context.Background(), limitOrder(domain.Buy, "u1", "100", "1"), noopBuild)
	require.NoError(t, err)
	assert.Equal(t, domain.Working, outcome.Order.Status)

	port.mu.Lock()
	defer port.mu.Unlock()
	assert.Equal(t, 1, port.commits)
}

func TestSubmit_MatchesRestingOrder(t *testing.T) {
	exec, _, _, stop := newTestExecutor(t)
	defer stop()

	_, err := exec.Submit(context.Background(), limitOrder(domain.Sell, "maker", "100", "1"), noopBuild)
	require.NoError(t, err)

	outcome, err := exec.Submit(context.Background(), limitOrder(domain.Buy, "taker", "100", "1"), noopBuild)
	require.NoError(t, err)
	require.Len(t, outcome.Trades, 1)
	assert.Equal(t, domain.Filled, outcome.Order.Status)
}

func TestCancel_RemovesRestingOrder(t *testing.T) {
	exec, eng, _, stop := newTestExecutor(t)
	defer stop()

	order := limitOrder(domain.Buy, "u1", "100", "1")
	_, err := exec.Submit(context.Background(), order, noopBuild)
	require.NoError(t, err)

	outcome, err := exec.Cancel(context.Background(), order.ID, noopBuild)
	require.NoError(t, err)
	assert.Equal(t, order.ID, outcome.Order.ID)

	ob, _, err := eng.ResolveBook("BTC-USD")
	require.NoError(t, err)
	_, found := ob.GetOrder(order.ID)
	assert.False(t, found)
}

func TestSubmit_RollsBackBookOnCommitFailure(t *testing.T) {
	exec, eng, port, stop := newTestExecutor(t)
	defer stop()

	order := limitOrder(domain.Buy, "u1", "100", "1")
	port.failNext = true
	_, err := exec.Submit(context.Background(), order, noopBuild)
	require.Error(t, err)

	ob, _, err := eng.ResolveBook("BTC-USD")
	require.NoError(t, err)
	_, found := ob.GetOrder(order.ID)
	assert.False(t, found, "the resting remainder must be rolled back when its commit fails")
}

func TestModify_RollsBackOnCommitFailure(t *testing.T) {
	exec, eng, port, stop := newTestExecutor(t)
	defer stop()

	order := limitOrder(domain.Buy, "u1", "100", "1")
	_, err := exec.Submit(context.Background(), order, noopBuild)
	require.NoError(t, err)

	newPrice := decimal.MustParse("101")
	port.failNext = true
	_, err = exec.Modify(context.Background(), order.ID, &newPrice, decimal.MustParse("2"), noopBuild)
	require.Error(t, err)

	ob, _, err := eng.ResolveBook("BTC-USD")
	require.NoError(t, err)
	restored, found := ob.GetOrder(order.ID)
	require.True(t, found, "the order must still be resting after a failed modify")
	assert.True(t, restored.Price.Equal(decimal.MustParse("100")), "price must be reverted")
	assert.True(t, restored.RemainingQty.Equal(decimal.MustParse("1")), "quantity must be reverted")
}

func TestSubmit_RollsBackMatchedMakerOnCommitFailure(t *testing.T) {
	exec, eng, port, stop := newTestExecutor(t)
	defer stop()

	maker := limitOrder(domain.Sell, "maker", "100", "1")
	_, err := exec.Submit(context.Background(), maker, noopBuild)
	require.NoError(t, err)

	port.failNext = true
	taker := limitOrder(domain.Buy, "taker", "100", "1")
	_, err = exec.Submit(context.Background(), taker, noopBuild)
	require.Error(t, err)

	ob, _, err := eng.ResolveBook("BTC-USD")
	require.NoError(t, err)
	_, found := ob.GetOrder(maker.ID)
	if !found {
		// The maker was fully consumed, so rollback re-adds a fresh order
		// at the same price/quantity rather than the same id.
		level, ok := ob.BestLevel(domain.Sell)
		require.True(t, ok, "a replacement resting order must exist after rollback")
		assert.True(t, level.Price.Equal(decimal.MustParse("100")))
		assert.True(t, level.TotalQuantity.Equal(decimal.MustParse("1")))
	}
}
