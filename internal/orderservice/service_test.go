package orderservice

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
	"github.com/saiputravu/fenrir-core/internal/executor"
	"github.com/saiputravu/fenrir-core/internal/persistence"
)

// fakePort is an in-memory persistence.Port; failNext makes the next
// Commit call fail once, to exercise the rollback path.
type fakePort struct {
	mu       sync.Mutex
	writes   []persistence.OrderWriteSet
	failNext bool
}

func (f *fakePort) Commit(ctx context.Context, ws persistence.OrderWriteSet) (persistence.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return persistence.Result{}, assert.AnError
	}
	f.writes = append(f.writes, ws)
	return persistence.Result{CommittedAt: time.Now()}, nil
}

func testInstrument(symbol string) *domain.Instrument {
	return &domain.Instrument{
		Symbol:      symbol,
		QuoteCcy:    "USD",
		MinPrice:    decimal.MustParse("0.01"),
		MaxPrice:    decimal.MustParse("1000000"),
		TickSize:    decimal.MustParse("0.01"),
		LotSize:     decimal.MustParse("0.0001"),
		MinQuantity: decimal.MustParse("0.0001"),
		MaxQuantity: decimal.MustParse("1000000"),
		IsActive:    true,
	}
}

// newTestService wires a Service against a single instrument with a
// live executor running inside a tomb, backed by fakePort.
func newTestService(t *testing.T) (*Service, *fakePort, func()) {
	t.Helper()
	eng := engine.New()
	inst := testInstrument("BTC-USD")
	eng.RegisterInstrument(inst)

	port := &fakePort{}
	exec := executor.New(inst.Symbol, eng, port, nil, time.Second)
	var tb tomb.Tomb
	tb.Go(func() error { return exec.Run(&tb) })

	ledger := NewLedger()
	svc := New(eng, map[string]*executor.Executor{inst.Symbol: exec}, ledger, time.Second)

	stop := func() {
		tb.Kill(nil)
		_ = tb.Wait()
	}
	return svc, port, stop
}

func seedUSD(t *testing.T, svc *Service, accountID string, amount string) {
	t.Helper()
	svc.ledger.SeedBalance(&domain.Balance{
		AccountID: accountID,
		Currency:  "USD",
		Total:     decimal.MustParse(amount),
		Available: decimal.MustParse(amount),
	})
}

func seedBase(t *testing.T, svc *Service, accountID, symbol, amount string) {
	t.Helper()
	svc.ledger.SeedBalance(&domain.Balance{
		AccountID: accountID,
		Currency:  symbol,
		Total:     decimal.MustParse(amount),
		Available: decimal.MustParse(amount),
	})
}

func TestPlaceOrder_RejectsInvalidShape(t *testing.T) {
	svc, _, stop := newTestService(t)
	defer stop()

	_, _, err := svc.PlaceOrder(context.Background(), PlacementRequest{
		ClientOrderID:    "c1",
		UserID:           "u1",
		AccountID:        "a1",
		InstrumentSymbol: "BTC-USD",
		Side:             "SIDEWAYS",
		Type:             "LIMIT",
		Quantity:         "1",
		Price:            "100",
	})
	require.Error(t, err)
	rej, ok := err.(*domain.RejectError)
	require.True(t, ok)
	assert.Equal(t, domain.InvalidOrder, rej.Kind)
}

func TestPlaceOrder_RejectsInsufficientBalance(t *testing.T) {
	svc, _, stop := newTestService(t)
	defer stop()
	seedUSD(t, svc, "a1", "10")

	_, _, err := svc.PlaceOrder(context.Background(), PlacementRequest{
		ClientOrderID:    "c1",
		UserID:           "u1",
		AccountID:        "a1",
		InstrumentSymbol: "BTC-USD",
		Side:             "BUY",
		Type:             "LIMIT",
		TimeInForce:      "GTC",
		Quantity:         "1",
		Price:            "100",
	})
	require.Error(t, err)
	rej, ok := err.(*domain.RejectError)
	require.True(t, ok)
	assert.Equal(t, domain.InsufficientBalance, rej.Kind)
}

func TestPlaceOrder_RestsWhenNoCounterparty(t *testing.T) {
	svc, port, stop := newTestService(t)
	defer stop()
	seedUSD(t, svc, "a1", "1000")

	order, trades, err := svc.PlaceOrder(context.Background(), PlacementRequest{
		ClientOrderID:    "c1",
		UserID:           "u1",
		AccountID:        "a1",
		InstrumentSymbol: "BTC-USD",
		Side:             "BUY",
		Type:             "LIMIT",
		TimeInForce:      "GTC",
		Quantity:         "1",
		Price:            "100",
	})
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.Equal(t, domain.Working, order.Status)

	port.mu.Lock()
	defer port.mu.Unlock()
	require.Len(t, port.writes, 1)
	require.Len(t, port.writes[0].UpsertOrders, 1)
}

func TestPlaceOrder_MatchesAndSettlesBothLegs(t *testing.T) {
	svc, _, stop := newTestService(t)
	defer stop()
	seedUSD(t, svc, "buyerAcct", "1000")
	seedBase(t, svc, "sellerAcct", "BTC-USD", "10")

	_, _, err := svc.PlaceOrder(context.Background(), PlacementRequest{
		ClientOrderID:    "sell-1",
		UserID:           "seller",
		AccountID:        "sellerAcct",
		InstrumentSymbol: "BTC-USD",
		Side:             "SELL",
		Type:             "LIMIT",
		TimeInForce:      "GTC",
		Quantity:         "1",
		Price:            "100",
	})
	require.NoError(t, err)

	order, trades, err := svc.PlaceOrder(context.Background(), PlacementRequest{
		ClientOrderID:    "buy-1",
		UserID:           "buyer",
		AccountID:        "buyerAcct",
		InstrumentSymbol: "BTC-USD",
		Side:             "BUY",
		Type:             "LIMIT",
		TimeInForce:      "GTC",
		Quantity:         "1",
		Price:            "100",
	})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.Filled, order.Status)

	buyerPosition := svc.ledger.Position("buyer", "BTC-USD")
	assert.True(t, buyerPosition.Quantity.Equal(decimal.MustParse("1")))
	sellerPosition := svc.ledger.Position("seller", "BTC-USD")
	assert.True(t, sellerPosition.Quantity.Equal(decimal.MustParse("-1")))
}

func TestPlaceOrder_IdempotentOnRepeatedClientOrderID(t *testing.T) {
	svc, _, stop := newTestService(t)
	defer stop()
	seedUSD(t, svc, "a1", "1000")

	req := PlacementRequest{
		ClientOrderID:    "dup-1",
		UserID:           "u1",
		AccountID:        "a1",
		InstrumentSymbol: "BTC-USD",
		Side:             "BUY",
		Type:             "LIMIT",
		TimeInForce:      "GTC",
		Quantity:         "1",
		Price:            "100",
	}
	first, _, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	second, trades, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, trades)
	assert.Equal(t, first.ID, second.ID)
}

func TestCancelOrder_ReleasesReservation(t *testing.T) {
	svc, _, stop := newTestService(t)
	defer stop()
	seedUSD(t, svc, "a1", "1000")

	order, _, err := svc.PlaceOrder(context.Background(), PlacementRequest{
		ClientOrderID:    "c1",
		UserID:           "u1",
		AccountID:        "a1",
		InstrumentSymbol: "BTC-USD",
		Side:             "BUY",
		Type:             "LIMIT",
		TimeInForce:      "GTC",
		Quantity:         "1",
		Price:            "100",
	})
	require.NoError(t, err)

	before := svc.ledger.Balance("a1", "USD")
	assert.True(t, before.Reserved.Equal(decimal.MustParse("100")))

	err = svc.CancelOrder(context.Background(), "BTC-USD", order.ID, "u1")
	require.NoError(t, err)

	after := svc.ledger.Balance("a1", "USD")
	assert.True(t, after.Reserved.IsZero())
	assert.True(t, after.Available.Equal(decimal.MustParse("1000")))
}

func TestCancelOrder_WrongUserRejected(t *testing.T) {
	svc, _, stop := newTestService(t)
	defer stop()
	seedUSD(t, svc, "a1", "1000")

	order, _, err := svc.PlaceOrder(context.Background(), PlacementRequest{
		ClientOrderID:    "c1",
		UserID:           "u1",
		AccountID:        "a1",
		InstrumentSymbol: "BTC-USD",
		Side:             "BUY",
		Type:             "LIMIT",
		TimeInForce:      "GTC",
		Quantity:         "1",
		Price:            "100",
	})
	require.NoError(t, err)

	err = svc.CancelOrder(context.Background(), "BTC-USD", order.ID, "u2")
	require.Error(t, err)
	rej, ok := err.(*domain.RejectError)
	require.True(t, ok)
	assert.Equal(t, domain.OrderNotFound, rej.Kind)

	after := svc.ledger.Balance("a1", "USD")
	assert.True(t, after.Reserved.Equal(decimal.MustParse("100")))
}

func TestPlaceOrder_TransientCommitFailureReleasesReservation(t *testing.T) {
	svc, port, stop := newTestService(t)
	defer stop()
	seedUSD(t, svc, "a1", "1000")
	port.failNext = true

	_, _, err := svc.PlaceOrder(context.Background(), PlacementRequest{
		ClientOrderID:    "c1",
		UserID:           "u1",
		AccountID:        "a1",
		InstrumentSymbol: "BTC-USD",
		Side:             "BUY",
		Type:             "LIMIT",
		TimeInForce:      "GTC",
		Quantity:         "1",
		Price:            "100",
	})
	require.Error(t, err)

	balance := svc.ledger.Balance("a1", "USD")
	assert.True(t, balance.Reserved.IsZero())
	assert.True(t, balance.Available.Equal(decimal.MustParse("1000")))
}
