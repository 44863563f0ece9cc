package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiputravu/fenrir-core/internal/decimal"
	"github.com/saiputravu/fenrir-core/internal/domain"
)

func d(s string) decimal.D { return decimal.MustParse(s) }

func newTestOrder(id string, side domain.Side, price, qty string, priority uint64) *domain.OrderBookOrder {
	return &domain.OrderBookOrder{
		ID:               domain.OrderID(id),
		UserID:           "user-" + id,
		Side:             side,
		Price:            d(price),
		RemainingQty:     d(qty),
		Priority:         priority,
		InstrumentSymbol: "BTC-USD",
	}
}

func TestAddOrder_SortsLevelsByPrice(t *testing.T) {
	ob := New("BTC-USD")

	ob.AddOrder(newTestOrder("b1", domain.Buy, "99", "10", 1))
	ob.AddOrder(newTestOrder("b2", domain.Buy, "100", "5", 2))
	ob.AddOrder(newTestOrder("a1", domain.Sell, "102", "5", 3))
	ob.AddOrder(newTestOrder("a2", domain.Sell, "101", "5", 4))

	snap := ob.Snapshot()
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 2)

	assert.True(t, snap.Bids[0].Price.Equal(d("100")), "best bid is the highest price")
	assert.True(t, snap.Bids[1].Price.Equal(d("99")))
	assert.True(t, snap.Asks[0].Price.Equal(d("101")), "best ask is the lowest price")
	assert.True(t, snap.Asks[1].Price.Equal(d("102")))
}

func TestAddOrder_SamePriceIsFIFO(t *testing.T) {
	ob := New("BTC-USD")
	ob.AddOrder(newTestOrder("b1", domain.Buy, "100", "10", 1))
	ob.AddOrder(newTestOrder("b2", domain.Buy, "100", "5", 2))
	ob.AddOrder(newTestOrder("b3", domain.Buy, "100", "7", 3))

	orders, ok := ob.OrdersAtPrice(domain.Buy, d("100"))
	require.True(t, ok)
	require.Len(t, orders, 3)
	assert.Equal(t, domain.OrderID("b1"), orders[0].ID)
	assert.Equal(t, domain.OrderID("b2"), orders[1].ID)
	assert.Equal(t, domain.OrderID("b3"), orders[2].ID)
	assert.True(t, orders[0].RemainingQty.Add(orders[1].RemainingQty).Add(orders[2].RemainingQty).Equal(d("22")))
}

func TestRemoveOrder_DeletesEmptyLevel(t *testing.T) {
	ob := New("BTC-USD")
	ob.AddOrder(newTestOrder("b1", domain.Buy, "100", "10", 1))

	removed, change, ok := ob.RemoveOrder("b1")
	require.True(t, ok)
	assert.Equal(t, domain.OrderID("b1"), removed.ID)
	assert.True(t, decimal.IsZero(change.NewAggregateQuantity))
	assert.Equal(t, 0, change.NewOrderCount)

	_, ok = ob.BestBid()
	assert.False(t, ok, "level must be gone once its last order is removed")
	assert.NoError(t, ob.ValidateIntegrity())
}

func TestConsume_PartialLeavesOrderResting(t *testing.T) {
	ob := New("BTC-USD")
	ob.AddOrder(newTestOrder("a1", domain.Sell, "100", "10", 1))

	consumed, change, err := ob.Consume("a1", d("4"))
	require.NoError(t, err)
	assert.False(t, consumed)
	assert.True(t, change.NewAggregateQuantity.Equal(d("6")))

	order, ok := ob.GetOrder("a1")
	require.True(t, ok)
	assert.True(t, order.RemainingQty.Equal(d("6")))
}

func TestConsume_FullRemovesOrder(t *testing.T) {
	ob := New("BTC-USD")
	ob.AddOrder(newTestOrder("a1", domain.Sell, "100", "10", 1))

	consumed, _, err := ob.Consume("a1", d("10"))
	require.NoError(t, err)
	assert.True(t, consumed)
	_, ok := ob.GetOrder("a1")
	assert.False(t, ok)
}

func TestConsume_RejectsOverConsumption(t *testing.T) {
	ob := New("BTC-USD")
	ob.AddOrder(newTestOrder("a1", domain.Sell, "100", "10", 1))

	_, _, err := ob.Consume("a1", d("11"))
	assert.Error(t, err)
}

func TestUpdateOrderQuantity_PreservesFIFOPosition(t *testing.T) {
	ob := New("BTC-USD")
	ob.AddOrder(newTestOrder("b1", domain.Buy, "100", "10", 1))
	ob.AddOrder(newTestOrder("b2", domain.Buy, "100", "5", 2))

	change, ok := ob.UpdateOrderQuantity("b1", d("3"))
	require.True(t, ok)
	assert.True(t, change.NewAggregateQuantity.Equal(d("8")))

	orders, _ := ob.OrdersAtPrice(domain.Buy, d("100"))
	require.Len(t, orders, 2)
	assert.Equal(t, domain.OrderID("b1"), orders[0].ID, "quantity decrease must not move the order in its queue")
}

func TestNextLevel_SweepsDeeper(t *testing.T) {
	ob := New("BTC-USD")
	ob.AddOrder(newTestOrder("a1", domain.Sell, "100", "10", 1))
	ob.AddOrder(newTestOrder("a2", domain.Sell, "101", "10", 2))
	ob.AddOrder(newTestOrder("a3", domain.Sell, "102", "10", 3))

	first, ok := ob.BestLevel(domain.Sell)
	require.True(t, ok)
	assert.True(t, first.Price.Equal(d("100")))

	next, ok := ob.NextLevel(domain.Sell, first.Price)
	require.True(t, ok)
	assert.True(t, next.Price.Equal(d("101")))

	last, ok := ob.NextLevel(domain.Sell, next.Price)
	require.True(t, ok)
	assert.True(t, last.Price.Equal(d("102")))

	_, ok = ob.NextLevel(domain.Sell, last.Price)
	assert.False(t, ok)
}

func TestSpreadAndMidPrice(t *testing.T) {
	ob := New("BTC-USD")
	ob.AddOrder(newTestOrder("b1", domain.Buy, "99", "10", 1))
	ob.AddOrder(newTestOrder("a1", domain.Sell, "101", "10", 2))

	spread, ok := ob.Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(d("2")))

	mid, ok := ob.MidPrice()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("100")))
}

func TestValidateIntegrity_SequenceIncrementsOnEveryMutation(t *testing.T) {
	ob := New("BTC-USD")
	assert.Equal(t, uint64(0), ob.Sequence())
	ob.AddOrder(newTestOrder("b1", domain.Buy, "100", "10", 1))
	assert.Equal(t, uint64(1), ob.Sequence())
	ob.RemoveOrder("b1")
	assert.Equal(t, uint64(2), ob.Sequence())
	assert.NoError(t, ob.ValidateIntegrity())
}
