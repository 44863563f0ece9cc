package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiputravu/fenrir-core/internal/book"
	"github.com/saiputravu/fenrir-core/internal/decimal"
	"github.com/saiputravu/fenrir-core/internal/domain"
)

func TestPublish_DeliversToSubscriber(t *testing.T) {
	p := NewPublisher(4)
	ch := p.Subscribe("BTC-USD", "sub-1")

	changes := []book.LevelChange{{Side: domain.Buy, Price: decimal.MustParse("100"), NewAggregateQuantity: decimal.MustParse("5"), NewOrderCount: 1}}
	p.Publish("BTC-USD", 1, changes)

	select {
	case delta := <-ch:
		assert.Equal(t, uint64(1), delta.Sequence)
		require.Len(t, delta.Levels, 1)
		assert.True(t, delta.Levels[0].Price.Equal(decimal.MustParse("100")))
	case <-time.After(time.Second):
		t.Fatal("expected a delta")
	}
}

func TestPublish_NoSubscribersIsNoOp(t *testing.T) {
	p := NewPublisher(4)
	assert.NotPanics(t, func() {
		p.Publish("BTC-USD", 1, []book.LevelChange{{Price: decimal.MustParse("1")}})
	})
}

func TestPublish_DropsSlowSubscriberRatherThanBlocking(t *testing.T) {
	p := NewPublisher(1)
	ch := p.Subscribe("BTC-USD", "slow")

	change := []book.LevelChange{{Price: decimal.MustParse("1"), NewAggregateQuantity: decimal.MustParse("1")}}
	p.Publish("BTC-USD", 1, change) // fills the 1-slot buffer
	p.Publish("BTC-USD", 2, change) // must drop, not block

	_, open := <-ch
	assert.True(t, open, "the first buffered delta is still readable")
	_, open = <-ch
	assert.False(t, open, "the channel is closed once the subscriber falls behind")
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	p := NewPublisher(4)
	ch := p.Subscribe("BTC-USD", "sub-1")
	p.Unsubscribe("BTC-USD", "sub-1")

	_, open := <-ch
	assert.False(t, open)
}
