package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saiputravu/fenrir-core/internal/domain"
)

func TestOrderWriteSet_EmptyWhenNoFields(t *testing.T) {
	assert.True(t, OrderWriteSet{}.Empty())
}

func TestOrderWriteSet_NotEmptyWithAnyField(t *testing.T) {
	assert.False(t, OrderWriteSet{UpsertOrders: []*domain.Order{{}}}.Empty())
	assert.False(t, OrderWriteSet{InsertTrades: []*domain.Trade{{}}}.Empty())
	assert.False(t, OrderWriteSet{BalanceDeltas: []BalanceDelta{{}}}.Empty())
	assert.False(t, OrderWriteSet{PositionUpserts: []*domain.Position{{}}}.Empty())
}
