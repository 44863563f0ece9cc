package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPort struct {
	err error
}

func (p *stubPort) Commit(ctx context.Context, ws OrderWriteSet) (Result, error) {
	if p.err != nil {
		return Result{}, p.err
	}
	return Result{}, nil
}

func TestBreakerPort_PassesThroughSuccess(t *testing.T) {
	bp := NewBreakerPort("test", &stubPort{})
	_, err := bp.Commit(context.Background(), OrderWriteSet{})
	require.NoError(t, err)
}

func TestBreakerPort_PropagatesInnerError(t *testing.T) {
	inner := &stubPort{err: errors.New("boom")}
	bp := NewBreakerPort("test", inner)
	_, err := bp.Commit(context.Background(), OrderWriteSet{})
	assert.Error(t, err)
}
