package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerPort wraps a Port so that a string of transient commit
// failures (a flaky database connection, a saturated pool) trips the
// breaker and fails fast instead of piling up retries against a
// struggling backend. Grounded on sony/gobreaker as used in
// abdoElHodaky-tradSys's resilience package.
type BreakerPort struct {
	inner Port
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerPort wraps inner with a breaker named for the instrument
// or subsystem it protects, so OnStateChange logs are attributable.
func NewBreakerPort(name string, inner Port) *BreakerPort {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("persistence circuit breaker state change")
		},
	}
	return &BreakerPort{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerPort) Commit(ctx context.Context, ws OrderWriteSet) (Result, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.inner.Commit(ctx, ws)
	})
	if err != nil {
		return Result{}, fmt.Errorf("persistence: breaker %s: %w", b.cb.Name(), err)
	}
	result, ok := out.(Result)
	if !ok {
		return Result{}, fmt.Errorf("persistence: breaker %s: unexpected result type", b.cb.Name())
	}
	return result, nil
}
