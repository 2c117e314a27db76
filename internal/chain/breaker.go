package chain

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// Breaker guards a client with a circuit breaker so an unreachable endpoint
// fails attempts immediately while open.
type Breaker struct {
	Client
	cb *gobreaker.CircuitBreaker
}

// NewBreaker wraps c. The breaker trips after failures consecutive errors and
// half-opens after open.
func NewBreaker(c Client, failures uint32, open time.Duration, logger *slog.Logger) *Breaker {
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:        "chain-" + c.Network(),
		MaxRequests: 1,
		Timeout:     open,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("chain breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{Client: c, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Balance(ctx context.Context, assetID, wallet string) (decimal.Decimal, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.Client.Balance(ctx, assetID, wallet)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (b *Breaker) SignAndBroadcast(ctx context.Context, t Transfer) (Receipt, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.Client.SignAndBroadcast(ctx, t)
	})
	if err != nil {
		return Receipt{}, err
	}
	return v.(Receipt), nil
}
