package inference

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when the channel-scoped gate has no token.
var ErrRateLimited = errors.New("inference: rate limited")

// Guarded wraps a Client with a circuit breaker and a token-bucket gate.
// Repeated failures open the breaker so a dead endpoint stops costing a
// timeout per tick; the gate keeps the call rate within the paid budget.
type Guarded struct {
	inner Client
	cb    *gobreaker.CircuitBreaker
	gate  *rate.Limiter
}

func NewGuarded(inner Client, rps float64, burst int) *Guarded {
	settings := gobreaker.Settings{
		Name:        "inference",
		MaxRequests: 1,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Inference breaker state change")
		},
	}
	return &Guarded{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(settings),
		gate:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (g *Guarded) Predict(ctx context.Context, req *Request) (*Response, error) {
	if !g.gate.Allow() {
		return nil, ErrRateLimited
	}

	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.inner.Predict(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Response), nil
}
