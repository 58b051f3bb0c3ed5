package feed

import (
	"context"
	"errors"
	"fmt"

	"fxsignal/internal/breaker"
	"fxsignal/internal/model"
)

type guarded struct {
	next Fetcher
	br   *breaker.Breaker
}

// WithBreaker puts a circuit breaker in front of f. Only transient errors
// count as failures, so one misconfigured pair cannot trip the breaker for
// every other pair. While open, calls fail fast with a transient error
// wrapping breaker.ErrOpen.
func WithBreaker(f Fetcher, br *breaker.Breaker) Fetcher {
	return &guarded{next: f, br: br}
}

func (g *guarded) Fetch(ctx context.Context, inst model.Instrument) (float64, error) {
	var (
		price     float64
		permanent error
	)
	err := g.br.Execute(func() error {
		p, err := g.next.Fetch(ctx, inst)
		if err != nil && !IsTransient(err) {
			permanent = err
			return nil
		}
		price = p
		return err
	})
	switch {
	case errors.Is(err, breaker.ErrOpen):
		return 0, Transient(fmt.Errorf("%s: %w", inst.Symbol, err))
	case err != nil:
		return 0, err
	case permanent != nil:
		return 0, permanent
	}
	return price, nil
}
