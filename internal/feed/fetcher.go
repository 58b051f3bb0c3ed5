// Package feed fetches spot FX quotes from HTTP rate providers (or a
// simulated random walk) and turns them into a strictly ordered stream of
// model.PriceSample values.
package feed

import (
	"context"
	"errors"
	"fmt"
	"math"

	"fxsignal/internal/model"
)

// Fetcher returns the current quote for one instrument.
type Fetcher interface {
	Fetch(ctx context.Context, inst model.Instrument) (float64, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, inst model.Instrument) (float64, error)

func (f FetcherFunc) Fetch(ctx context.Context, inst model.Instrument) (float64, error) {
	return f(ctx, inst)
}

var (
	// ErrNoRate means the provider answered but had no quote for the pair.
	ErrNoRate = errors.New("feed: rate not found")
	// ErrInvalidRate means the provider returned a non-positive or non-finite quote.
	ErrInvalidRate = errors.New("feed: invalid rate")
)

// TransientError marks a failure worth retrying: timeouts, connection
// errors, 5xx and rate-limit responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func checkRate(inst model.Instrument, rate float64) (float64, error) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return 0, fmt.Errorf("%s: %w: %v", inst.Symbol, ErrInvalidRate, rate)
	}
	return rate, nil
}
