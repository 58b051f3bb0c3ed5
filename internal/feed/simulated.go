package feed

import (
	"context"
	"math/rand"
	"sync"

	"fxsignal/internal/model"
)

// Simulation defaults.
const (
	DefaultVolatility = 0.0005
	DefaultDrift      = 0.00001
	SpikeProbability  = 0.1
	SpikeMultiplier   = 3
)

var startPrices = map[string]float64{
	"EURUSD": 1.0850,
	"GBPUSD": 1.2650,
	"USDJPY": 149.50,
}

// Simulated is a random-walk quote source. Each call moves the pair's price
// by a normal step with the configured volatility, and with probability
// SpikeProbability adds a second step three times as wide.
type Simulated struct {
	mu     sync.Mutex
	rng    *rand.Rand
	vol    float64
	drift  float64
	prices map[string]float64
}

// NewSimulated creates a simulated fetcher. vol <= 0 uses DefaultVolatility.
func NewSimulated(seed int64, vol float64) *Simulated {
	if vol <= 0 {
		vol = DefaultVolatility
	}
	return &Simulated{
		rng:    rand.New(rand.NewSource(seed)),
		vol:    vol,
		drift:  DefaultDrift,
		prices: make(map[string]float64),
	}
}

func (s *Simulated) Fetch(ctx context.Context, inst model.Instrument) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[inst.Symbol]
	if !ok {
		price, ok = startPrices[inst.Symbol]
		if !ok {
			price = 1.0
		}
	}

	next := price * (1 + s.drift + s.rng.NormFloat64()*s.vol)
	if s.rng.Float64() < SpikeProbability {
		next *= 1 + s.rng.NormFloat64()*s.vol*SpikeMultiplier
	}
	if next <= 0 {
		next = price
	}
	s.prices[inst.Symbol] = next
	return next, nil
}
