// Package indicator maintains per-instrument price history and the momentum
// oscillator computed from it.
//
// Oscillators are fed one price at a time and update in O(1). The Engine
// owns one history window and one oscillator per instrument and serializes
// access per instrument, so different pairs can be updated concurrently.
package indicator

// Oscillator is a streaming momentum indicator.
type Oscillator interface {
	// Name returns the indicator name (e.g., "RSI").
	Name() string

	// Update feeds the next price and recalculates.
	Update(price float64)

	// Value returns the current value. Returns the neutral value until Ready.
	Value() float64

	// Ready returns true when enough prices have been accumulated.
	Ready() bool

	// Peek computes what Value() would be if price were fed next,
	// WITHOUT mutating internal state.
	Peek(price float64) float64
}
