package indicator

import "fmt"

// NeutralValue is reported by an oscillator that is still warming up.
// Callers must not act on it.
const NeutralValue = 50.0

var _ Oscillator = (*RSI)(nil)

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// The first period deltas seed the averages with a simple mean; every later
// delta is folded in as avg = (avg*(period-1) + x) / period.
// Update is O(1) per price with no history scans.
type RSI struct {
	period    int
	count     int // prices seen
	prevPrice float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period, current: NeutralValue}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Period() int { return r.period }

func (r *RSI) Update(price float64) {
	r.count++

	if r.count == 1 {
		// First price: just record it, no delta yet
		r.prevPrice = price
		return
	}

	gain, loss := split(price - r.prevPrice)
	r.prevPrice = price

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiValue(r.avgGain, r.avgLoss)
		}
		return
	}

	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiValue(r.avgGain, r.avgLoss)
}

func (r *RSI) Value() float64 { return r.current }

// Ready reports whether period deltas (period+1 prices) have been seen.
func (r *RSI) Ready() bool { return r.count > r.period }

// Deltas returns the number of price deltas folded in so far.
func (r *RSI) Deltas() int {
	if r.count == 0 {
		return 0
	}
	return r.count - 1
}

// Peek computes what RSI would be with an additional price without mutating state.
func (r *RSI) Peek(price float64) float64 {
	if r.count < r.period {
		return r.current
	}
	gain, loss := split(price - r.prevPrice)
	if r.count == r.period {
		// This price would complete the seed window.
		return rsiValue((r.avgGain+gain)/float64(r.period), (r.avgLoss+loss)/float64(r.period))
	}
	p := float64(r.period)
	return rsiValue((r.avgGain*(p-1)+gain)/p, (r.avgLoss*(p-1)+loss)/p)
}

// RSISnapshot is the serialized state of an RSI instance.
type RSISnapshot struct {
	Period    int     `json:"period"`
	Count     int     `json:"count"`
	PrevPrice float64 `json:"prev_price"`
	AvgGain   float64 `json:"avg_gain"`
	AvgLoss   float64 `json:"avg_loss"`
	Current   float64 `json:"current"`
}

// Snapshot serializes the RSI state for checkpoint persistence.
func (r *RSI) Snapshot() RSISnapshot {
	return RSISnapshot{
		Period:    r.period,
		Count:     r.count,
		PrevPrice: r.prevPrice,
		AvgGain:   r.avgGain,
		AvgLoss:   r.avgLoss,
		Current:   r.current,
	}
}

// RestoreFromSnapshot restores RSI state from a checkpoint. The snapshot must
// have been taken with the same period.
func (r *RSI) RestoreFromSnapshot(snap RSISnapshot) error {
	if snap.Period != r.period {
		return fmt.Errorf("rsi restore: snapshot period %d, want %d", snap.Period, r.period)
	}
	if snap.Count < 0 || snap.Current < 0 || snap.Current > 100 {
		return fmt.Errorf("rsi restore: corrupt snapshot (count=%d current=%.4f)", snap.Count, snap.Current)
	}
	r.count = snap.Count
	r.prevPrice = snap.PrevPrice
	r.avgGain = snap.AvgGain
	r.avgLoss = snap.AvgLoss
	r.current = snap.Current
	return nil
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// rsiValue maps the smoothed averages to [0,100]. Zero losses map to 100,
// zero gains to 0, and a flat window (both zero) to 100 as well.
func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
