package indicator

import (
	"math"
	"testing"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period3(t *testing.T) {
	// Prices: 10, 11, 12, 11, 13
	// Deltas: +1, +1, -1, +2
	// Seed after 4 prices: avgGain = 2/3, avgLoss = 1/3 → RS = 2 → RSI = 66.6667
	// Wilder step:        avgGain = (2/3*2 + 2)/3 = 10/9, avgLoss = (1/3*2)/3 = 2/9 → RS = 5 → RSI = 83.3333
	rsi := NewRSI(3)
	prices := []float64{10, 11, 12, 11, 13}
	ready := []bool{false, false, false, true, true}
	expected := []float64{NeutralValue, NeutralValue, NeutralValue, 66.666667, 83.333333}

	for i, p := range prices {
		rsi.Update(p)
		if rsi.Ready() != ready[i] {
			t.Errorf("price %d: Ready()=%v, want %v", i, rsi.Ready(), ready[i])
		}
		assertClose(t, "RSI(3)", rsi.Value(), expected[i], 0.0001)
	}
	if rsi.Deltas() != 4 {
		t.Errorf("expected 4 deltas, got %d", rsi.Deltas())
	}
}

func TestRSI_AllGains(t *testing.T) {
	rsi := NewRSI(14)
	for i := 0; i < 20; i++ {
		rsi.Update(1.0 + float64(i)*0.001)
	}
	assertClose(t, "all gains", rsi.Value(), 100, 1e-9)
}

func TestRSI_AllLosses(t *testing.T) {
	rsi := NewRSI(14)
	for i := 0; i < 20; i++ {
		rsi.Update(2.0 - float64(i)*0.001)
	}
	assertClose(t, "all losses", rsi.Value(), 0, 1e-9)
}

func TestRSI_Bounded(t *testing.T) {
	rsi := NewRSI(5)
	price := 1.0850
	// Deterministic zig-zag with drift and occasional jumps
	for i := 0; i < 500; i++ {
		step := 0.0004 * float64((i*7)%11-5)
		if i%37 == 0 {
			step *= -4
		}
		price += step
		if price <= 0 {
			price = 0.5
		}
		rsi.Update(price)
		if v := rsi.Value(); v < 0 || v > 100 {
			t.Fatalf("update %d: RSI %.4f out of [0,100]", i, v)
		}
	}
}

func TestRSI_RespondsToSustainedMoves(t *testing.T) {
	rsi := NewRSI(14)
	price := 1.1000
	for i := 0; i < 30; i++ {
		price += 0.0001 * float64(1+i%3) * float64(1-2*(i%2)) // choppy, roughly flat
		rsi.Update(price)
	}

	// Sustained rise: each new value must be at least the previous one
	prev := rsi.Value()
	for i := 0; i < 30; i++ {
		price += 0.0005
		rsi.Update(price)
		if rsi.Value() < prev {
			t.Fatalf("rise %d: RSI fell from %.4f to %.4f", i, prev, rsi.Value())
		}
		prev = rsi.Value()
	}
	if prev < 90 {
		t.Errorf("after sustained rise expected RSI > 90, got %.4f", prev)
	}

	// Sustained fall drives it the other way
	for i := 0; i < 60; i++ {
		price -= 0.0005
		rsi.Update(price)
		if rsi.Value() > prev {
			t.Fatalf("fall %d: RSI rose from %.4f to %.4f", i, prev, rsi.Value())
		}
		prev = rsi.Value()
	}
	if prev > 10 {
		t.Errorf("after sustained fall expected RSI < 10, got %.4f", prev)
	}
}

func TestRSI_Continuous(t *testing.T) {
	// A single small move must not make the smoothed value jump.
	rsi := NewRSI(14)
	price := 1.2650
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			price += 0.0003
		} else {
			price -= 0.0002
		}
		rsi.Update(price)
	}
	before := rsi.Value()
	rsi.Update(price + 0.0001)
	if math.Abs(rsi.Value()-before) > 5 {
		t.Errorf("RSI jumped from %.4f to %.4f on a tiny move", before, rsi.Value())
	}
}

func TestRSI_PeekMatchesUpdate(t *testing.T) {
	rsi := NewRSI(3)
	for _, p := range []float64{10, 11, 12} {
		rsi.Update(p)
	}

	// Peek on the price that completes the seed window
	peek := rsi.Peek(11)
	rsi.Update(11)
	assertClose(t, "seed peek", peek, rsi.Value(), 1e-9)

	// Peek in the smoothing phase
	peek = rsi.Peek(13)
	before := rsi.Value()
	assertClose(t, "peek must not mutate", rsi.Value(), before, 0)
	rsi.Update(13)
	assertClose(t, "smoothing peek", peek, rsi.Value(), 1e-9)
}

func TestRSI_SnapshotRoundTrip(t *testing.T) {
	rsi := NewRSI(14)
	prices := []float64{1.10, 1.11, 1.105, 1.12, 1.118, 1.121, 1.119, 1.13, 1.128, 1.125, 1.131, 1.14, 1.135, 1.138, 1.142, 1.139, 1.145}
	for _, p := range prices {
		rsi.Update(p)
	}

	rsi2 := NewRSI(14)
	if err := rsi2.RestoreFromSnapshot(rsi.Snapshot()); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if rsi.Value() != rsi2.Value() || rsi.Ready() != rsi2.Ready() {
		t.Fatalf("restored state differs: %.6f/%v vs %.6f/%v", rsi.Value(), rsi.Ready(), rsi2.Value(), rsi2.Ready())
	}

	for _, p := range []float64{1.15, 1.147, 1.152} {
		rsi.Update(p)
		rsi2.Update(p)
		assertClose(t, "post-restore", rsi2.Value(), rsi.Value(), 1e-10)
	}
}

func TestRSI_RestoreRejectsPeriodMismatch(t *testing.T) {
	rsi := NewRSI(14)
	if err := rsi.RestoreFromSnapshot(RSISnapshot{Period: 9}); err == nil {
		t.Fatal("expected error restoring a period-9 snapshot into RSI(14)")
	}
}
