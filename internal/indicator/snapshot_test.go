package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxsignal/internal/model"
)

func feed(t *testing.T, e *Engine, inst string, from int, prices []float64) {
	t.Helper()
	for i, p := range prices {
		_, err := e.Update(priceSample(inst, from+i, p))
		require.NoError(t, err)
	}
}

func wave(n int, base float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = base + 0.002*math.Sin(float64(i)/3) + 0.0001*float64(i%4)
	}
	return out
}

func TestSnapshot_RoundTrip(t *testing.T) {
	cfg := Config{Period: 14, HistorySize: 30}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	feed(t, e, "EURUSD", 0, wave(40, 1.085))
	feed(t, e, "GBPUSD", 0, wave(8, 1.265))

	data, err := SnapshotEngine(e).Marshal()
	require.NoError(t, err)

	snap, err := UnmarshalSnapshot(data)
	require.NoError(t, err)
	restored, err := RestoreEngine(cfg, snap)
	require.NoError(t, err)

	assert.Equal(t, e.Instruments(), restored.Instruments())
	for _, inst := range e.Instruments() {
		want, _ := e.State(inst)
		got, _ := restored.State(inst)
		assert.Equal(t, want.Sufficient, got.Sufficient, inst)
		assert.InDelta(t, want.Value, got.Value, 1e-12, inst)
		assert.Equal(t, len(e.History(inst)), len(restored.History(inst)), inst)
	}

	// Both engines must produce identical results going forward
	next := wave(50, 1.085)[40:]
	for i, p := range next {
		a, err := e.Update(priceSample("EURUSD", 40+i, p))
		require.NoError(t, err)
		b, err := restored.Update(priceSample("EURUSD", 40+i, p))
		require.NoError(t, err)
		assert.InDelta(t, a.Value, b.Value, 1e-10)
	}
}

func TestSnapshot_PeriodChangeReplaysHistory(t *testing.T) {
	e, err := NewEngine(Config{Period: 14, HistorySize: 40})
	require.NoError(t, err)
	prices := wave(40, 1.085)
	feed(t, e, "EURUSD", 0, prices)

	snap := SnapshotEngine(e)
	restored, err := RestoreEngine(Config{Period: 5, HistorySize: 40}, snap)
	require.NoError(t, err)

	// Same result as a fresh period-5 engine fed the same window
	fresh, err := NewEngine(Config{Period: 5, HistorySize: 40})
	require.NoError(t, err)
	feed(t, fresh, "EURUSD", 0, prices)

	want, _ := fresh.State("EURUSD")
	got, _ := restored.State("EURUSD")
	assert.True(t, got.Sufficient)
	assert.InDelta(t, want.Value, got.Value, 1e-10)
}

func TestSnapshot_TrimsHistoryToCapacity(t *testing.T) {
	e, err := NewEngine(Config{Period: 3, HistorySize: 20})
	require.NoError(t, err)
	feed(t, e, "EURUSD", 0, wave(20, 1.1))

	restored, err := RestoreEngine(Config{Period: 3, HistorySize: 5}, SnapshotEngine(e))
	require.NoError(t, err)
	h := restored.History("EURUSD")
	require.Len(t, h, 5)
	assert.Equal(t, e.History("EURUSD")[15:], h)
}

func TestUnmarshalSnapshot_RejectsUnknownVersion(t *testing.T) {
	_, err := UnmarshalSnapshot([]byte(`{"version":99}`))
	assert.Error(t, err)
	_, err = UnmarshalSnapshot([]byte(`not json`))
	assert.Error(t, err)
}

func TestRestoreEngine_NilSnapshot(t *testing.T) {
	e, err := RestoreEngine(Config{Period: 14}, nil)
	require.NoError(t, err)
	assert.Empty(t, e.Instruments())
}

var _ model.SnapshotStore = (*memStore)(nil)
