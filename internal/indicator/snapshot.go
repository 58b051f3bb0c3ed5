package indicator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"fxsignal/internal/model"
)

// snapshotVersion is bumped when the snapshot layout changes incompatibly.
const snapshotVersion = 1

// InstrumentSnapshot holds the oscillator and history of one instrument.
type InstrumentSnapshot struct {
	Instrument string              `json:"instrument"`
	RSI        RSISnapshot         `json:"rsi"`
	History    []model.PriceSample `json:"history"`
}

// EngineSnapshot holds the full state of the oscillator engine.
type EngineSnapshot struct {
	Version     int                  `json:"version"`
	Period      int                  `json:"period"`
	HistorySize int                  `json:"history_size"`
	TakenAt     time.Time            `json:"taken_at"`
	Instruments []InstrumentSnapshot `json:"instruments"`
}

// Marshal encodes the snapshot as JSON.
func (es *EngineSnapshot) Marshal() ([]byte, error) {
	return json.Marshal(es)
}

// UnmarshalSnapshot decodes a JSON snapshot and checks its version.
func UnmarshalSnapshot(data []byte) (*EngineSnapshot, error) {
	var snap EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snap.Version, snapshotVersion)
	}
	return &snap, nil
}

// SnapshotEngine captures the full state of an Engine. Each instrument is
// locked while it is copied, so every entry is internally consistent.
func SnapshotEngine(e *Engine) *EngineSnapshot {
	snap := &EngineSnapshot{
		Version:     snapshotVersion,
		Period:      e.cfg.Period,
		HistorySize: e.cfg.HistorySize,
		TakenAt:     time.Now().UTC(),
	}
	for _, name := range e.Instruments() {
		is := e.lookup(name)
		if is == nil {
			continue // untracked between listing and lookup
		}
		is.mu.Lock()
		snap.Instruments = append(snap.Instruments, InstrumentSnapshot{
			Instrument: name,
			RSI:        is.rsi.Snapshot(),
			History:    is.history.Samples(),
		})
		is.mu.Unlock()
	}
	return snap
}

// RestoreEngine rebuilds an Engine from a snapshot.
// It is tolerant of config changes: when the snapshot's RSI state cannot be
// restored (different period, corrupt entry) the oscillator is rebuilt by
// replaying the snapshot's history window instead. A history window longer
// than the configured capacity keeps only its newest samples.
func RestoreEngine(cfg Config, snap *EngineSnapshot) (*Engine, error) {
	e, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return e, nil
	}

	restored, replayed := 0, 0
	for _, ins := range snap.Instruments {
		if ins.Instrument == "" {
			continue
		}
		is := e.newInstrumentState()

		history := ins.History
		if n := is.history.Cap(); len(history) > n {
			history = history[len(history)-n:]
		}

		if err := is.rsi.RestoreFromSnapshot(ins.RSI); err == nil {
			for _, s := range history {
				is.history.Push(s)
			}
			restored++
		} else {
			// Non-fatal: rebuild from the history window
			is.rsi = NewRSI(cfg.Period)
			for _, s := range history {
				if last, ok := is.history.Last(); ok && !s.TS.After(last.TS) {
					continue
				}
				if !validPrice(s.Price) {
					continue
				}
				is.history.Push(s)
				is.rsi.Update(s.Price)
			}
			replayed++
		}
		e.state[ins.Instrument] = is
	}

	if replayed > 0 {
		slog.Warn("snapshot accumulators rejected, rebuilt from history", "component", "restorer", "restored", restored, "rebuilt", replayed)
	}
	return e, nil
}
