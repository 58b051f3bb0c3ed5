package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fxsignal/internal/model"
)

// Restorer orchestrates oscillator engine state restoration on startup and
// periodic checkpointing while running. The restore priority chain is:
// snapshot → archived samples → cold start.
type Restorer struct {
	cfg    Config
	store  model.SnapshotStore // optional
	reader model.SampleReader  // optional
	logger *slog.Logger

	// OnCheckpoint is called after every periodic or final checkpoint
	// (optional, for metrics).
	OnCheckpoint func(err error)
}

// NewRestorer creates a Restorer. store and reader may be nil.
func NewRestorer(cfg Config, store model.SnapshotStore, reader model.SampleReader, logger *slog.Logger) *Restorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Restorer{cfg: cfg, store: store, reader: reader, logger: logger.With("component", "restorer")}
}

// Restore builds an engine for the given instruments. It restores the
// latest snapshot when one exists, then replays archived samples newer than
// what the snapshot covered.
func (r *Restorer) Restore(instruments []string) (*Engine, error) {
	snap, err := r.latestSnapshot()
	if err != nil {
		r.logger.Warn("snapshot unavailable, cold starting", "error", err)
	}

	e, err := RestoreEngine(r.cfg, snap)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		r.logger.Info("restored oscillator engine from snapshot",
			"taken_at", snap.TakenAt, "instruments", len(snap.Instruments), "period", snap.Period)
	}

	// Drop instruments that are no longer configured
	wanted := make(map[string]bool, len(instruments))
	for _, inst := range instruments {
		wanted[inst] = true
	}
	for _, inst := range e.Instruments() {
		if !wanted[inst] {
			e.Untrack(inst)
		}
	}
	e.Track(instruments...)

	if n := r.Backfill(e, instruments); n > 0 {
		r.logger.Info("backfilled archived samples", "samples", n)
	}
	return e, nil
}

// Backfill feeds archived samples into every instrument. Samples at or
// before an instrument's last sample are skipped, so after a snapshot
// restore only the samples archived since the checkpoint are replayed.
// Returns the number of samples applied.
func (r *Restorer) Backfill(e *Engine, instruments []string) int {
	if r.reader == nil {
		return 0
	}
	total := 0
	for _, inst := range instruments {
		samples, err := r.reader.ReadRecentSamples(inst, r.cfg.capacity())
		if err != nil {
			r.logger.Warn("read archived samples failed", "instrument", inst, "error", err)
			continue
		}
		fed := 0
		for _, s := range samples {
			if _, err := e.Update(s); err != nil {
				continue // already covered by the restored window
			}
			fed++
		}
		total += fed
		if fed > 0 {
			r.logger.Debug("backfilled instrument", "instrument", inst, "samples", fed)
		}
	}
	return total
}

// Checkpoint persists a snapshot of the engine.
func (r *Restorer) Checkpoint(e *Engine) error {
	if r.store == nil {
		return nil
	}
	data, err := SnapshotEngine(e).Marshal()
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return r.store.SaveSnapshotJSON(data)
}

// RunCheckpoints snapshots the engine every interval and once more on
// shutdown. Blocks until ctx is cancelled.
func (r *Restorer) RunCheckpoints(ctx context.Context, e *Engine, interval time.Duration) {
	if r.store == nil || interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.checkpoint(e, "final checkpoint failed")
			return
		case <-ticker.C:
			r.checkpoint(e, "checkpoint failed")
		}
	}
}

func (r *Restorer) checkpoint(e *Engine, failMsg string) {
	err := r.Checkpoint(e)
	if err != nil {
		r.logger.Error(failMsg, "error", err)
	}
	if r.OnCheckpoint != nil {
		r.OnCheckpoint(err)
	}
}

func (r *Restorer) latestSnapshot() (*EngineSnapshot, error) {
	if r.store == nil {
		return nil, nil
	}
	data, err := r.store.ReadLatestSnapshotJSON()
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return UnmarshalSnapshot(data)
}
