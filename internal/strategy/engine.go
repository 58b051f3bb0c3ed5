// Package strategy turns oscillator readings into trading decisions.
//
// The Engine runs one evaluation cycle per price sample:
// history update → oscillator recompute → classification → sizing → exit
// evaluation, and emits a model.Decision record for each cycle. Cycles of
// the same instrument are serialized; different instruments run in parallel.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"fxsignal/internal/indicator"
	"fxsignal/internal/logger"
	"fxsignal/internal/model"
	"fxsignal/internal/portfolio"
)

// ReasonWarmingUp tags the HOLD record emitted before sufficient history.
const ReasonWarmingUp = "warming_up"

// Config holds the decision policy.
type Config struct {
	Thresholds     Thresholds
	Risk           portfolio.RiskParameters
	TrackPositions bool // open a virtual position from each proposal and evaluate exits
}

// track is the per-instrument state owned by the Engine. mu is held for a
// whole evaluation cycle.
type track struct {
	mu      sync.Mutex
	prev    model.Action
	pos     *portfolio.Position
	retired bool // set by Untrack once the track has left the map
}

// Engine evaluates price samples into decisions.
type Engine struct {
	osc    *indicator.Engine
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	tracks map[string]*track

	// OnError is called for every rejected sample (optional, for metrics).
	OnError func(instrument string, err error)
	// OnEvaluate is called with the duration of every cycle run by Run.
	OnEvaluate func(instrument string, elapsed time.Duration)
}

// NewEngine validates the policy and creates an Engine around an oscillator
// engine. Invalid thresholds or risk parameters fail construction.
func NewEngine(osc *indicator.Engine, cfg Config, log *slog.Logger) (*Engine, error) {
	if osc == nil {
		return nil, errors.New("strategy: nil oscillator engine")
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		osc:    osc,
		cfg:    cfg,
		logger: log.With("component", "strategy"),
		tracks: make(map[string]*track, 8),
	}, nil
}

// Config returns the decision policy.
func (e *Engine) Config() Config { return e.cfg }

// Oscillators returns the underlying oscillator engine.
func (e *Engine) Oscillators() *indicator.Engine { return e.osc }

// Evaluate runs one cycle for a sample. On error the instrument's state is
// left unchanged. While the oscillator is warming up the record is a HOLD
// with Sufficient=false and reason "warming_up"; no proposal is made.
func (e *Engine) Evaluate(ctx context.Context, s model.PriceSample) (model.Decision, error) {
	if err := indicator.ValidateSample(s); err != nil {
		return model.Decision{}, err
	}

	tr := e.acquire(s.Instrument)
	defer tr.mu.Unlock()

	st, err := e.osc.Update(s)
	if err != nil {
		return model.Decision{}, err
	}

	d := model.Decision{
		Instrument:     s.Instrument,
		TS:             s.TS,
		Price:          s.Price,
		Oscillator:     st.Value,
		Sufficient:     st.Sufficient,
		PreviousSignal: tr.prev,
		TraceID:        logger.GenerateTraceID(s.Instrument, s.TS),
	}
	ctx = logger.WithTraceID(ctx, d.TraceID)

	sig, err := ClassifyState(st, e.cfg.Thresholds)
	switch {
	case errors.Is(err, indicator.ErrInsufficientHistory):
		sig = model.Signal{Action: model.ActionHold, Reason: ReasonWarmingUp}
	case err != nil:
		return model.Decision{}, err
	}
	d.Signal, d.Reason = sig.Action, sig.Reason

	var proposal *model.TradeProposal
	if st.Sufficient && sig.Action.Actionable() {
		p, err := portfolio.Size(s.Instrument, sig.Action, s.Price, e.cfg.Risk)
		if err != nil {
			return model.Decision{}, fmt.Errorf("size %s: %w", s.Instrument, err)
		}
		proposal = &p
		d.Proposal = proposal
	}

	// Past this point nothing can fail, so the track may be mutated.
	if e.cfg.TrackPositions {
		if tr.pos != nil {
			if ex := tr.pos.EvaluateExit(s.Price, sig.Action, s.TS); ex.Close {
				d.Exit = tr.pos.ExitEvent()
				e.logger.InfoContext(ctx, "position closed", append(logger.LogWithTrace(ctx),
					"instrument", s.Instrument, "direction", d.Exit.Direction, "reason", d.Exit.Reason,
					"entry", d.Exit.EntryPrice, "exit", d.Exit.ExitPrice, "pnl", d.Exit.PnL)...)
				tr.pos = nil
			}
		}
		if tr.pos == nil && proposal != nil {
			tr.pos = portfolio.Open(*proposal, s.TS)
			d.Opened = true
			e.logger.InfoContext(ctx, "position opened", append(logger.LogWithTrace(ctx),
				"instrument", s.Instrument, "direction", proposal.Direction, "entry", proposal.EntryPrice,
				"units", proposal.UnitSize, "target", proposal.TargetPrice, "stop", proposal.StopPrice)...)
		}
	}
	tr.prev = sig.Action

	e.logger.DebugContext(ctx, "cycle", append(logger.LogWithTrace(ctx),
		"instrument", s.Instrument, "price", s.Price, "oscillator", st.Value,
		"sufficient", st.Sufficient, "signal", d.Signal, "reason", d.Reason)...)
	return d, nil
}

// Run consumes samples and emits one decision per accepted sample.
// Each instrument gets its own worker so cycles of one pair stay ordered
// while pairs proceed in parallel. Rejected samples are logged and skipped.
// Blocks until ctx is cancelled or sampleCh is closed.
func (e *Engine) Run(ctx context.Context, sampleCh <-chan model.PriceSample, out chan<- model.Decision) {
	workers := make(map[string]chan model.PriceSample)
	var wg sync.WaitGroup
	defer func() {
		for _, ch := range workers {
			close(ch)
		}
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-sampleCh:
			if !ok {
				return
			}
			ch, exists := workers[s.Instrument]
			if !exists {
				ch = make(chan model.PriceSample, 64)
				workers[s.Instrument] = ch
				wg.Add(1)
				go e.worker(ctx, ch, out, &wg)
			}
			select {
			case ch <- s:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *Engine) worker(ctx context.Context, in <-chan model.PriceSample, out chan<- model.Decision, wg *sync.WaitGroup) {
	defer wg.Done()
	for s := range in {
		start := time.Now()
		d, err := e.Evaluate(ctx, s)
		if e.OnEvaluate != nil {
			e.OnEvaluate(s.Instrument, time.Since(start))
		}
		if err != nil {
			e.logger.Warn("sample rejected", "instrument", s.Instrument, "price", s.Price, "ts", s.TS, "error", err)
			if e.OnError != nil {
				e.OnError(s.Instrument, err)
			}
			continue
		}
		select {
		case out <- d:
		case <-ctx.Done():
			return
		}
	}
}

// Untrack discards all per-instrument state: oscillator history, previous
// signal and any open virtual position. It waits for an in-flight cycle on
// the instrument and holds the track lock until the oscillator is dropped,
// so no cycle can interleave. Returns false if nothing was tracked.
func (e *Engine) Untrack(instrument string) bool {
	tr := e.lookup(instrument)
	if tr != nil {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		e.mu.Lock()
		if e.tracks[instrument] == tr {
			delete(e.tracks, instrument)
		}
		e.mu.Unlock()
		tr.retired = true
	}
	removed := e.osc.Untrack(instrument)
	if tr != nil || removed {
		e.logger.Info("instrument untracked", "instrument", instrument)
	}
	return tr != nil || removed
}

// PreviousSignal returns the last signal emitted for an instrument.
func (e *Engine) PreviousSignal(instrument string) (model.Action, bool) {
	tr := e.lookup(instrument)
	if tr == nil {
		return "", false
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.prev, tr.prev != ""
}

// OpenPositions returns copies of all open virtual positions, sorted by instrument.
func (e *Engine) OpenPositions() []portfolio.Position {
	e.mu.RLock()
	trs := make([]*track, 0, len(e.tracks))
	for _, tr := range e.tracks {
		trs = append(trs, tr)
	}
	e.mu.RUnlock()

	var out []portfolio.Position
	for _, tr := range trs {
		tr.mu.Lock()
		if tr.pos != nil {
			out = append(out, *tr.pos)
		}
		tr.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

func (e *Engine) lookup(instrument string) *track {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tracks[instrument]
}

// acquire returns the instrument's live track with its lock held. A track
// retired by Untrack while we waited is skipped.
func (e *Engine) acquire(instrument string) *track {
	for {
		tr := e.getOrCreate(instrument)
		tr.mu.Lock()
		if !tr.retired {
			return tr
		}
		tr.mu.Unlock()
	}
}

func (e *Engine) getOrCreate(instrument string) *track {
	if tr := e.lookup(instrument); tr != nil {
		return tr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if tr, ok := e.tracks[instrument]; ok {
		return tr
	}
	tr := &track{}
	e.tracks[instrument] = tr
	return tr
}
