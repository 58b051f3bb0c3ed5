package indicator

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"fxsignal/internal/model"
	"fxsignal/internal/ringbuf"
)

// Config sizes the oscillator and its history window.
type Config struct {
	Period      int // RSI lookback in price deltas
	HistorySize int // samples retained per instrument; raised to Period+1 if smaller
}

func (c Config) validate() error {
	if c.Period < 2 {
		return fmt.Errorf("%w: period %d < 2", ErrInvalidConfig, c.Period)
	}
	if c.HistorySize < 0 {
		return fmt.Errorf("%w: history size %d < 0", ErrInvalidConfig, c.HistorySize)
	}
	return nil
}

func (c Config) capacity() int {
	if c.HistorySize < c.Period+1 {
		return c.Period + 1
	}
	return c.HistorySize
}

// State is the oscillator reading for one instrument.
type State struct {
	Instrument string    `json:"instrument"`
	Value      float64   `json:"value"`
	Sufficient bool      `json:"sufficient_history"`
	Deltas     int       `json:"deltas"`
	Samples    int       `json:"samples"`
	LastPrice  float64   `json:"last_price"`
	LastTS     time.Time `json:"last_ts"`
}

// instrumentState is the history and oscillator of one instrument.
// mu serializes every read and mutation of both.
type instrumentState struct {
	mu      sync.Mutex
	history *ringbuf.Ring
	rsi     *RSI
}

func (is *instrumentState) stateLocked(instrument string) State {
	st := State{
		Instrument: instrument,
		Value:      NeutralValue,
		Sufficient: is.rsi.Ready(),
		Deltas:     is.rsi.Deltas(),
		Samples:    is.history.Len(),
	}
	if st.Sufficient {
		st.Value = is.rsi.Value()
	}
	if last, ok := is.history.Last(); ok {
		st.LastPrice = last.Price
		st.LastTS = last.TS
	}
	return st
}

// Engine computes the oscillator for many instruments.
// Safe for concurrent use; updates to the same instrument are serialized.
type Engine struct {
	cfg Config

	mu    sync.RWMutex
	state map[string]*instrumentState
}

// NewEngine creates an oscillator engine. It fails on an invalid config
// rather than substituting defaults.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:   cfg,
		state: make(map[string]*instrumentState, 8),
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Period returns the oscillator period.
func (e *Engine) Period() int { return e.cfg.Period }

// Track registers instruments ahead of their first sample so they are
// listed by Instruments. Already tracked instruments are left alone.
func (e *Engine) Track(instruments ...string) {
	for _, inst := range instruments {
		e.getOrCreate(inst)
	}
}

// Update validates the sample, appends it to the instrument's history and
// recomputes the oscillator. A rejected sample leaves history and
// oscillator untouched.
func (e *Engine) Update(s model.PriceSample) (State, error) {
	if err := ValidateSample(s); err != nil {
		return State{}, err
	}

	is := e.getOrCreate(s.Instrument)
	is.mu.Lock()
	defer is.mu.Unlock()

	if last, ok := is.history.Last(); ok && !s.TS.After(last.TS) {
		return State{}, fmt.Errorf("%w: %s sample at %s is not after %s",
			ErrInvalidSample, s.Instrument, s.TS.Format(time.RFC3339Nano), last.TS.Format(time.RFC3339Nano))
	}

	is.history.Push(s)
	is.rsi.Update(s.Price)
	return is.stateLocked(s.Instrument), nil
}

// Peek returns the oscillator value the instrument would have if price
// arrived next. Does NOT mutate state.
func (e *Engine) Peek(instrument string, price float64) (float64, error) {
	if !validPrice(price) {
		return 0, fmt.Errorf("%w: price %v", ErrInvalidSample, price)
	}
	is := e.lookup(instrument)
	if is == nil {
		return 0, fmt.Errorf("%w: %s not tracked", ErrInsufficientHistory, instrument)
	}
	is.mu.Lock()
	defer is.mu.Unlock()
	if is.rsi.Deltas()+1 < e.cfg.Period {
		return 0, fmt.Errorf("%w: %s has %d of %d deltas", ErrInsufficientHistory, instrument, is.rsi.Deltas(), e.cfg.Period)
	}
	return is.rsi.Peek(price), nil
}

// State returns the current oscillator reading for an instrument.
func (e *Engine) State(instrument string) (State, bool) {
	is := e.lookup(instrument)
	if is == nil {
		return State{}, false
	}
	is.mu.Lock()
	defer is.mu.Unlock()
	return is.stateLocked(instrument), true
}

// States returns the readings of all tracked instruments, sorted by instrument.
func (e *Engine) States() []State {
	names := e.Instruments()
	out := make([]State, 0, len(names))
	for _, name := range names {
		if st, ok := e.State(name); ok {
			out = append(out, st)
		}
	}
	return out
}

// History returns a copy of the instrument's price window, oldest first.
func (e *Engine) History(instrument string) []model.PriceSample {
	is := e.lookup(instrument)
	if is == nil {
		return nil
	}
	is.mu.Lock()
	defer is.mu.Unlock()
	return is.history.Samples()
}

// Instruments returns the tracked instruments in sorted order.
func (e *Engine) Instruments() []string {
	e.mu.RLock()
	names := make([]string, 0, len(e.state))
	for k := range e.state {
		names = append(names, k)
	}
	e.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Untrack discards all state for an instrument. Returns false if it was not tracked.
func (e *Engine) Untrack(instrument string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.state[instrument]; !ok {
		return false
	}
	delete(e.state, instrument)
	return true
}

func (e *Engine) lookup(instrument string) *instrumentState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state[instrument]
}

func (e *Engine) getOrCreate(instrument string) *instrumentState {
	if is := e.lookup(instrument); is != nil {
		return is
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if is, ok := e.state[instrument]; ok {
		return is
	}
	is := e.newInstrumentState()
	e.state[instrument] = is
	return is
}

func (e *Engine) newInstrumentState() *instrumentState {
	return &instrumentState{
		history: ringbuf.New(e.cfg.capacity()),
		rsi:     NewRSI(e.cfg.Period),
	}
}

// ValidateSample checks a sample without touching engine state.
func ValidateSample(s model.PriceSample) error {
	if s.Instrument == "" {
		return fmt.Errorf("%w: missing instrument", ErrInvalidSample)
	}
	if s.TS.IsZero() {
		return fmt.Errorf("%w: %s missing timestamp", ErrInvalidSample, s.Instrument)
	}
	if !validPrice(s.Price) {
		return fmt.Errorf("%w: %s price %v", ErrInvalidSample, s.Instrument, s.Price)
	}
	return nil
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}
