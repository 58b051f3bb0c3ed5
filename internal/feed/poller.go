package feed

import (
	"context"
	"log/slog"
	"time"

	"fxsignal/internal/markethours"
	"fxsignal/internal/model"
)

// PollerConfig configures a Poller.
type PollerConfig struct {
	Instruments  []model.Instrument
	Interval     time.Duration
	EnforceHours bool // skip polling while the FX market is closed
}

// Poller fetches every instrument once per interval and emits samples with
// strictly increasing timestamps per instrument.
type Poller struct {
	fetcher Fetcher
	cfg     PollerConfig
	logger  *slog.Logger
	now     func() time.Time
	last    map[string]time.Time

	// OnFetch is called after every fetch attempt.
	OnFetch func(instrument string, elapsed time.Duration, err error)
	// OnSkip is called for every tick skipped because the market is closed.
	OnSkip func()
}

// NewPoller creates a poller. A nil logger uses slog.Default().
func NewPoller(f Fetcher, cfg PollerConfig, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		fetcher: f,
		cfg:     cfg,
		logger:  log.With("component", "poller"),
		now:     time.Now,
		last:    make(map[string]time.Time, len(cfg.Instruments)),
	}
}

// SetClock replaces the time source used for sample timestamps and the
// market-hours check.
func (p *Poller) SetClock(now func() time.Time) {
	p.now = now
}

// Run polls immediately and then on every interval tick, sending samples to
// out. It returns ctx.Err() when the context is cancelled. out is not closed.
func (p *Poller) Run(ctx context.Context, out chan<- model.PriceSample) error {
	p.logger.Info("poller started",
		"instruments", len(p.cfg.Instruments),
		"interval", p.cfg.Interval,
		"enforce_hours", p.cfg.EnforceHours,
	)
	if err := p.Poll(ctx, out); err != nil {
		return err
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Poll(ctx, out); err != nil {
				return err
			}
		}
	}
}

// Poll runs a single polling round. Fetch failures are logged and the pair
// is skipped; only context cancellation is returned.
func (p *Poller) Poll(ctx context.Context, out chan<- model.PriceSample) error {
	now := p.now()
	if p.cfg.EnforceHours && !markethours.IsMarketOpen(now) {
		p.logger.Debug("market closed, skipping poll", "status", markethours.StatusString(now))
		if p.OnSkip != nil {
			p.OnSkip()
		}
		return nil
	}

	for _, inst := range p.cfg.Instruments {
		start := time.Now()
		price, err := p.fetcher.Fetch(ctx, inst)
		if p.OnFetch != nil {
			p.OnFetch(inst.Symbol, time.Since(start), err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("fetch failed",
				"instrument", inst.Symbol,
				"transient", IsTransient(err),
				"error", err,
			)
			continue
		}

		s := model.PriceSample{Instrument: inst.Symbol, TS: p.stamp(inst.Symbol), Price: price}
		p.logger.Debug("sample", "instrument", s.Instrument, "price", s.Price)
		select {
		case out <- s:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// stamp returns the current time, bumped past the previous stamp for the
// instrument when the clock has not advanced.
func (p *Poller) stamp(instrument string) time.Time {
	ts := p.now().UTC()
	if prev, ok := p.last[instrument]; ok && !ts.After(prev) {
		ts = prev.Add(time.Nanosecond)
	}
	p.last[instrument] = ts
	return ts
}
