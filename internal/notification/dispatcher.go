package notification

import (
	"context"
	"log/slog"
	"time"

	"fxsignal/internal/model"
)

const sendTimeout = 15 * time.Second

// Dispatcher turns decisions into alerts: a closed position first, then a
// newly opened one, so a reversal reads in order.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger

	// SignalChanges also alerts on every BUY/SELL/HOLD transition.
	SignalChanges bool
	// OnSent is called after every delivery attempt.
	OnSent func(alert Alert, err error)
}

// NewDispatcher creates a dispatcher. A nil logger uses slog.Default().
func NewDispatcher(n Notifier, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{notifier: n, logger: log.With("component", "notify")}
}

// Alerts returns the alerts a decision produces, in delivery order.
func (d *Dispatcher) Alerts(dec model.Decision) []Alert {
	var out []Alert
	if dec.Exit != nil {
		out = append(out, TradeClosedAlert(dec))
	}
	if dec.Opened && dec.Proposal != nil {
		out = append(out, TradeOpenedAlert(dec))
	}
	if d.SignalChanges && dec.Changed() {
		out = append(out, SignalChangedAlert(dec))
	}
	return out
}

// Run delivers alerts for every decision read from ch until ctx is
// cancelled or ch closes. Delivery failures are logged, never fatal.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan model.Decision) {
	for {
		select {
		case <-ctx.Done():
			return
		case dec, ok := <-ch:
			if !ok {
				return
			}
			for _, a := range d.Alerts(dec) {
				d.send(ctx, a)
			}
		}
	}
}

// Notify delivers a single alert outside the decision stream, such as the
// session summary at shutdown.
func (d *Dispatcher) Notify(ctx context.Context, a Alert) {
	d.send(ctx, a)
}

func (d *Dispatcher) send(ctx context.Context, a Alert) {
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	err := d.notifier.Send(sctx, a)
	if err != nil {
		d.logger.Warn("alert delivery failed", "title", a.Title, "instrument", a.Instrument, "error", err)
	}
	if d.OnSent != nil {
		d.OnSent(a, err)
	}
}
