package notification

import (
	"fmt"
	"strings"
	"time"

	"fxsignal/internal/model"
	"fxsignal/internal/report"
)

// TradeOpenedAlert describes the virtual position a decision opened.
func TradeOpenedAlert(d model.Decision) Alert {
	p := d.Proposal
	var b strings.Builder
	fmt.Fprintf(&b, "Direction: %s\n", p.Direction)
	fmt.Fprintf(&b, "Entry: %.5f\n", p.EntryPrice)
	fmt.Fprintf(&b, "Units: %.2f\n", p.UnitSize)
	fmt.Fprintf(&b, "Target: %.5f\n", p.TargetPrice)
	fmt.Fprintf(&b, "Stop: %.5f\n", p.StopPrice)
	fmt.Fprintf(&b, "RSI: %.1f (%s)\n", d.Oscillator, d.Reason)
	fmt.Fprintf(&b, "Time: %s", d.TS.UTC().Format("2006-01-02 15:04:05 UTC"))
	return Alert{
		Level:      AlertInfo,
		Title:      "Trade opened",
		Message:    b.String(),
		Instrument: d.Instrument,
	}
}

// TradeClosedAlert describes the virtual position a decision closed. Losing
// trades are raised at warning level.
func TradeClosedAlert(d model.Decision) Alert {
	e := d.Exit
	level := AlertInfo
	title := "Trade closed (win)"
	if e.PnL < 0 {
		level = AlertWarning
		title = "Trade closed (loss)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Direction: %s\n", e.Direction)
	fmt.Fprintf(&b, "Entry: %.5f\n", e.EntryPrice)
	fmt.Fprintf(&b, "Exit: %.5f\n", e.ExitPrice)
	fmt.Fprintf(&b, "P&L: %+.2f (%+.2f%%)\n", e.PnL, e.PnLPct)
	fmt.Fprintf(&b, "Duration: %.1f min\n", e.ClosedAt.Sub(e.OpenedAt).Minutes())
	fmt.Fprintf(&b, "Reason: %s", e.Reason)
	return Alert{
		Level:      level,
		Title:      title,
		Message:    b.String(),
		Instrument: d.Instrument,
	}
}

// SignalChangedAlert reports a transition between classified signals.
func SignalChangedAlert(d model.Decision) Alert {
	return Alert{
		Level:      AlertInfo,
		Title:      "Signal changed",
		Message:    fmt.Sprintf("%s -> %s at %.5f (RSI %.1f)", d.PreviousSignal, d.Signal, d.Price, d.Oscillator),
		Instrument: d.Instrument,
	}
}

// SessionSummaryAlert reports the closed-trade statistics of a session.
// A session that lost money is raised at warning level.
func SessionSummaryAlert(s report.Stats, capital float64, at time.Time) Alert {
	level := AlertInfo
	if s.TotalPnL < 0 {
		level = AlertWarning
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\n", at.UTC().Format("2006-01-02"))
	fmt.Fprintf(&b, "Starting capital: %.2f\n", capital)
	fmt.Fprintf(&b, "Ending capital: %.2f\n", capital+s.TotalPnL)
	fmt.Fprintf(&b, "Total return: %+.2f (%+.2f%%)\n", s.TotalPnL, s.ReturnPct)
	fmt.Fprintf(&b, "Trades: %d\n", s.Trades)
	fmt.Fprintf(&b, "Wins: %d (%.1f%%)\n", s.Wins, s.WinRate)
	fmt.Fprintf(&b, "Losses: %d\n", s.Losses)
	fmt.Fprintf(&b, "Avg win: %+.2f\n", s.AvgWin)
	fmt.Fprintf(&b, "Avg loss: %+.2f", s.AvgLoss)
	return Alert{
		Level:   level,
		Title:   "Session summary",
		Message: b.String(),
	}
}
