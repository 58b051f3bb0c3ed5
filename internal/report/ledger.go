// Package report renders decision tables and the session trade ledger.
package report

import (
	"sync"
	"time"

	"fxsignal/internal/model"
)

// Trade is one closed virtual position.
type Trade struct {
	Instrument string
	Direction  model.Action
	Reason     model.ExitReason
	EntryPrice float64
	ExitPrice  float64
	UnitSize   float64
	PnL        float64
	PnLPct     float64
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// Stats summarizes the closed trades of a session. Figures are per
// position; open positions are not marked to market.
type Stats struct {
	Trades    int
	Wins      int
	Losses    int
	WinRate   float64 // percent
	AvgWin    float64
	AvgLoss   float64 // negative or zero
	TotalPnL  float64
	ReturnPct float64 // TotalPnL over starting capital, percent
}

// Ledger records closed virtual positions. Safe for concurrent use.
type Ledger struct {
	capital float64

	mu     sync.Mutex
	trades []Trade
}

// NewLedger creates a ledger measured against the starting capital.
func NewLedger(capital float64) *Ledger {
	return &Ledger{capital: capital}
}

// Record adds the exit carried by d, if any. Returns true when a trade was
// recorded.
func (l *Ledger) Record(d model.Decision) bool {
	if d.Exit == nil {
		return false
	}
	e := d.Exit
	l.mu.Lock()
	l.trades = append(l.trades, Trade{
		Instrument: d.Instrument,
		Direction:  e.Direction,
		Reason:     e.Reason,
		EntryPrice: e.EntryPrice,
		ExitPrice:  e.ExitPrice,
		UnitSize:   e.UnitSize,
		PnL:        e.PnL,
		PnLPct:     e.PnLPct,
		OpenedAt:   e.OpenedAt,
		ClosedAt:   e.ClosedAt,
	})
	l.mu.Unlock()
	return true
}

// Trades returns a copy of the recorded trades in close order.
func (l *Ledger) Trades() []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Stats computes the session statistics. A break-even trade counts as
// neither a win nor a loss.
func (l *Ledger) Stats() Stats {
	trades := l.Trades()
	s := Stats{Trades: len(trades)}
	var sumWin, sumLoss float64
	for _, t := range trades {
		s.TotalPnL += t.PnL
		switch {
		case t.PnL > 0:
			s.Wins++
			sumWin += t.PnL
		case t.PnL < 0:
			s.Losses++
			sumLoss += t.PnL
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
	}
	if s.Wins > 0 {
		s.AvgWin = sumWin / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = sumLoss / float64(s.Losses)
	}
	if l.capital > 0 {
		s.ReturnPct = s.TotalPnL / l.capital * 100
	}
	return s
}
