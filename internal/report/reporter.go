package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"fxsignal/internal/model"
)

// Reporter prints one table per evaluation cycle and keeps the session
// ledger. A cycle ends when an instrument repeats or the flush timer fires.
type Reporter struct {
	out   io.Writer
	quiet bool

	ledger  *Ledger
	started time.Time
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]model.Decision
	cycles  int
	signals map[model.Action]int
}

// New creates a Reporter writing to out. With quiet set the per-cycle
// tables are suppressed but the ledger is still kept.
func New(out io.Writer, capital float64, quiet bool) *Reporter {
	return &Reporter{
		out:     out,
		quiet:   quiet,
		ledger:  NewLedger(capital),
		started: time.Now(),
		now:     time.Now,
		pending: make(map[string]model.Decision),
		signals: make(map[model.Action]int),
	}
}

// Ledger returns the session ledger.
func (r *Reporter) Ledger() *Ledger { return r.ledger }

// Run records every decision from ch and flushes the pending cycle every
// flushEvery. Blocks until ctx is cancelled or ch is closed.
func (r *Reporter) Run(ctx context.Context, ch <-chan model.Decision, flushEvery time.Duration) {
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()
	defer r.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			r.Record(d)
		case <-ticker.C:
			r.Flush()
		}
	}
}

// Record adds a decision to the current cycle and to the ledger.
func (r *Reporter) Record(d model.Decision) {
	r.ledger.Record(d)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[d.Signal]++
	if _, seen := r.pending[d.Instrument]; seen {
		r.flushLocked()
	}
	r.pending[d.Instrument] = d
}

// Flush renders the pending cycle, if any.
func (r *Reporter) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

func (r *Reporter) flushLocked() {
	if len(r.pending) == 0 {
		return
	}
	r.cycles++
	rows := make([]model.Decision, 0, len(r.pending))
	for _, d := range r.pending {
		rows = append(rows, d)
	}
	r.pending = make(map[string]model.Decision)
	if r.quiet {
		return
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Instrument < rows[j].Instrument })
	fmt.Fprintln(r.out, CycleTable(r.cycles, rows))
}

// CycleTable renders one row per decision.
func CycleTable(cycle int, rows []model.Decision) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("CYCLE %d", cycle))
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Pair", "Time (UTC)", "Price", "RSI", "Signal", "Proposal", "Exit"})

	for _, d := range rows {
		rsi := fmt.Sprintf("%.2f", d.Oscillator)
		if !d.Sufficient {
			rsi = "warming up"
		}
		signal := string(d.Signal)
		if d.Changed() {
			signal += " (was " + string(d.PreviousSignal) + ")"
		}
		t.AppendRow(table.Row{
			d.Instrument,
			d.TS.UTC().Format("15:04:05"),
			fmt.Sprintf("%.5f", d.Price),
			rsi,
			signal,
			proposalCell(d.Proposal),
			exitCell(d.Exit),
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	return t.Render()
}

func proposalCell(p *model.TradeProposal) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%s %.2f @ %.5f TP %.5f SL %.5f",
		p.Direction, p.UnitSize, p.EntryPrice, p.TargetPrice, p.StopPrice)
}

func exitCell(e *model.ExitEvent) string {
	if e == nil {
		return "-"
	}
	return fmt.Sprintf("%s %+.2f (%+.2f%%)", e.Reason, e.PnL, e.PnLPct)
}

// Summary renders the session statistics and the list of closed trades.
func (r *Reporter) Summary() string {
	r.mu.Lock()
	cycles := r.cycles
	buys, sells, holds := r.signals[model.ActionBuy], r.signals[model.ActionSell], r.signals[model.ActionHold]
	r.mu.Unlock()

	s := r.ledger.Stats()
	var b strings.Builder

	t := table.NewWriter()
	t.SetTitle("SESSION SUMMARY")
	t.SetStyle(table.StyleRounded)
	t.AppendRows([]table.Row{
		{"Duration", r.now().Sub(r.started).Truncate(time.Second).String()},
		{"Cycles", cycles},
		{"Signals", fmt.Sprintf("BUY %d / SELL %d / HOLD %d", buys, sells, holds)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Closed trades", s.Trades},
		{"Wins / Losses", fmt.Sprintf("%d / %d", s.Wins, s.Losses)},
		{"Win rate", fmt.Sprintf("%.1f%%", s.WinRate)},
		{"Avg win", fmt.Sprintf("%+.2f", s.AvgWin)},
		{"Avg loss", fmt.Sprintf("%+.2f", s.AvgLoss)},
		{"Total P&L", fmt.Sprintf("%+.2f", s.TotalPnL)},
		{"Return on capital", fmt.Sprintf("%+.2f%%", s.ReturnPct)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 18, Align: text.AlignLeft},
		{Number: 2, WidthMin: 25, Align: text.AlignLeft},
	})
	b.WriteString(t.Render())

	trades := r.ledger.Trades()
	if len(trades) == 0 {
		return b.String()
	}
	tt := table.NewWriter()
	tt.SetTitle("CLOSED TRADES")
	tt.SetStyle(table.StyleRounded)
	tt.AppendHeader(table.Row{"Pair", "Side", "Entry", "Exit", "Units", "P&L", "P&L %", "Reason", "Held"})
	for _, tr := range trades {
		tt.AppendRow(table.Row{
			tr.Instrument,
			tr.Direction,
			fmt.Sprintf("%.5f", tr.EntryPrice),
			fmt.Sprintf("%.5f", tr.ExitPrice),
			fmt.Sprintf("%.2f", tr.UnitSize),
			fmt.Sprintf("%+.2f", tr.PnL),
			fmt.Sprintf("%+.2f%%", tr.PnLPct),
			tr.Reason,
			tr.ClosedAt.Sub(tr.OpenedAt).Truncate(time.Second).String(),
		})
	}
	b.WriteString("\n")
	b.WriteString(tt.Render())
	return b.String()
}
