package portfolio

import (
	"time"

	"fxsignal/internal/model"
)

// PositionState is the lifecycle state of a virtual position.
type PositionState string

const (
	StateOpen   PositionState = "OPEN"
	StateClosed PositionState = "CLOSED"
)

// Position is the tracked projection of a TradeProposal. It exists only to
// evaluate exit conditions; nothing is ever executed against a broker.
type Position struct {
	Instrument  string       `json:"instrument"`
	Direction   model.Action `json:"direction"`
	EntryPrice  float64      `json:"entry_price"`
	UnitSize    float64      `json:"unit_size"`
	TargetPrice float64      `json:"target_price"`
	StopPrice   float64      `json:"stop_price"`
	OpenedAt    time.Time    `json:"opened_at"`

	State      PositionState    `json:"state"`
	ExitReason model.ExitReason `json:"exit_reason,omitempty"`
	ExitPrice  float64          `json:"exit_price,omitempty"`
	ClosedAt   time.Time        `json:"closed_at,omitempty"`
}

// Open starts tracking a proposal as an OPEN position.
func Open(p model.TradeProposal, at time.Time) *Position {
	return &Position{
		Instrument:  p.Instrument,
		Direction:   p.Direction,
		EntryPrice:  p.EntryPrice,
		UnitSize:    p.UnitSize,
		TargetPrice: p.TargetPrice,
		StopPrice:   p.StopPrice,
		OpenedAt:    at,
		State:       StateOpen,
	}
}

// ExitDecision is the outcome of one exit evaluation.
type ExitDecision struct {
	Close  bool             // false = HOLD_POSITION
	Reason model.ExitReason // set when Close
}

// EvaluateExit advances the OPEN → CLOSED state machine.
//
// A price at or beyond the target (favorable side) closes with
// target_reached, at or beyond the stop (adverse side) with stop_triggered,
// and an opposite actionable signal with signal_reversed. Price breaches
// win over a reversal in the same evaluation. Once CLOSED the position stays
// closed and every later call reports the original close unchanged.
func (p *Position) EvaluateExit(price float64, signal model.Action, at time.Time) ExitDecision {
	if p.State == StateClosed {
		return ExitDecision{Close: true, Reason: p.ExitReason}
	}
	if !finite(price) || price <= 0 {
		return ExitDecision{}
	}

	var reason model.ExitReason
	switch {
	case p.targetReached(price):
		reason = model.ExitTargetReached
	case p.stopTriggered(price):
		reason = model.ExitStopTriggered
	case signal.Actionable() && signal == p.Direction.Opposite():
		reason = model.ExitSignalReversed
	default:
		return ExitDecision{}
	}

	p.State = StateClosed
	p.ExitReason = reason
	p.ExitPrice = price
	p.ClosedAt = at
	return ExitDecision{Close: true, Reason: reason}
}

func (p *Position) targetReached(price float64) bool {
	if p.Direction == model.ActionBuy {
		return price >= p.TargetPrice
	}
	return price <= p.TargetPrice
}

func (p *Position) stopTriggered(price float64) bool {
	if p.Direction == model.ActionBuy {
		return price <= p.StopPrice
	}
	return price >= p.StopPrice
}

// PnL returns the profit or loss of the position marked at price, in quote currency.
func (p *Position) PnL(price float64) float64 {
	if p.Direction == model.ActionSell {
		return (p.EntryPrice - price) * p.UnitSize
	}
	return (price - p.EntryPrice) * p.UnitSize
}

// PnLPct returns PnL as a percentage of the entry notional.
func (p *Position) PnLPct(price float64) float64 {
	notional := p.EntryPrice * p.UnitSize
	if notional == 0 {
		return 0
	}
	return p.PnL(price) / notional * 100
}

// ExitEvent summarizes a closed position. Returns nil while OPEN.
func (p *Position) ExitEvent() *model.ExitEvent {
	if p.State != StateClosed {
		return nil
	}
	return &model.ExitEvent{
		Direction:  p.Direction,
		Reason:     p.ExitReason,
		EntryPrice: p.EntryPrice,
		ExitPrice:  p.ExitPrice,
		UnitSize:   p.UnitSize,
		PnL:        p.PnL(p.ExitPrice),
		PnLPct:     p.PnLPct(p.ExitPrice),
		OpenedAt:   p.OpenedAt,
		ClosedAt:   p.ClosedAt,
	}
}
