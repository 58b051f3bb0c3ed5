package model

import (
	"encoding/json"
	"time"
)

// TradeProposal is the sized projection of an actionable signal. It is not an order.
type TradeProposal struct {
	Instrument  string  `json:"instrument"`
	Direction   Action  `json:"direction"`
	EntryPrice  float64 `json:"entry_price"`
	UnitSize    float64 `json:"unit_size"`
	TargetPrice float64 `json:"target_price"`
	StopPrice   float64 `json:"stop_price"`
}

// ExitReason explains why a virtual position was closed.
type ExitReason string

const (
	ExitTargetReached  ExitReason = "target_reached"
	ExitStopTriggered  ExitReason = "stop_triggered"
	ExitSignalReversed ExitReason = "signal_reversed"
)

// ExitEvent describes a virtual position closed during a cycle.
type ExitEvent struct {
	Direction  Action     `json:"direction"`
	Reason     ExitReason `json:"reason"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	UnitSize   float64    `json:"unit_size"`
	PnL        float64    `json:"pnl"`
	PnLPct     float64    `json:"pnl_pct"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   time.Time  `json:"closed_at"`
}

// Decision is the record emitted for one instrument per evaluation cycle.
type Decision struct {
	Instrument     string         `json:"instrument"`
	TS             time.Time      `json:"ts"`
	Price          float64        `json:"price"`
	Oscillator     float64        `json:"oscillator"`
	Sufficient     bool           `json:"sufficient_history"`
	Signal         Action         `json:"signal"`
	Reason         string         `json:"reason"`
	PreviousSignal Action         `json:"previous_signal,omitempty"`
	Proposal       *TradeProposal `json:"trade_proposal,omitempty"`
	Opened         bool           `json:"opened,omitempty"` // Proposal became the tracked position this cycle
	Exit           *ExitEvent     `json:"exit,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
}

// Changed reports whether the signal differs from the previous cycle's.
func (d *Decision) Changed() bool {
	return d.PreviousSignal != "" && d.PreviousSignal != d.Signal
}

// JSON returns the JSON encoding of the decision.
func (d *Decision) JSON() []byte {
	b, _ := json.Marshal(d)
	return b
}

// PubSubChannel returns the Redis PubSub channel for this decision.
func (d *Decision) PubSubChannel() string {
	return "pub:decision:" + d.Instrument
}
