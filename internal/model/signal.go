package model

// Action is the trading direction carried by a signal.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Actionable reports whether the action opens a position.
func (a Action) Actionable() bool {
	return a == ActionBuy || a == ActionSell
}

// Opposite returns the reverse direction. HOLD has no opposite.
func (a Action) Opposite() Action {
	switch a {
	case ActionBuy:
		return ActionSell
	case ActionSell:
		return ActionBuy
	default:
		return ActionHold
	}
}

// Reason tags attached to a Signal.
const (
	ReasonOversold   = "oversold"
	ReasonOverbought = "overbought"
	ReasonNeutral    = "neutral"
)

// Signal is a classified oscillator reading.
type Signal struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}
