package strategy

import (
	"errors"
	"fmt"
	"math"

	"fxsignal/internal/indicator"
	"fxsignal/internal/model"
)

// ErrInvalidThresholds is returned when 0 ≤ oversold < overbought ≤ 100 does not hold.
var ErrInvalidThresholds = errors.New("invalid oscillator thresholds")

// Thresholds are the exclusive oversold/overbought bounds.
type Thresholds struct {
	Oversold   float64 `json:"oversold"`
	Overbought float64 `json:"overbought"`
}

// Validate checks 0 ≤ oversold < overbought ≤ 100.
func (t Thresholds) Validate() error {
	if math.IsNaN(t.Oversold) || math.IsNaN(t.Overbought) ||
		t.Oversold < 0 || t.Overbought > 100 || t.Oversold >= t.Overbought {
		return fmt.Errorf("%w: oversold=%v overbought=%v", ErrInvalidThresholds, t.Oversold, t.Overbought)
	}
	return nil
}

// Classify maps an oscillator value to a signal. Values strictly below
// oversold are BUY, strictly above overbought are SELL, and everything else,
// including both boundaries, is HOLD.
func Classify(value float64, t Thresholds) (model.Signal, error) {
	if err := t.Validate(); err != nil {
		return model.Signal{}, err
	}
	switch {
	case value < t.Oversold:
		return model.Signal{Action: model.ActionBuy, Reason: model.ReasonOversold}, nil
	case value > t.Overbought:
		return model.Signal{Action: model.ActionSell, Reason: model.ReasonOverbought}, nil
	default:
		return model.Signal{Action: model.ActionHold, Reason: model.ReasonNeutral}, nil
	}
}

// ClassifyState classifies an oscillator reading, refusing readings that
// have not reached sufficient history.
func ClassifyState(st indicator.State, t Thresholds) (model.Signal, error) {
	if !st.Sufficient {
		return model.Signal{}, fmt.Errorf("%w: %s has %d deltas", indicator.ErrInsufficientHistory, st.Instrument, st.Deltas)
	}
	return Classify(st.Value, t)
}
