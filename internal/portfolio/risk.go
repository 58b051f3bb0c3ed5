package portfolio

import (
	"errors"
	"fmt"
	"math"

	"fxsignal/internal/model"
)

var (
	// ErrNotActionable is returned when sizing is requested for a HOLD.
	ErrNotActionable = errors.New("signal is not actionable")

	// ErrInvalidPrice is returned for a non-positive or non-finite entry price.
	ErrInvalidPrice = errors.New("invalid entry price")

	// ErrInvalidRisk is returned for out-of-range risk parameters.
	ErrInvalidRisk = errors.New("invalid risk parameters")
)

// RiskParameters is the fixed-fraction sizing policy. Immutable for a run.
type RiskParameters struct {
	Capital              float64 `json:"capital"`                // starting capital in quote currency
	RiskFraction         float64 `json:"risk_fraction"`          // (0,1]: share of capital per trade
	ProfitTargetFraction float64 `json:"profit_target_fraction"` // (0,1): target distance from entry
	StopLossFraction     float64 `json:"stop_loss_fraction"`     // (0,1): stop distance from entry
}

// Validate checks every parameter range. A profit target of 1 or more is
// rejected because a SELL target would reach zero.
func (p RiskParameters) Validate() error {
	switch {
	case !finite(p.Capital) || p.Capital <= 0:
		return fmt.Errorf("%w: capital %v must be > 0", ErrInvalidRisk, p.Capital)
	case !finite(p.RiskFraction) || p.RiskFraction <= 0 || p.RiskFraction > 1:
		return fmt.Errorf("%w: risk fraction %v must be in (0,1]", ErrInvalidRisk, p.RiskFraction)
	case !finite(p.ProfitTargetFraction) || p.ProfitTargetFraction <= 0 || p.ProfitTargetFraction >= 1:
		return fmt.Errorf("%w: profit target fraction %v must be in (0,1)", ErrInvalidRisk, p.ProfitTargetFraction)
	case !finite(p.StopLossFraction) || p.StopLossFraction <= 0 || p.StopLossFraction >= 1:
		return fmt.Errorf("%w: stop loss fraction %v must be in (0,1)", ErrInvalidRisk, p.StopLossFraction)
	}
	return nil
}

// CapitalAtRisk returns the notional committed to one trade.
func (p RiskParameters) CapitalAtRisk() float64 {
	return p.Capital * p.RiskFraction
}

// Size converts an actionable signal into a trade proposal.
//
// The position size is a fixed fraction of capital divided by the entry
// price. It does not shrink as the stop distance widens.
func Size(instrument string, action model.Action, entryPrice float64, risk RiskParameters) (model.TradeProposal, error) {
	if !action.Actionable() {
		return model.TradeProposal{}, fmt.Errorf("%w: %s", ErrNotActionable, action)
	}
	if !finite(entryPrice) || entryPrice <= 0 {
		return model.TradeProposal{}, fmt.Errorf("%w: %v", ErrInvalidPrice, entryPrice)
	}
	if err := risk.Validate(); err != nil {
		return model.TradeProposal{}, err
	}

	tp := model.TradeProposal{
		Instrument: instrument,
		Direction:  action,
		EntryPrice: entryPrice,
		UnitSize:   risk.CapitalAtRisk() / entryPrice,
	}
	if action == model.ActionBuy {
		tp.TargetPrice = entryPrice * (1 + risk.ProfitTargetFraction)
		tp.StopPrice = entryPrice * (1 - risk.StopLossFraction)
	} else {
		tp.TargetPrice = entryPrice * (1 - risk.ProfitTargetFraction)
		tp.StopPrice = entryPrice * (1 + risk.StopLossFraction)
	}
	return tp, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
