package model

import (
	"fmt"
	"strings"
)

// Instrument is a currency pair such as EURUSD.
type Instrument struct {
	Symbol string `json:"symbol"` // "EURUSD"
	Base   string `json:"base"`   // "EUR"
	Quote  string `json:"quote"`  // "USD"
}

// ParseInstrument splits a six-letter pair symbol into base and quote
// currencies. Accepts "EURUSD", "eurusd", "EUR/USD" and Yahoo-style
// "EURUSD=X".
func ParseInstrument(symbol string) (Instrument, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimSuffix(s, "=X")
	s = strings.ReplaceAll(s, "/", "")
	if len(s) != 6 {
		return Instrument{}, fmt.Errorf("instrument %q: want six-letter pair", symbol)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return Instrument{}, fmt.Errorf("instrument %q: invalid character %q", symbol, s[i])
		}
	}
	return Instrument{Symbol: s, Base: s[:3], Quote: s[3:]}, nil
}

// Key returns the map key for this instrument.
func (i Instrument) Key() string {
	return i.Symbol
}

func (i Instrument) String() string {
	return i.Base + "/" + i.Quote
}
