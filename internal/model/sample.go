package model

import (
	"encoding/json"
	"time"
)

// PriceSample is a single observed quote for an instrument. Immutable once created.
type PriceSample struct {
	Instrument string    `json:"instrument"`
	TS         time.Time `json:"ts"`
	Price      float64   `json:"price"`
}

// JSON returns the JSON encoding of the sample.
func (s PriceSample) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}
