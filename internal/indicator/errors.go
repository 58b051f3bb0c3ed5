package indicator

import "errors"

var (
	// ErrInvalidSample is returned for non-finite or non-positive prices,
	// missing instruments or timestamps, and samples that are not strictly
	// newer than the instrument's last sample.
	ErrInvalidSample = errors.New("invalid price sample")

	// ErrInsufficientHistory is returned when a value is requested before
	// the oscillator has seen period price deltas.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrInvalidConfig is returned by NewEngine for a bad period or history size.
	ErrInvalidConfig = errors.New("invalid oscillator config")
)
