package environment

import "errors"

var (
	// ErrInvalidAction is returned for action indices outside [0, 3^n).
	ErrInvalidAction = errors.New("invalid action")
	// ErrStepOutOfRange is returned when stepping past the last price.
	ErrStepOutOfRange = errors.New("step out of range")
	// ErrMalformedPriceData is returned for empty, ragged or negative price matrices.
	ErrMalformedPriceData = errors.New("malformed price data")
)
