package environment

import (
	"fmt"
	"math"
)

// MaxInstruments bounds the instrument count so the joint action space 3^n
// fits in an int on every platform.
const MaxInstruments = 19

// PriceMatrix holds per-instrument prices indexed by [instrument][step].
type PriceMatrix [][]float64

// Instruments returns the number of instruments (rows).
func (m PriceMatrix) Instruments() int {
	return len(m)
}

// Steps returns the number of time steps (columns).
func (m PriceMatrix) Steps() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Validate checks that the matrix is rectangular, has between one and
// MaxInstruments instruments, at least two steps and only finite non-negative
// prices.
func (m PriceMatrix) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("%w: no instruments", ErrMalformedPriceData)
	}
	if len(m) > MaxInstruments {
		return fmt.Errorf("%w: %d instruments exceeds the maximum of %d", ErrMalformedPriceData, len(m), MaxInstruments)
	}

	steps := len(m[0])
	if steps < 2 {
		return fmt.Errorf("%w: need at least 2 steps, got %d", ErrMalformedPriceData, steps)
	}

	for i, row := range m {
		if len(row) != steps {
			return fmt.Errorf("%w: instrument %d has %d steps, instrument 0 has %d",
				ErrMalformedPriceData, i, len(row), steps)
		}
		for t, p := range row {
			if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
				return fmt.Errorf("%w: instrument %d step %d has price %v", ErrMalformedPriceData, i, t, p)
			}
		}
	}

	return nil
}

// Slice returns the columns [from, to) of every instrument.
func (m PriceMatrix) Slice(from, to int) PriceMatrix {
	out := make(PriceMatrix, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row[from:to]...)
	}
	return out
}

// PricesAt returns the price vector at one step.
func (m PriceMatrix) PricesAt(step int) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		out[i] = row[step]
	}
	return out
}

// Clone returns a deep copy.
func (m PriceMatrix) Clone() PriceMatrix {
	return m.Slice(0, m.Steps())
}
