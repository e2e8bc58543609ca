// Package formulas holds the numeric helpers shared by the environment and scaler.
package formulas

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// PopStdDev calculates the population (ddof=0) standard deviation.
// A single observation has a standard deviation of zero.
func PopStdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	_, std := stat.PopMeanStdDev(data, nil)
	return std
}

// PopMeanStdDev returns the population mean and standard deviation together.
func PopMeanStdDev(data []float64) (float64, float64) {
	switch len(data) {
	case 0:
		return 0, 0
	case 1:
		return data[0], 0
	}
	return stat.PopMeanStdDev(data, nil)
}

// Min returns the smallest value, or 0 for an empty slice
func Min(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return floats.Min(data)
}

// Max returns the largest value, or 0 for an empty slice
func Max(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return floats.Max(data)
}
