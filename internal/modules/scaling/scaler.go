// Package scaling normalises environment observations before they reach the
// value estimator.
//
// The scaler is not fitted on sampled observations. Instead it is calibrated on
// two synthetic points, the all-zero vector and an estimated upper bound of every
// observation feature, so it is available before the first episode runs.
package scaling

import (
	"errors"
	"fmt"
	"math"

	"github.com/aristath/qtrader/internal/modules/environment"
	"github.com/aristath/qtrader/pkg/formulas"
)

// CashMultiple bounds cash (and the shares it can buy) at 3x the initial investment.
const CashMultiple = 3

// ErrNotFitted is returned by Transform before Fit succeeded.
var ErrNotFitted = errors.New("scaler not fitted")

// EstimateBounds returns the per-feature upper bound of an observation:
// max shares affordable at the minimum price, max price, max price again (the
// volatility indicator never exceeds it) and max cash.
func EstimateBounds(prices environment.PriceMatrix, initialInvest float64) ([]float64, error) {
	if err := prices.Validate(); err != nil {
		return nil, err
	}

	n := prices.Instruments()
	maxCash := initialInvest * CashMultiple

	high := make([]float64, 0, 3*n+1)
	for _, row := range prices {
		minPrice := formulas.Min(row)
		if minPrice <= 0 {
			// Treat a free instrument as if it cost one unit
			high = append(high, math.Floor(maxCash))
			continue
		}
		high = append(high, math.Floor(maxCash/minPrice))
	}
	for _, row := range prices {
		high = append(high, formulas.Max(row))
	}
	for _, row := range prices {
		high = append(high, formulas.Max(row))
	}
	high = append(high, maxCash)

	return high, nil
}

// Scaler standardises features: (x - mean) / scale.
type Scaler struct {
	mean  []float64
	scale []float64
}

// Fit calibrates a standardiser from two reference points. Features whose
// calibration points coincide get a scale of 1 so they pass through centred.
func Fit(low, high []float64) (*Scaler, error) {
	if len(low) == 0 || len(low) != len(high) {
		return nil, fmt.Errorf("calibration points must be non-empty and equal length, got %d and %d", len(low), len(high))
	}

	s := &Scaler{
		mean:  make([]float64, len(low)),
		scale: make([]float64, len(low)),
	}
	for i := range low {
		mean, std := formulas.PopMeanStdDev([]float64{low[i], high[i]})
		if std == 0 {
			std = 1
		}
		s.mean[i] = mean
		s.scale[i] = std
	}

	return s, nil
}

// ForEnvironment fits a scaler from the environment's price history.
func ForEnvironment(env *environment.TradingEnvironment) (*Scaler, error) {
	high, err := EstimateBounds(env.Prices(), env.InitialInvest())
	if err != nil {
		return nil, fmt.Errorf("failed to estimate observation bounds: %w", err)
	}
	return Fit(make([]float64, len(high)), high)
}

// Transform returns the normalised copy of an observation.
func (s *Scaler) Transform(obs []float64) ([]float64, error) {
	if s == nil || len(s.mean) == 0 {
		return nil, ErrNotFitted
	}
	if len(obs) != len(s.mean) {
		return nil, fmt.Errorf("observation has %d features, scaler expects %d", len(obs), len(s.mean))
	}

	out := make([]float64, len(obs))
	for i, x := range obs {
		out[i] = (x - s.mean[i]) / s.scale[i]
	}
	return out, nil
}

// Features returns the number of features the scaler was fitted on.
func (s *Scaler) Features() int {
	return len(s.mean)
}
