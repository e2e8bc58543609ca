package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// VolatilityWindow is the trailing window length of the volatility indicator.
const VolatilityWindow = 20

// TrailingStdDev returns, for every index s, the population standard deviation
// of closes[max(0, s-window+1) : s+1].
//
// The window grows from one observation up to `window`, so out[0] is always 0.
func TrailingStdDev(closes []float64, window int) []float64 {
	out := make([]float64, len(closes))
	for s := range closes {
		out[s] = StdDevAt(closes, s, window)
	}
	return out
}

// StdDevAt is the trailing standard deviation ending at a single index.
func StdDevAt(closes []float64, index, window int) float64 {
	if window < 1 || index < 0 || index >= len(closes) {
		return 0
	}

	lo := index - window + 1
	if lo < 0 {
		lo = 0
	}
	segment := closes[lo : index+1]
	if len(segment) < 2 {
		return 0
	}

	// go-talib's StdDev is the population estimator (ddof=0)
	std := talib.StdDev(segment, len(segment), 1.0)
	v := std[len(std)-1]
	if isNaN(v) || v < 0 {
		return 0
	}
	return v
}

func isNaN(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
