package formulas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStdDevAt(t *testing.T) {
	closes := []float64{1, 3, 5, 7}

	t.Run("first index has no spread", func(t *testing.T) {
		assert.Equal(t, 0.0, StdDevAt(closes, 0, VolatilityWindow))
	})

	t.Run("growing window", func(t *testing.T) {
		// {1,3}: mean 2, pop std 1
		assert.InDelta(t, 1.0, StdDevAt(closes, 1, VolatilityWindow), 1e-9)
		// {1,3,5,7}: pop std sqrt(5)
		assert.InDelta(t, 2.2360679775, StdDevAt(closes, 3, VolatilityWindow), 1e-9)
	})

	t.Run("window caps history", func(t *testing.T) {
		// window 2 at index 3 looks at {5,7}
		assert.InDelta(t, 1.0, StdDevAt(closes, 3, 2), 1e-9)
	})

	t.Run("out of range", func(t *testing.T) {
		assert.Equal(t, 0.0, StdDevAt(closes, 4, VolatilityWindow))
		assert.Equal(t, 0.0, StdDevAt(closes, -1, VolatilityWindow))
		assert.Equal(t, 0.0, StdDevAt(closes, 2, 0))
	})
}

func TestTrailingStdDev_MatchesGonum(t *testing.T) {
	closes := make([]float64, 45)
	for i := range closes {
		closes[i] = float64(100 + (i*7)%13)
	}

	got := TrailingStdDev(closes, VolatilityWindow)
	assert.Len(t, got, len(closes))

	for s := range closes {
		lo := s - VolatilityWindow + 1
		if lo < 0 {
			lo = 0
		}
		assert.InDelta(t, PopStdDev(closes[lo:s+1]), got[s], 1e-6, "index %d", s)
	}
}

func TestTrailingStdDev_ConstantSeries(t *testing.T) {
	got := TrailingStdDev([]float64{10, 10, 10}, VolatilityWindow)
	assert.Equal(t, []float64{0, 0, 0}, got)
}
