package marketdata

import (
	"errors"
	"fmt"

	"github.com/aristath/qtrader/internal/modules/environment"
)

// ErrWindowTooShort is returned when a fold's train or test window would hold
// fewer than two steps, which leaves an episode with no transition to play.
var ErrWindowTooShort = errors.New("walk-forward window too short")

// Fold is one walk-forward split. Ranges are half-open step indices.
type Fold struct {
	Round      int // 1-based
	TrainStart int
	TrainEnd   int
	TestStart  int
	TestEnd    int
}

// TrainSteps returns the length of the training window.
func (f Fold) TrainSteps() int { return f.TrainEnd - f.TrainStart }

// TestSteps returns the length of the test window.
func (f Fold) TestSteps() int { return f.TestEnd - f.TestStart }

// WalkForwardSplits returns expanding-window folds over nSteps observations.
// Each fold trains on everything before its test window; test windows are
// contiguous, equally sized and end at the last step.
func WalkForwardSplits(nSteps, nSplits int) ([]Fold, error) {
	if nSplits < 2 {
		return nil, fmt.Errorf("need at least 2 splits, got %d", nSplits)
	}
	if nSplits+1 > nSteps {
		return nil, fmt.Errorf("cannot make %d splits from %d steps", nSplits, nSteps)
	}

	testSize := nSteps / (nSplits + 1)
	if testSize < 2 {
		return nil, fmt.Errorf("%w: %d steps over %d splits gives %d-step test windows",
			ErrWindowTooShort, nSteps, nSplits, testSize)
	}
	if first := nSteps - nSplits*testSize; first < 2 {
		return nil, fmt.Errorf("%w: first training window has %d steps", ErrWindowTooShort, first)
	}

	folds := make([]Fold, 0, nSplits)
	for k := 0; k < nSplits; k++ {
		start := nSteps - (nSplits-k)*testSize
		folds = append(folds, Fold{
			Round:      k + 1,
			TrainStart: 0,
			TrainEnd:   start,
			TestStart:  start,
			TestEnd:    start + testSize,
		})
	}
	return folds, nil
}

// Train returns the fold's training window of prices.
func (f Fold) Train(prices environment.PriceMatrix) environment.PriceMatrix {
	return prices.Slice(f.TrainStart, f.TrainEnd)
}

// Test returns the fold's test window of prices.
func (f Fold) Test(prices environment.PriceMatrix) environment.PriceMatrix {
	return prices.Slice(f.TestStart, f.TestEnd)
}
