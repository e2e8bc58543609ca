// Package environment implements the portfolio trading simulation the agent
// learns from: price/position/cash bookkeeping, observation construction and
// the discrete SELL/HOLD/BUY action space.
package environment

import (
	"fmt"

	"github.com/aristath/qtrader/pkg/formulas"
)

// Observation is positions, current prices, volatility indicator and cash,
// in that order. Its length is 3*n+1 for n instruments.
type Observation []float64

// Info carries diagnostics returned by Step.
type Info struct {
	CurrentValue float64
}

// StepResult is the outcome of a single environment step.
type StepResult struct {
	Observation Observation
	Reward      float64
	Done        bool
	Info        Info
}

// TradingEnvironment simulates a cash account trading a fixed basket of
// instruments over a price history. It is not safe for concurrent use.
type TradingEnvironment struct {
	prices        PriceMatrix
	actions       ActionSpace
	initialInvest float64

	currentStep int
	positions   []int
	cash        float64
	price       []float64
	volatility  []float64
}

// NewTradingEnvironment validates the price history and returns an environment
// already reset to step 0.
func NewTradingEnvironment(prices PriceMatrix, initialInvest float64) (*TradingEnvironment, error) {
	if err := prices.Validate(); err != nil {
		return nil, err
	}
	if initialInvest < 0 {
		return nil, fmt.Errorf("initial investment must be non-negative, got %v", initialInvest)
	}

	env := &TradingEnvironment{
		prices:        prices.Clone(),
		actions:       NewActionSpace(prices.Instruments()),
		initialInvest: initialInvest,
	}
	env.Reset()
	return env, nil
}

// Reset starts a new episode and returns the initial observation.
func (e *TradingEnvironment) Reset() Observation {
	n := e.prices.Instruments()

	e.currentStep = 0
	e.positions = make([]int, n)
	e.cash = e.initialInvest
	e.price = e.prices.PricesAt(0)
	// One observed price has no spread
	e.volatility = make([]float64, n)

	return e.observation()
}

// Step applies an action and advances the simulation by one price step.
//
// Invalid actions and stepping past the final price fail without touching state.
func (e *TradingEnvironment) Step(action int) (StepResult, error) {
	directives, err := e.actions.Decode(action)
	if err != nil {
		return StepResult{}, err
	}
	if e.currentStep+1 > e.prices.Steps()-1 {
		return StepResult{}, fmt.Errorf("%w: step %d is the last of %d", ErrStepOutOfRange, e.currentStep, e.prices.Steps())
	}

	prevValue := e.Value()

	e.currentStep++
	e.price = e.prices.PricesAt(e.currentStep)
	e.updateVolatility()
	e.trade(directives)

	curValue := e.Value()

	return StepResult{
		Observation: e.observation(),
		Reward:      curValue - prevValue,
		Done:        e.currentStep == e.prices.Steps()-1,
		Info:        Info{CurrentValue: curValue},
	}, nil
}

// updateVolatility recomputes the trailing standard deviation of every
// instrument over min(20, currentStep+1) prices ending at the current step.
func (e *TradingEnvironment) updateVolatility() {
	for i, row := range e.prices {
		e.volatility[i] = formulas.StdDevAt(row, e.currentStep, formulas.VolatilityWindow)
	}
}

// trade sells first, then buys one share per BUY instrument per pass until a
// full pass buys nothing. Earlier instruments win when cash is scarce.
func (e *TradingEnvironment) trade(directives []Directive) {
	var buyIndex []int
	for i, d := range directives {
		switch d {
		case Sell:
			e.cash += e.price[i] * float64(e.positions[i])
			e.positions[i] = 0
		case Buy:
			buyIndex = append(buyIndex, i)
		}
	}

	for len(buyIndex) > 0 {
		bought := false
		for _, i := range buyIndex {
			p := e.price[i]
			// Zero-priced instruments would never exhaust the cash
			if p <= 0 || e.cash < p {
				continue
			}
			e.positions[i]++
			e.cash -= p
			bought = true
		}
		if !bought {
			break
		}
	}
}

// Value returns positions marked at the current step's prices plus cash.
func (e *TradingEnvironment) Value() float64 {
	total := e.cash
	for i, p := range e.price {
		total += float64(e.positions[i]) * p
	}
	return total
}

func (e *TradingEnvironment) observation() Observation {
	n := len(e.positions)
	obs := make(Observation, 0, 3*n+1)
	for _, q := range e.positions {
		obs = append(obs, float64(q))
	}
	obs = append(obs, e.price...)
	obs = append(obs, e.volatility...)
	obs = append(obs, e.cash)
	return obs
}

// ObservationSize returns 3*n+1.
func (e *TradingEnvironment) ObservationSize() int {
	return 3*e.prices.Instruments() + 1
}

// ActionSpace returns the environment's discrete action space.
func (e *TradingEnvironment) ActionSpace() ActionSpace {
	return e.actions
}

// Prices returns a copy of the price history.
func (e *TradingEnvironment) Prices() PriceMatrix {
	return e.prices.Clone()
}

// Steps returns the number of price steps in the history.
func (e *TradingEnvironment) Steps() int {
	return e.prices.Steps()
}

// Instruments returns the number of tradable instruments.
func (e *TradingEnvironment) Instruments() int {
	return e.prices.Instruments()
}

// InitialInvest returns the cash every episode starts with.
func (e *TradingEnvironment) InitialInvest() float64 {
	return e.initialInvest
}

// CurrentStep returns the index of the current price step.
func (e *TradingEnvironment) CurrentStep() int {
	return e.currentStep
}

// Cash returns the uninvested cash.
func (e *TradingEnvironment) Cash() float64 {
	return e.cash
}

// Positions returns a copy of the share counts.
func (e *TradingEnvironment) Positions() []int {
	return append([]int(nil), e.positions...)
}

// Volatility returns a copy of the current volatility indicator.
func (e *TradingEnvironment) Volatility() []float64 {
	return append([]float64(nil), e.volatility...)
}
