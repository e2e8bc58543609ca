// Package agent implements the value-based trading agent: an epsilon-greedy
// policy over a learned action-value estimator, trained by replaying sampled
// transitions against bootstrapped targets.
package agent

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the agent hyper-parameters.
type Config struct {
	StateSize      int
	ActionSize     int
	Gamma          float64 // discount rate
	Epsilon        float64 // initial exploration rate
	EpsilonMin     float64
	EpsilonDecay   float64
	MemoryCapacity int
	HiddenLayers   int
	HiddenUnits    int
	LearningRate   float64
	Seed           int64 // 0 picks a time based seed
}

// DefaultConfig returns the trainer's standard hyper-parameters.
func DefaultConfig(stateSize, actionSize int) Config {
	return Config{
		StateSize:      stateSize,
		ActionSize:     actionSize,
		Gamma:          0.95,
		Epsilon:        1.0,
		EpsilonMin:     0.01,
		EpsilonDecay:   0.995,
		MemoryCapacity: DefaultMemoryCapacity,
		HiddenLayers:   1,
		HiddenUnits:    32,
		LearningRate:   0.001,
	}
}

// Agent selects actions and learns from replayed experience.
// It is not safe for concurrent use.
type Agent struct {
	cfg       Config
	epsilon   float64
	memory    *ReplayMemory
	estimator Estimator
	rng       *rand.Rand
	log       zerolog.Logger
}

// New creates an agent backed by a freshly initialised MLP estimator.
func New(cfg Config, log zerolog.Logger) (*Agent, error) {
	rng := newRand(cfg.Seed)

	mlp, err := NewMLP(MLPConfig{
		Inputs:       cfg.StateSize,
		Outputs:      cfg.ActionSize,
		HiddenLayers: cfg.HiddenLayers,
		HiddenUnits:  cfg.HiddenUnits,
		LearningRate: cfg.LearningRate,
	}, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build estimator: %w", err)
	}

	return NewWithEstimator(cfg, mlp, rng, log)
}

// NewWithEstimator creates an agent around an existing estimator.
func NewWithEstimator(cfg Config, est Estimator, rng *rand.Rand, log zerolog.Logger) (*Agent, error) {
	if cfg.ActionSize < 1 {
		return nil, fmt.Errorf("action size must be positive, got %d", cfg.ActionSize)
	}
	if est == nil {
		return nil, fmt.Errorf("estimator is required")
	}
	if rng == nil {
		rng = newRand(cfg.Seed)
	}

	return &Agent{
		cfg:       cfg,
		epsilon:   cfg.Epsilon,
		memory:    NewReplayMemory(cfg.MemoryCapacity, rng),
		estimator: est,
		rng:       rng,
		log:       log.With().Str("component", "agent").Logger(),
	}, nil
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Act picks a uniformly random action with probability epsilon, otherwise the
// action with the highest estimated value (lowest index on ties).
func (a *Agent) Act(obs []float64) int {
	if a.rng.Float64() <= a.epsilon {
		return a.rng.Intn(a.cfg.ActionSize)
	}
	return argmax(a.estimator.Predict(obs))
}

// Remember stores a transition in replay memory.
func (a *Agent) Remember(t Transition) {
	a.memory.Append(t)
}

// Replay trains the estimator on a sampled minibatch and then decays epsilon.
// It returns the minibatch loss measured before the update.
func (a *Agent) Replay(batchSize int) (float64, error) {
	batch, err := a.memory.Sample(batchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, fmt.Errorf("%w: empty batch", ErrInsufficientSamples)
	}

	states := make([][]float64, len(batch))
	for i, t := range batch {
		states[i] = t.Observation
	}

	targets := a.bootstrapTargets(batch)

	// Only the taken action's slot moves; the rest target the current prediction
	fitTargets := a.estimator.PredictBatch(states)
	for i, t := range batch {
		fitTargets[i][t.Action] = targets[i]
	}

	loss, err := a.estimator.Fit(states, fitTargets)
	if err != nil {
		return 0, fmt.Errorf("failed to fit estimator: %w", err)
	}

	a.decayEpsilon()

	a.log.Debug().
		Int("batch_size", batchSize).
		Float64("loss", loss).
		Float64("epsilon", a.epsilon).
		Msg("Replay step")

	return loss, nil
}

// bootstrapTargets returns reward for terminal transitions and
// reward + gamma * max_a Q(next, a) otherwise.
func (a *Agent) bootstrapTargets(batch []Transition) []float64 {
	next := make([][]float64, len(batch))
	for i, t := range batch {
		next[i] = t.NextObservation
	}
	nextValues := a.estimator.PredictBatch(next)

	targets := make([]float64, len(batch))
	for i, t := range batch {
		if t.Done {
			targets[i] = t.Reward
			continue
		}
		targets[i] = t.Reward + a.cfg.Gamma*nextValues[i][argmax(nextValues[i])]
	}
	return targets
}

func (a *Agent) decayEpsilon() {
	if a.epsilon <= a.cfg.EpsilonMin {
		return
	}
	a.epsilon *= a.cfg.EpsilonDecay
	if a.epsilon < a.cfg.EpsilonMin {
		a.epsilon = a.cfg.EpsilonMin
	}
}

// Epsilon returns the current exploration rate.
func (a *Agent) Epsilon() float64 {
	return a.epsilon
}

// SetEpsilon overrides the exploration rate, e.g. to evaluate greedily.
func (a *Agent) SetEpsilon(epsilon float64) {
	a.epsilon = epsilon
}

// EpsilonMin returns the exploration floor.
func (a *Agent) EpsilonMin() float64 {
	return a.cfg.EpsilonMin
}

// MemoryLen returns the number of stored transitions.
func (a *Agent) MemoryLen() int {
	return a.memory.Len()
}

// Memory exposes the replay buffer.
func (a *Agent) Memory() *ReplayMemory {
	return a.memory
}

// Estimator exposes the value estimator.
func (a *Agent) Estimator() Estimator {
	return a.estimator
}

func argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}
