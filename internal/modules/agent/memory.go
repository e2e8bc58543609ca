package agent

import (
	"fmt"
	"math/rand"
)

// DefaultMemoryCapacity is the replay buffer size used by the trainer.
const DefaultMemoryCapacity = 2000

// Transition is a single (s, a, r, s', done) experience.
type Transition struct {
	Observation     []float64
	Action          int
	Reward          float64
	NextObservation []float64
	Done            bool
}

// ReplayMemory is a bounded FIFO buffer of transitions backed by a ring.
type ReplayMemory struct {
	buf      []Transition
	start    int
	size     int
	capacity int
	rng      *rand.Rand
}

// NewReplayMemory creates a replay buffer. Sampling draws from rng.
func NewReplayMemory(capacity int, rng *rand.Rand) *ReplayMemory {
	if capacity < 1 {
		capacity = DefaultMemoryCapacity
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &ReplayMemory{
		buf:      make([]Transition, capacity),
		capacity: capacity,
		rng:      rng,
	}
}

// Append stores a copy of the transition, evicting the oldest one when full.
func (m *ReplayMemory) Append(t Transition) {
	t.Observation = append([]float64(nil), t.Observation...)
	t.NextObservation = append([]float64(nil), t.NextObservation...)

	if m.size < m.capacity {
		m.buf[(m.start+m.size)%m.capacity] = t
		m.size++
		return
	}

	m.buf[m.start] = t
	m.start = (m.start + 1) % m.capacity
}

// Sample draws k transitions uniformly without replacement.
func (m *ReplayMemory) Sample(k int) ([]Transition, error) {
	if k < 0 || k > m.size {
		return nil, fmt.Errorf("%w: requested %d, have %d", ErrInsufficientSamples, k, m.size)
	}

	out := make([]Transition, k)
	for i, j := range m.rng.Perm(m.size)[:k] {
		out[i] = m.buf[(m.start+j)%m.capacity]
	}
	return out, nil
}

// Items returns the stored transitions, oldest first.
func (m *ReplayMemory) Items() []Transition {
	out := make([]Transition, m.size)
	for i := range out {
		out[i] = m.buf[(m.start+i)%m.capacity]
	}
	return out
}

// Len returns the number of stored transitions.
func (m *ReplayMemory) Len() int {
	return m.size
}

// Capacity returns the maximum number of stored transitions.
func (m *ReplayMemory) Capacity() int {
	return m.capacity
}
