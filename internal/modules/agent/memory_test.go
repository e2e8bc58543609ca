package agent

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transition(id int) Transition {
	return Transition{
		Observation:     []float64{float64(id)},
		Action:          id,
		Reward:          float64(id),
		NextObservation: []float64{float64(id + 1)},
	}
}

func TestReplayMemory_EvictsOldestFirst(t *testing.T) {
	m := NewReplayMemory(DefaultMemoryCapacity, rand.New(rand.NewSource(1)))

	for i := 0; i < 2001; i++ {
		m.Append(transition(i))
	}

	assert.Equal(t, 2000, m.Len())
	assert.Equal(t, 2000, m.Capacity())

	items := m.Items()
	require.Len(t, items, 2000)
	for i, it := range items {
		assert.Equal(t, i+1, it.Action, "position %d", i)
	}
}

func TestReplayMemory_NeverExceedsCapacity(t *testing.T) {
	m := NewReplayMemory(5, nil)
	for i := 0; i < 23; i++ {
		m.Append(transition(i))
		assert.LessOrEqual(t, m.Len(), 5)
	}

	actions := make([]int, 0, 5)
	for _, it := range m.Items() {
		actions = append(actions, it.Action)
	}
	assert.Equal(t, []int{18, 19, 20, 21, 22}, actions)
}

func TestReplayMemory_AppendCopiesObservations(t *testing.T) {
	m := NewReplayMemory(3, nil)
	obs := []float64{1, 2}
	m.Append(Transition{Observation: obs, NextObservation: obs})

	obs[0] = 99
	assert.Equal(t, []float64{1, 2}, m.Items()[0].Observation)
}

func TestReplayMemory_Sample(t *testing.T) {
	m := NewReplayMemory(100, rand.New(rand.NewSource(3)))
	for i := 0; i < 50; i++ {
		m.Append(transition(i))
	}

	t.Run("without replacement", func(t *testing.T) {
		batch, err := m.Sample(50)
		require.NoError(t, err)

		seen := make(map[int]bool)
		for _, tr := range batch {
			assert.False(t, seen[tr.Action], "duplicate %d", tr.Action)
			seen[tr.Action] = true
		}
		assert.Len(t, seen, 50)
	})

	t.Run("requested size", func(t *testing.T) {
		batch, err := m.Sample(32)
		require.NoError(t, err)
		assert.Len(t, batch, 32)
	})

	t.Run("too many", func(t *testing.T) {
		_, err := m.Sample(51)
		assert.ErrorIs(t, err, ErrInsufficientSamples)
	})
}

func TestReplayMemory_SampleCoversWrappedRing(t *testing.T) {
	m := NewReplayMemory(4, rand.New(rand.NewSource(9)))
	for i := 0; i < 6; i++ {
		m.Append(transition(i))
	}

	batch, err := m.Sample(4)
	require.NoError(t, err)

	got := make(map[int]bool)
	for _, tr := range batch {
		got[tr.Action] = true
	}
	assert.Equal(t, map[int]bool{2: true, 3: true, 4: true, 5: true}, got)
}
