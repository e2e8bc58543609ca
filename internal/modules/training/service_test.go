package training

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aristath/qtrader/internal/metrics"
	"github.com/aristath/qtrader/internal/modules/agent"
	"github.com/aristath/qtrader/internal/modules/environment"
	"github.com/aristath/qtrader/internal/modules/marketdata"
	"github.com/aristath/qtrader/internal/modules/runs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLearner always plays the same action.
type scriptedLearner struct {
	action   int
	epsilon  float64
	memory   []agent.Transition
	replays  int
	saveErr  error
	saved    []string
	minEps   float64
	batchLog []int
}

func (l *scriptedLearner) Act([]float64) int { return l.action }
func (l *scriptedLearner) Remember(t agent.Transition) { l.memory = append(l.memory, t) }
func (l *scriptedLearner) MemoryLen() int { return len(l.memory) }
func (l *scriptedLearner) Epsilon() float64 { return l.epsilon }
func (l *scriptedLearner) SetEpsilon(e float64) { l.epsilon = e }
func (l *scriptedLearner) EpsilonMin() float64 { return l.minEps }
func (l *scriptedLearner) Replay(batchSize int) (float64, error) {
	l.replays++
	l.batchLog = append(l.batchLog, batchSize)
	return 0.1, nil
}

func (l *scriptedLearner) Save(path string) error {
	if l.saveErr != nil {
		return l.saveErr
	}
	l.saved = append(l.saved, path)
	return nil
}

type fakeRecorder struct {
	run         runs.Run
	episodes    []runs.EpisodeValue
	checkpoints []runs.Checkpoint
	finished    bool
	finishErr   error
}

func (r *fakeRecorder) StartRun(_ context.Context, run runs.Run) (string, error) {
	r.run = run
	return "run-1", nil
}

func (r *fakeRecorder) RecordEpisode(_ context.Context, _ string, v runs.EpisodeValue) error {
	r.episodes = append(r.episodes, v)
	return nil
}

func (r *fakeRecorder) RecordCheckpoint(_ context.Context, _ string, c runs.Checkpoint) error {
	r.checkpoints = append(r.checkpoints, c)
	return nil
}

func (r *fakeRecorder) FinishRun(_ context.Context, _ string, runErr error) error {
	r.finished = true
	r.finishErr = runErr
	return nil
}

type fakeMirror struct {
	uploads []string
	err     error
}

func (m *fakeMirror) Enabled() bool { return true }

func (m *fakeMirror) Upload(_ context.Context, path string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.uploads = append(m.uploads, path)
	return "checkpoints/" + filepath.Base(path), nil
}

func flatPrices(instruments, steps int, price float64) environment.PriceMatrix {
	m := make(environment.PriceMatrix, instruments)
	for i := range m {
		m[i] = make([]float64, steps)
		for t := range m[i] {
			m[i][t] = price
		}
	}
	return m
}

func newTestService(t *testing.T, mode string, learner Learner, recorder RunRecorder, mirror CheckpointMirror) (*Service, Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		Mode:            mode,
		Episodes:        10,
		BatchSize:       4,
		Splits:          2,
		InitialInvest:   100,
		CheckpointEvery: 5,
		WeightsDir:      filepath.Join(dir, "weights"),
		PortfolioDir:    filepath.Join(dir, "portfolio_val"),
		MetricsTextfile: filepath.Join(dir, "metrics", "trainer.prom"),
	}
	svc, err := NewService(cfg, learner, recorder, mirror, metrics.New(), zerolog.Nop())
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2020, 4, 19, 12, 30, 0, 0, time.UTC) }
	return svc, cfg
}

func TestNewService_Validation(t *testing.T) {
	good := Config{Mode: ModeTrain, Episodes: 1, BatchSize: 1, CheckpointEvery: 1}

	_, err := NewService(good, &scriptedLearner{}, nil, nil, nil, zerolog.Nop())
	assert.NoError(t, err)

	bad := good
	bad.Mode = "paper"
	_, err = NewService(bad, &scriptedLearner{}, nil, nil, nil, zerolog.Nop())
	assert.Error(t, err)

	bad = good
	bad.Episodes = 0
	_, err = NewService(bad, &scriptedLearner{}, nil, nil, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewService(good, nil, nil, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestRun_TrainMode(t *testing.T) {
	learner := &scriptedLearner{action: 1, epsilon: 1, minEps: 0.01} // HOLD
	recorder := &fakeRecorder{}
	mirror := &fakeMirror{}
	svc, cfg := newTestService(t, ModeTrain, learner, recorder, mirror)

	// 40 steps, 2 splits: test windows of 13, training windows of 14 and 27
	summary, err := svc.Run(context.Background(), flatPrices(1, 40, 10))
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	require.Len(t, summary.Rounds, 2)
	assert.Equal(t, 14, summary.Rounds[0].Steps)
	assert.Equal(t, 27, summary.Rounds[1].Steps)

	for i, round := range summary.Rounds {
		assert.Equal(t, i+1, round.Round)
		assert.Equal(t, fmt.Sprintf("round-%d-202004191230", i+1), round.Timestamp)
		require.Len(t, round.EndValues, 10)
		for _, v := range round.EndValues {
			assert.Equal(t, 100.0, v, "holding cash over flat prices keeps the value")
		}
		assert.Equal(t, 100.0, round.MeanValue)

		assert.Equal(t, []string{
			filepath.Join(cfg.WeightsDir, fmt.Sprintf("round-%d-202004191230-5-dqn.msgpack", i+1)),
			filepath.Join(cfg.WeightsDir, fmt.Sprintf("round-%d-202004191230-10-dqn.msgpack", i+1)),
		}, round.Checkpoints)

		assert.Equal(t, filepath.Join(cfg.PortfolioDir, fmt.Sprintf("round-%d-202004191230-train.csv", i+1)), round.ReportPath)
		content, err := os.ReadFile(round.ReportPath)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(content)), "\n")
		require.Len(t, lines, 11)
		assert.Equal(t, "portfolio_value", lines[0])
		assert.Equal(t, "100", lines[1])
	}

	// One transition per step after the first, per episode
	assert.Equal(t, 10*13+10*26, learner.MemoryLen())
	assert.Greater(t, learner.replays, 0)
	for _, b := range learner.batchLog {
		assert.Equal(t, 4, b)
	}

	assert.Len(t, learner.saved, 4)
	assert.Len(t, mirror.uploads, 4)
	assert.Equal(t, 1.0, learner.Epsilon(), "train mode leaves exploration to the agent")

	assert.Equal(t, "train", recorder.run.Mode)
	assert.Equal(t, 40, recorder.run.Steps)
	assert.Len(t, recorder.episodes, 20)
	require.Len(t, recorder.checkpoints, 4)
	assert.Equal(t, "checkpoints/round-1-202004191230-5-dqn.msgpack", recorder.checkpoints[0].RemoteKey)
	assert.True(t, recorder.finished)
	assert.NoError(t, recorder.finishErr)

	_, err = os.Stat(cfg.MetricsTextfile)
	assert.NoError(t, err)
}

func TestRun_TerminalTransitionsAndReplayTiming(t *testing.T) {
	learner := &scriptedLearner{action: 1, epsilon: 1}
	svc, _ := newTestService(t, ModeTrain, learner, nil, nil)
	svc.cfg.Episodes = 1

	_, err := svc.Run(context.Background(), flatPrices(1, 40, 10))
	require.NoError(t, err)

	var terminal int
	for _, tr := range learner.memory {
		if tr.Done {
			terminal++
		}
	}
	assert.Equal(t, 2, terminal, "one terminal transition per episode")

	// Round 1 has 13 transitions; replay starts once memory exceeds 4 and
	// never runs on the final step: 8 in round 1, 25 in round 2
	assert.Equal(t, 8+25, learner.replays)
}

func TestRun_TestMode(t *testing.T) {
	learner := &scriptedLearner{action: 1, epsilon: 1, minEps: 0.01}
	recorder := &fakeRecorder{}
	svc, cfg := newTestService(t, ModeTest, learner, recorder, &fakeMirror{})

	summary, err := svc.Run(context.Background(), flatPrices(2, 40, 10))
	require.NoError(t, err)

	assert.Equal(t, 0.01, learner.Epsilon())
	assert.Zero(t, learner.MemoryLen())
	assert.Zero(t, learner.replays)
	assert.Empty(t, learner.saved)
	assert.Empty(t, recorder.checkpoints)

	for _, round := range summary.Rounds {
		assert.Equal(t, 13, round.Steps, "test mode plays the held-out window")
		assert.Empty(t, round.Checkpoints)
		assert.True(t, strings.HasSuffix(round.ReportPath, "-test.csv"))
		assert.Equal(t, cfg.PortfolioDir, filepath.Dir(round.ReportPath))
	}
}

func TestRun_Cancelled(t *testing.T) {
	learner := &scriptedLearner{action: 1, epsilon: 1}
	recorder := &fakeRecorder{}
	svc, _ := newTestService(t, ModeTrain, learner, recorder, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Run(ctx, flatPrices(1, 40, 10))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, recorder.finished)
	assert.ErrorIs(t, recorder.finishErr, context.Canceled)
	assert.Zero(t, learner.MemoryLen())
}

func TestRun_CheckpointFailureIsFatal(t *testing.T) {
	learner := &scriptedLearner{
		action:  1,
		epsilon: 1,
		saveErr: fmt.Errorf("%w: disk full", agent.ErrCheckpointIO),
	}
	recorder := &fakeRecorder{}
	svc, _ := newTestService(t, ModeTrain, learner, recorder, nil)

	summary, err := svc.Run(context.Background(), flatPrices(1, 40, 10))
	assert.ErrorIs(t, err, agent.ErrCheckpointIO)
	assert.Empty(t, summary.Rounds)
	assert.ErrorIs(t, recorder.finishErr, agent.ErrCheckpointIO)
	assert.Len(t, recorder.episodes, 5, "run stops at the first checkpoint")
}

func TestRun_MirrorFailureIsNotFatal(t *testing.T) {
	learner := &scriptedLearner{action: 1, epsilon: 1}
	recorder := &fakeRecorder{}
	svc, _ := newTestService(t, ModeTrain, learner, recorder, &fakeMirror{err: errors.New("offline")})

	_, err := svc.Run(context.Background(), flatPrices(1, 40, 10))
	require.NoError(t, err)
	require.Len(t, recorder.checkpoints, 4)
	assert.Empty(t, recorder.checkpoints[0].RemoteKey)
}

func TestRun_InputErrors(t *testing.T) {
	svc, _ := newTestService(t, ModeTrain, &scriptedLearner{}, nil, nil)

	_, err := svc.Run(context.Background(), environment.PriceMatrix{{1}})
	assert.ErrorIs(t, err, environment.ErrMalformedPriceData)

	// two steps cannot hold three folds
	_, err = svc.Run(context.Background(), flatPrices(1, 2, 10))
	assert.Error(t, err)

	// four steps split three ways leaves single-step windows
	svc.cfg.Splits = 3
	_, err = svc.Run(context.Background(), flatPrices(1, 4, 10))
	assert.ErrorIs(t, err, marketdata.ErrWindowTooShort)
}

func TestRun_ShortTestWindowFailsBeforeStart(t *testing.T) {
	recorder := &fakeRecorder{}
	svc, cfg := newTestService(t, ModeTest, &scriptedLearner{action: 1}, recorder, nil)
	svc.cfg.Splits = 3

	// 7 steps over 3 splits gives one-step test windows
	_, err := svc.Run(context.Background(), flatPrices(1, 7, 10))
	assert.ErrorIs(t, err, marketdata.ErrWindowTooShort)
	assert.Empty(t, recorder.run.Mode)
	assert.False(t, recorder.finished)
	assert.NoFileExists(t, cfg.MetricsTextfile)
}

func TestRun_WithAgent(t *testing.T) {
	cfg := agent.DefaultConfig(3*2+1, environment.ActionSpaceSize(2))
	cfg.Seed = 5
	cfg.HiddenUnits = 8
	a, err := agent.New(cfg, zerolog.Nop())
	require.NoError(t, err)

	svc, scfg := newTestService(t, ModeTrain, a, nil, nil)
	svc.cfg.Episodes = 5

	prices := environment.PriceMatrix{
		{10, 11, 12, 11, 10, 9, 10, 11, 12, 13, 12, 11, 10, 11, 12, 13, 14, 13, 12, 11},
		{5, 5, 6, 6, 7, 7, 6, 6, 5, 5, 4, 4, 5, 5, 6, 6, 7, 7, 8, 8},
	}
	summary, err := svc.Run(context.Background(), prices)
	require.NoError(t, err)

	assert.Less(t, a.Epsilon(), 1.0)
	assert.GreaterOrEqual(t, a.Epsilon(), a.EpsilonMin())
	for _, round := range summary.Rounds {
		for _, v := range round.EndValues {
			assert.GreaterOrEqual(t, v, 0.0)
		}
		require.Len(t, round.Checkpoints, 1)
		_, err := os.Stat(round.Checkpoints[0])
		assert.NoError(t, err)
		assert.Equal(t, scfg.WeightsDir, filepath.Dir(round.Checkpoints[0]))
	}
}
