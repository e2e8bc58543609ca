package runs

import (
	"context"
	"errors"
	"testing"
	"time"

	testutil "github.com/aristath/qtrader/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := testutil.NewTestDB(t, "runs")
	t.Cleanup(cleanup)
	return NewRepository(db, zerolog.Nop())
}

func TestRepository_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	id, err := repo.StartRun(ctx, Run{
		Mode:          "train",
		Instruments:   3,
		Steps:         1000,
		Splits:        3,
		Episodes:      50,
		InitialInvest: 20000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, err := repo.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, "train", run.Mode)
	assert.Equal(t, 3, run.Instruments)
	assert.Equal(t, 20000.0, run.InitialInvest)
	assert.Nil(t, run.FinishedAt)

	require.NoError(t, repo.FinishRun(ctx, id, nil))
	run, err = repo.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Empty(t, run.Error)
	assert.NotNil(t, run.FinishedAt)
}

func TestRepository_FailedRun(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	id, err := repo.StartRun(ctx, Run{Mode: "test"})
	require.NoError(t, err)

	require.NoError(t, repo.FinishRun(ctx, id, errors.New("disk full")))
	run, err := repo.GetRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, "disk full", run.Error)
}

func TestRepository_UnknownRun(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	_, err := repo.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, repo.FinishRun(ctx, "missing", nil), ErrRunNotFound)
}

func TestRepository_EpisodeValues(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	id, err := repo.StartRun(ctx, Run{Mode: "train"})
	require.NoError(t, err)

	require.NoError(t, repo.RecordEpisode(ctx, id, EpisodeValue{Round: 2, Episode: 1, EndValue: 21000, Epsilon: 0.5}))
	require.NoError(t, repo.RecordEpisode(ctx, id, EpisodeValue{Round: 1, Episode: 2, EndValue: 19000, Epsilon: 0.8}))
	require.NoError(t, repo.RecordEpisode(ctx, id, EpisodeValue{Round: 1, Episode: 1, EndValue: 20500, Epsilon: 0.9}))
	// overwrite
	require.NoError(t, repo.RecordEpisode(ctx, id, EpisodeValue{Round: 1, Episode: 1, EndValue: 20600, Epsilon: 0.9}))

	values, err := repo.EpisodeValues(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []EpisodeValue{
		{Round: 1, Episode: 1, EndValue: 20600, Epsilon: 0.9},
		{Round: 1, Episode: 2, EndValue: 19000, Epsilon: 0.8},
		{Round: 2, Episode: 1, EndValue: 21000, Epsilon: 0.5},
	}, values)

	t.Run("foreign key enforced", func(t *testing.T) {
		err := repo.RecordEpisode(ctx, "no-such-run", EpisodeValue{Round: 1, Episode: 1})
		assert.Error(t, err)
	})
}

func TestRepository_Checkpoints(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	latest, err := repo.LatestCheckpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	id, err := repo.StartRun(ctx, Run{Mode: "train"})
	require.NoError(t, err)

	base := time.Date(2020, 4, 19, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordCheckpoint(ctx, id, Checkpoint{Round: 1, Episode: 10, Path: "/w/a", SavedAt: base}))
	require.NoError(t, repo.RecordCheckpoint(ctx, id, Checkpoint{Round: 1, Episode: 20, Path: "/w/b", RemoteKey: "weights/b", SavedAt: base.Add(time.Minute)}))

	checkpoints, err := repo.Checkpoints(ctx, id)
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)
	assert.Equal(t, "/w/a", checkpoints[0].Path)
	assert.Empty(t, checkpoints[0].RemoteKey)
	assert.Equal(t, "weights/b", checkpoints[1].RemoteKey)
	assert.Equal(t, base, checkpoints[0].SavedAt)

	latest, err = repo.LatestCheckpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "/w/b", latest.Path)
	assert.Equal(t, 20, latest.Episode)
}
