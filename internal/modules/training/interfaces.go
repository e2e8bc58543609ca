package training

import (
	"context"

	"github.com/aristath/qtrader/internal/modules/agent"
	"github.com/aristath/qtrader/internal/modules/runs"
)

// Learner is the agent surface the driver needs. *agent.Agent implements it.
type Learner interface {
	Act(obs []float64) int
	Remember(t agent.Transition)
	Replay(batchSize int) (float64, error)
	MemoryLen() int
	Epsilon() float64
	SetEpsilon(epsilon float64)
	EpsilonMin() float64
	Save(path string) error
}

// RunRecorder persists run progress. *runs.Repository implements it.
type RunRecorder interface {
	StartRun(ctx context.Context, run runs.Run) (string, error)
	RecordEpisode(ctx context.Context, runID string, v runs.EpisodeValue) error
	RecordCheckpoint(ctx context.Context, runID string, c runs.Checkpoint) error
	FinishRun(ctx context.Context, runID string, runErr error) error
}

// CheckpointMirror copies checkpoint files off the host.
// *reliability.CheckpointMirror implements it.
type CheckpointMirror interface {
	Enabled() bool
	Upload(ctx context.Context, localPath string) (string, error)
}
