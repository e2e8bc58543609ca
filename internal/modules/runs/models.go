// Package runs keeps a SQLite ledger of training runs: their configuration,
// every episode end value and every checkpoint written.
package runs

import "time"

// Status values stored on a run.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run describes one invocation of the trainer.
type Run struct {
	ID            string
	Mode          string
	Instruments   int
	Steps         int
	Splits        int
	Episodes      int
	InitialInvest float64
	Status        string
	Error         string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// EpisodeValue is the portfolio value at the end of one episode.
type EpisodeValue struct {
	Round    int
	Episode  int
	EndValue float64
	Epsilon  float64
}

// Checkpoint records a saved set of estimator weights.
type Checkpoint struct {
	Round     int
	Episode   int
	Path      string
	RemoteKey string
	SavedAt   time.Time
}
