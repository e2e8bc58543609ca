package runs

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/qtrader/internal/database"
	"github.com/rs/zerolog"
)

// ResumeLatest selects the newest checkpoint recorded in the ledger.
const ResumeLatest = "latest"

// ErrNoCheckpoint is returned when ResumeLatest is requested from an empty ledger.
var ErrNoCheckpoint = errors.New("no checkpoint recorded")

// Ledger owns the run database for one trainer invocation.
type Ledger struct {
	*Repository
	db *database.DB
}

// OpenLedger opens the run database at path, applies its schema and verifies
// its integrity before any run is written to it.
func OpenLedger(ctx context.Context, path string, log zerolog.Logger) (*Ledger, error) {
	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileLedger,
		Name:    "runs",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open run ledger: %w", err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate run ledger: %w", err)
	}
	if err := db.HealthCheck(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run ledger failed health check: %w", err)
	}

	return &Ledger{Repository: NewRepository(db, log), db: db}, nil
}

// Close folds the write-ahead log back into the database file and closes it.
func (l *Ledger) Close() error {
	if err := l.db.WALCheckpoint(); err != nil {
		l.log.Warn().Err(err).Msg("Failed to checkpoint run ledger")
	}
	return l.db.Close()
}

// ResolveResume maps a resume reference to a checkpoint. ResumeLatest picks
// the newest checkpoint in the ledger; anything else is a weights file path.
func (r *Repository) ResolveResume(ctx context.Context, ref string) (*Checkpoint, error) {
	if ref != ResumeLatest {
		return &Checkpoint{Path: ref}, nil
	}

	c, err := r.LatestCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrNoCheckpoint
	}
	return c, nil
}

// RunReport summarizes what the ledger holds for one run.
type RunReport struct {
	Run            Run
	Episodes       int
	Checkpoints    int
	BestEndValue   float64
	LastCheckpoint *Checkpoint
}

// Report reads a run back from the ledger.
func (r *Repository) Report(ctx context.Context, runID string) (*RunReport, error) {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	values, err := r.EpisodeValues(ctx, runID)
	if err != nil {
		return nil, err
	}
	checkpoints, err := r.Checkpoints(ctx, runID)
	if err != nil {
		return nil, err
	}

	report := &RunReport{
		Run:         *run,
		Episodes:    len(values),
		Checkpoints: len(checkpoints),
	}
	for i, v := range values {
		if i == 0 || v.EndValue > report.BestEndValue {
			report.BestEndValue = v.EndValue
		}
	}
	if len(checkpoints) > 0 {
		last := checkpoints[len(checkpoints)-1]
		report.LastCheckpoint = &last
	}
	return report, nil
}
