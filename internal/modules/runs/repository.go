package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/qtrader/internal/database"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Repository handles database operations for the run ledger.
// Database: runs.db (runs, episode_values, checkpoints tables)
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a new run repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repository", "runs").Logger(),
	}
}

// StartRun inserts a new running run and returns its generated ID.
func (r *Repository) StartRun(ctx context.Context, run Run) (string, error) {
	id := uuid.New().String()
	started := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, instruments, steps, splits, episodes, initial_invest, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, run.Mode, run.Instruments, run.Steps, run.Splits, run.Episodes, run.InitialInvest, StatusRunning, started.Unix())
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	r.log.Info().
		Str("run_id", id).
		Str("mode", run.Mode).
		Msg("Run started")

	return id, nil
}

// RecordEpisode stores an episode end value. Re-recording the same episode
// overwrites it.
func (r *Repository) RecordEpisode(ctx context.Context, runID string, v EpisodeValue) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO episode_values (run_id, round, episode, end_value, epsilon, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, v.Round, v.Episode, v.EndValue, v.Epsilon, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to record episode %d of round %d: %w", v.Episode, v.Round, err)
	}
	return nil
}

// RecordCheckpoint stores a checkpoint entry.
func (r *Repository) RecordCheckpoint(ctx context.Context, runID string, c Checkpoint) error {
	savedAt := c.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	var remote interface{}
	if c.RemoteKey != "" {
		remote = c.RemoteKey
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoints (run_id, round, episode, path, remote_key, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, c.Round, c.Episode, c.Path, remote, savedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record checkpoint %s: %w", c.Path, err)
	}

	r.log.Debug().
		Str("run_id", runID).
		Str("path", c.Path).
		Msg("Checkpoint recorded")

	return nil
}

// FinishRun marks a run completed, or failed when runErr is non-nil.
func (r *Repository) FinishRun(ctx context.Context, runID string, runErr error) error {
	status := StatusCompleted
	var message interface{}
	if runErr != nil {
		status = StatusFailed
		message = runErr.Error()
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, message, time.Now().UTC().Unix(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	r.log.Info().
		Str("run_id", runID).
		Str("status", status).
		Msg("Run finished")

	return nil
}

// GetRun loads a run by ID.
func (r *Repository) GetRun(ctx context.Context, runID string) (*Run, error) {
	var (
		run        Run
		errMsg     sql.NullString
		startedAt  int64
		finishedAt sql.NullInt64
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, mode, instruments, steps, splits, episodes, initial_invest, status, error, started_at, finished_at
		FROM runs WHERE id = ?
	`, runID).Scan(&run.ID, &run.Mode, &run.Instruments, &run.Steps, &run.Splits, &run.Episodes,
		&run.InitialInvest, &run.Status, &errMsg, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	run.Error = errMsg.String
	run.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		run.FinishedAt = &t
	}

	return &run, nil
}

// EpisodeValues returns a run's episode end values ordered by round and episode.
func (r *Repository) EpisodeValues(ctx context.Context, runID string) ([]EpisodeValue, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT round, episode, end_value, epsilon
		FROM episode_values
		WHERE run_id = ?
		ORDER BY round, episode
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query episode values: %w", err)
	}
	defer rows.Close()

	var values []EpisodeValue
	for rows.Next() {
		var v EpisodeValue
		if err := rows.Scan(&v.Round, &v.Episode, &v.EndValue, &v.Epsilon); err != nil {
			return nil, fmt.Errorf("failed to scan episode value row: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating episode value rows: %w", err)
	}

	return values, nil
}

// Checkpoints returns a run's checkpoints ordered by round and episode.
func (r *Repository) Checkpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT round, episode, path, remote_key, saved_at
		FROM checkpoints
		WHERE run_id = ?
		ORDER BY round, episode
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []Checkpoint
	for rows.Next() {
		var (
			c       Checkpoint
			remote  sql.NullString
			savedAt int64
		)
		if err := rows.Scan(&c.Round, &c.Episode, &c.Path, &remote, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		c.RemoteKey = remote.String
		c.SavedAt = time.Unix(savedAt, 0).UTC()
		checkpoints = append(checkpoints, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}

	return checkpoints, nil
}

// LatestCheckpoint returns the most recently saved checkpoint across all runs,
// or nil when none exist.
func (r *Repository) LatestCheckpoint(ctx context.Context) (*Checkpoint, error) {
	var (
		c       Checkpoint
		remote  sql.NullString
		savedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT round, episode, path, remote_key, saved_at
		FROM checkpoints
		ORDER BY saved_at DESC, rowid DESC
		LIMIT 1
	`).Scan(&c.Round, &c.Episode, &c.Path, &remote, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest checkpoint: %w", err)
	}

	c.RemoteKey = remote.String
	c.SavedAt = time.Unix(savedAt, 0).UTC()
	return &c, nil
}
