package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// checkpointVersion is bumped whenever the file layout changes.
const checkpointVersion = 1

// checkpointFile is the msgpack document written by Save.
type checkpointFile struct {
	Version    int        `msgpack:"version"`
	SavedAt    time.Time  `msgpack:"saved_at"`
	Parameters Parameters `msgpack:"parameters"`
}

// Save writes the estimator parameters to path. The file is written to a
// sibling temp file first and renamed into place.
func (a *Agent) Save(path string) error {
	data, err := msgpack.Marshal(checkpointFile{
		Version:    checkpointVersion,
		SavedAt:    time.Now().UTC(),
		Parameters: a.estimator.Parameters(),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to encode checkpoint: %v", ErrCheckpointIO, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: failed to create checkpoint directory: %v", ErrCheckpointIO, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: failed to write checkpoint %s: %v", ErrCheckpointIO, path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: failed to move checkpoint into place %s: %v", ErrCheckpointIO, path, err)
	}

	a.log.Info().Str("path", path).Msg("Checkpoint saved")
	return nil
}

// Load restores estimator parameters from path. Nothing else about the agent
// changes.
func (a *Agent) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: failed to read checkpoint %s: %v", ErrCheckpointIO, path, err)
	}

	var file checkpointFile
	if err := msgpack.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: failed to decode checkpoint %s: %v", ErrCheckpointIO, path, err)
	}
	if file.Version != checkpointVersion {
		return fmt.Errorf("%w: checkpoint %s has version %d, expected %d", ErrCheckpointIO, path, file.Version, checkpointVersion)
	}

	if err := a.estimator.SetParameters(file.Parameters); err != nil {
		return fmt.Errorf("%w: checkpoint %s does not fit the estimator: %v", ErrCheckpointIO, path, err)
	}

	a.log.Info().Str("path", path).Time("saved_at", file.SavedAt).Msg("Checkpoint loaded")
	return nil
}
