package agent

import "errors"

var (
	// ErrInsufficientSamples is returned when a replay batch exceeds the memory size.
	ErrInsufficientSamples = errors.New("insufficient samples")
	// ErrCheckpointIO wraps estimator parameter persistence failures.
	ErrCheckpointIO = errors.New("checkpoint io failure")
)
