package model

import "errors"

// Error definitions for the model package.
var (
	ErrCheckpointMissing = errors.New("model checkpoint not found")
)
