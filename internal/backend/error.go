package backend

import (
	"context"
	"errors"
	"fmt"
)

// Error definitions for the backend package.
var (
	ErrBinaryNotFound = errors.New("binary not found")
	ErrTimeout        = fmt.Errorf("command timed out: %w", context.DeadlineExceeded)
)

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Command, e.Code, e.Stderr)
}

// Unwrap exposes the underlying *exec.ExitError.
func (e *ExitError) Unwrap() error {
	return e.Err
}
