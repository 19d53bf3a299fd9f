// Package workspace provides request-scoped scratch directories that are
// created and removed as a unit.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/ekisa-team/talkinghead/internal/metrics"
)

// tokenPattern matches directory names produced by request tokens.
var tokenPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ErrInvalidToken is returned when a token cannot name a workspace.
var ErrInvalidToken = errors.New("workspace: invalid token")

// Workspace is the directory holding every file of one generation.
type Workspace struct {
	dir       string
	token     string
	closeOnce sync.Once
	closeErr  error
}

// New creates <root>/<token>. The token must be 32 lowercase hex characters.
func New(root, token string) (*Workspace, error) {
	if !tokenPattern.MatchString(token) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create root %s: %w", root, err)
	}

	dir := filepath.Join(root, token)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("workspace: create %s: %w", dir, err)
	}

	return &Workspace{dir: dir, token: token}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Token returns the request token naming the workspace.
func (w *Workspace) Token() string {
	return w.token
}

// Path returns the path of name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, filepath.Base(name))
}

// Close removes the workspace and everything in it. Failures are logged and
// counted; the error is returned for callers that care but is never fatal.
func (w *Workspace) Close() error {
	w.closeOnce.Do(func() {
		if err := os.RemoveAll(w.dir); err != nil {
			metrics.CleanupFailures.Inc()
			slog.Warn("Failed to remove workspace", "token", w.token, "dir", w.dir, "error", err)
			w.closeErr = err
			return
		}
		slog.Debug("Workspace removed", "token", w.token)
	})

	return w.closeErr
}

// Sweep removes workspace directories left under root by a previous process.
// Entries that do not look like workspaces are left alone.
func Sweep(root string) (int, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("workspace: read %s: %w", root, err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || !tokenPattern.MatchString(e.Name()) {
			continue
		}
		path := filepath.Join(root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			metrics.CleanupFailures.Inc()
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Removed leftover workspaces", "root", root, "count", removed)
	}

	return removed, errors.Join(errs...)
}
