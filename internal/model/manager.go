// Package model tracks the lip-sync checkpoint on disk.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ekisa-team/talkinghead/internal/config"
	"github.com/ekisa-team/talkinghead/internal/config/source"
	"github.com/ekisa-team/talkinghead/internal/metrics"
)

// Status is the lifecycle state of the checkpoint.
type Status string

const (
	StatusPresent     Status = "present"
	StatusMissing     Status = "missing"
	StatusDownloading Status = "downloading"
	StatusFailed      Status = "failed"
)

// Checkpoint is a snapshot of the checkpoint state.
type Checkpoint struct {
	Path      string    `json:"path"`
	Status    Status    `json:"status"`
	Size      int64     `json:"size"`
	CheckedAt time.Time `json:"checked_at"`
}

// Present reports whether the checkpoint file was found.
func (c Checkpoint) Present() bool {
	return c.Status == StatusPresent
}

// Manager owns the checkpoint lifecycle.
type Manager struct {
	cfg        config.ModelConfig
	downloader source.Downloader
	state      Checkpoint
	mu         sync.RWMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithDownloader overrides the downloader derived from the configured source.
func WithDownloader(d source.Downloader) Option {
	return func(m *Manager) {
		m.downloader = d
	}
}

// NewManager creates a new Manager for the configured checkpoint.
func NewManager(cfg config.ModelConfig, opts ...Option) *Manager {
	m := &Manager{
		cfg:   cfg,
		state: Checkpoint{Path: cfg.CheckpointPath, Status: StatusMissing},
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Path returns the checkpoint path.
func (m *Manager) Path() string {
	return m.cfg.CheckpointPath
}

// Ensure makes the checkpoint available, downloading it when a source is
// configured. A missing checkpoint without a source is not an error: the
// server starts and reports not_ready.
func (m *Manager) Ensure(ctx context.Context) (Checkpoint, error) {
	if cp := m.Check(); cp.Present() {
		slog.Info("Checkpoint present", "path", cp.Path, "size", cp.Size)
		return cp, nil
	}

	downloader, err := m.resolveDownloader()
	if errors.Is(err, config.ErrNoSource) {
		slog.Warn("Checkpoint missing and no download source configured", "path", m.cfg.CheckpointPath)
		return m.Check(), nil
	}
	if err != nil {
		m.setStatus(StatusFailed)
		return m.Snapshot(), fmt.Errorf("failed to prepare checkpoint download: %w", err)
	}

	m.setStatus(StatusDownloading)
	if err := downloader.Download(ctx, m.cfg.CheckpointPath); err != nil {
		m.setStatus(StatusFailed)
		return m.Snapshot(), fmt.Errorf("failed to download checkpoint into %s: %w", m.cfg.CheckpointPath, err)
	}

	cp := m.Check()
	if !cp.Present() {
		m.setStatus(StatusFailed)
		return m.Snapshot(), fmt.Errorf("%w after download: %s", ErrCheckpointMissing, m.cfg.CheckpointPath)
	}

	return cp, nil
}

// Check stats the checkpoint file and refreshes the cached state.
func (m *Manager) Check() Checkpoint {
	info, err := os.Stat(m.cfg.CheckpointPath)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Path = m.cfg.CheckpointPath
	m.state.CheckedAt = time.Now()
	switch {
	case err == nil && !info.IsDir():
		m.state.Status = StatusPresent
		m.state.Size = info.Size()
	case m.state.Status == StatusDownloading || m.state.Status == StatusFailed:
		m.state.Size = 0
	default:
		m.state.Status = StatusMissing
		m.state.Size = 0
	}
	metrics.RecordCheckpoint(m.state.Status == StatusPresent)

	return m.state
}

// Snapshot returns the last known state without touching the filesystem.
func (m *Manager) Snapshot() Checkpoint {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state
}

func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Status = status
	m.state.CheckedAt = time.Now()
}

func (m *Manager) resolveDownloader() (source.Downloader, error) {
	if m.downloader != nil {
		return m.downloader, nil
	}

	src, err := m.cfg.GetSource()
	if err != nil {
		return nil, err
	}

	return source.NewDownloader(src)
}
