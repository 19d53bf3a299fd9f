package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ekisa-team/talkinghead/internal/backend/wav2lip"
)

const (
	HealthStatusHealthy  = "healthy"
	HealthStatusNotReady = "not_ready"
	ModeWav2Lip          = "Wav2Lip"
)

// Installation reports whether the lip-sync tool is installed.
type Installation interface {
	Installed() bool
}

// RuntimeProber checks the Python runtime of the lip-sync tool.
type RuntimeProber interface {
	Probe(ctx context.Context) (wav2lip.RuntimeInfo, error)
}

// HealthReport is the readiness summary exposed by the health endpoints.
type HealthReport struct {
	Status           string `json:"status"`
	Mode             string `json:"mode"`
	Device           string `json:"device"`
	HasTorch         bool   `json:"has_torch"`
	ModelLoaded      bool   `json:"model_loaded"`
	Wav2LipExists    bool   `json:"wav2lip_exists"`
	CheckpointExists bool   `json:"checkpoint_exists"`
}

// Ready reports whether generation can run.
func (h HealthReport) Ready() bool {
	return h.Status == HealthStatusHealthy
}

// Health computes readiness from file existence. The runtime probe runs at
// most once and only when enabled.
type Health struct {
	install     Installation
	checkpoints CheckpointChecker
	device      string

	mu      sync.RWMutex
	runtime *wav2lip.RuntimeInfo
}

// NewHealth creates a health reporter. device is reported until a runtime probe says otherwise.
func NewHealth(install Installation, checkpoints CheckpointChecker, device string) *Health {
	return &Health{
		install:     install,
		checkpoints: checkpoints,
		device:      device,
	}
}

// ProbeRuntime runs the runtime probe once and caches its result.
func (h *Health) ProbeRuntime(ctx context.Context, prober RuntimeProber) {
	info, err := prober.Probe(ctx)
	if err != nil {
		slog.Warn("Runtime probe failed", "error", err)
	} else {
		slog.Info("Runtime probe succeeded", "device", info.Device)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.runtime = &info
}

// Report builds the current health report.
func (h *Health) Report() HealthReport {
	wav2lipExists := h.install.Installed()
	checkpointExists := h.checkpoints.Check().Present()
	ready := wav2lipExists && checkpointExists

	report := HealthReport{
		Status:           HealthStatusNotReady,
		Mode:             ModeWav2Lip,
		Device:           h.device,
		ModelLoaded:      ready,
		Wav2LipExists:    wav2lipExists,
		CheckpointExists: checkpointExists,
	}
	if ready {
		report.Status = HealthStatusHealthy
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.runtime != nil {
		report.HasTorch = h.runtime.HasTorch
		if h.runtime.Device != "" {
			report.Device = h.runtime.Device
		}
	}

	return report
}
