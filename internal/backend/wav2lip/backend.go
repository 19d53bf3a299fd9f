// Package wav2lip drives the external Wav2Lip inference script.
package wav2lip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ekisa-team/talkinghead/internal/backend"
	"github.com/ekisa-team/talkinghead/internal/config"
	"github.com/ekisa-team/talkinghead/internal/xfs"
)

const (
	probeTimeout = 30 * time.Second

	// scratchDir is where inference.py writes its intermediate AVI, relative to its cwd.
	scratchDir = "temp"

	probeScript = "import torch; print('cuda' if torch.cuda.is_available() else 'cpu')"
)

// Job is one inference invocation. Every path lives inside the request workspace.
type Job struct {
	Face    string
	Audio   string
	Outfile string
	WorkDir string
}

// RuntimeInfo is the result of probing the Python environment.
type RuntimeInfo struct {
	HasTorch bool
	Device   string
}

// Backend implements lip-sync inference by running inference.py.
type Backend struct {
	executor   *backend.Executor
	prober     *backend.Executor
	dir        string
	script     string
	checkpoint string
	cfg        config.Wav2LipConfig
}

// NewBackend creates a Wav2Lip backend. It never fails on a missing
// installation so that health can report it; Infer fails instead.
func NewBackend(cfg config.Wav2LipConfig, checkpoint string) *Backend {
	return NewBackendWithRunner(cfg, checkpoint, backend.ExecCommandRunner{})
}

// NewBackendWithRunner creates a backend with a custom command runner.
func NewBackendWithRunner(cfg config.Wav2LipConfig, checkpoint string, runner backend.CommandRunner) *Backend {
	python := ResolvePython(cfg)
	script := cfg.Script
	if !filepath.IsAbs(script) {
		script = filepath.Join(cfg.Dir, script)
	}

	return &Backend{
		executor:   backend.NewExecutorWithRunner(python, cfg.Timeout, runner),
		prober:     backend.NewExecutorWithRunner(python, probeTimeout, runner),
		dir:        cfg.Dir,
		script:     script,
		checkpoint: checkpoint,
		cfg:        cfg,
	}
}

// Provider returns the backend provider.
func (b *Backend) Provider() backend.BackendProvider {
	return backend.BackendProviderWav2Lip
}

// Dir returns the installation directory.
func (b *Backend) Dir() string {
	return b.dir
}

// Installed reports whether the installation directory and script exist.
func (b *Backend) Installed() bool {
	return xfs.IsDir(b.dir) && xfs.Exists(b.script)
}

// Infer runs inference.py for job. The process runs with job.WorkDir as its
// working directory so its scratch files never collide with other requests.
func (b *Backend) Infer(ctx context.Context, job Job) (backend.CommandLog, error) {
	if err := os.MkdirAll(filepath.Join(job.WorkDir, scratchDir), 0o755); err != nil {
		return backend.CommandLog{}, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	args := b.buildArgs(job)
	slog.Debug("Running inference", "command", backend.Command{Name: b.executor.BinaryPath(), Args: args}.String())

	return b.executor.Execute(ctx, args, job.WorkDir, b.env())
}

// Probe checks that the Python environment can import torch and reports the device.
func (b *Backend) Probe(ctx context.Context) (RuntimeInfo, error) {
	log, err := b.prober.Execute(ctx, []string{"-c", probeScript}, "", b.env())
	if err != nil {
		var exitErr *backend.ExitError
		if errors.As(err, &exitErr) {
			return RuntimeInfo{Device: "cpu"}, fmt.Errorf("torch is not importable: %w", err)
		}
		return RuntimeInfo{}, err
	}

	device := strings.TrimSpace(log.Stdout)
	if i := strings.LastIndexByte(device, '\n'); i >= 0 {
		device = strings.TrimSpace(device[i+1:])
	}
	if device == "" {
		device = "cpu"
	}

	return RuntimeInfo{HasTorch: true, Device: device}, nil
}

// buildArgs builds inference.py arguments. The tuning flags come from config and
// default to values that fit a 4 GB GPU.
func (b *Backend) buildArgs(job Job) []string {
	args := []string{
		b.script,
		"--checkpoint_path", b.checkpoint,
		"--face", job.Face,
		"--audio", job.Audio,
		"--outfile", job.Outfile,
		"--fps", strconv.Itoa(b.cfg.FPS),
		"--pads",
	}
	for _, p := range b.cfg.Pads {
		args = append(args, strconv.Itoa(p))
	}

	return append(args,
		"--face_det_batch_size", strconv.Itoa(b.cfg.FaceDetBatchSize),
		"--wav2lip_batch_size", strconv.Itoa(b.cfg.Wav2LipBatchSize),
		"--resize_factor", strconv.Itoa(b.cfg.ResizeFactor),
	)
}

func (b *Backend) env() []string {
	if b.cfg.CUDAVisibleDevices == "" {
		return nil
	}
	return []string{"CUDA_VISIBLE_DEVICES=" + b.cfg.CUDAVisibleDevices}
}

// Close cleans up resources. Wav2Lip does not have any resources to clean up.
func (b *Backend) Close() error {
	return nil
}

// ResolvePython returns the interpreter used to run inference.py.
// Precedence:
// 1. wav2lip.python from config.
// 2. A venv inside the Wav2Lip directory.
// 3. python3 (or python on Windows) from PATH.
func ResolvePython(cfg config.Wav2LipConfig) string {
	if cfg.Python != "" {
		return cfg.Python
	}

	venv := filepath.Join(cfg.Dir, "venv", "bin", "python")
	fallback := "python3"
	if runtime.GOOS == "windows" {
		venv = filepath.Join(cfg.Dir, "venv", "Scripts", "python.exe")
		fallback = "python"
	}
	if xfs.Exists(venv) {
		return venv
	}

	if path, err := exec.LookPath(fallback); err == nil {
		return path
	}
	return fallback
}
