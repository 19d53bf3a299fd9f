package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/ekisa-team/talkinghead/internal/envvar"
	"github.com/ekisa-team/talkinghead/internal/xfs"
)

const (
	defaultHTTPPort          = 8000
	defaultGRPCPort          = 8001
	defaultMaxConcurrentJobs = 1
	defaultQueueTimeout      = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultBodyReadTimeout   = 60 * time.Second
	defaultMaxUploadBytes    = 64 << 20
	defaultRateLimitWindow   = time.Minute

	defaultWav2LipDir       = "~/Wav2Lip"
	defaultScript           = "inference.py"
	defaultCheckpointRel    = "checkpoints/wav2lip_gan.pth"
	defaultInferenceTimeout = 300 * time.Second
	defaultFPS              = 25
	defaultFaceDetBatchSize = 2
	defaultWav2LipBatchSize = 16
	defaultResizeFactor     = 2
	defaultCUDADevices      = "0"
	defaultDevice           = "cuda"

	defaultFFmpegBin     = "ffmpeg"
	defaultSampleRate    = 16000
	defaultChannels      = 1
	defaultFFmpegTimeout = 60 * time.Second

	defaultImageMaxSize   = 512
	defaultImageQuality   = 85
	defaultImageMaxPixels = 178_956_970
)

// defaultPads is top, bottom, left, right padding around the detected face.
var defaultPads = []int{0, 10, 0, 0}

// DefaultHTTPPort returns the HTTP port used when none is configured.
func DefaultHTTPPort() int { return defaultHTTPPort }

// DefaultGRPCPort returns the gRPC health port used when none is configured.
func DefaultGRPCPort() int { return defaultGRPCPort }

// DefaultConfigPath returns the default path for the talkinghead config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "talkinghead", "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "talkinghead")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "talkinghead")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "talkinghead")
		}
		return filepath.Join(home, ".config", "talkinghead")
	}
}

// DefaultWorkDir returns the default root for per-request workspaces.
func DefaultWorkDir() string {
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" && runtime.GOOS == "linux" {
		return filepath.Join(xdg, "talkinghead")
	}
	return filepath.Join(os.TempDir(), "talkinghead")
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{Version: "1"}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero value with its default and expands tildes.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.HTTPPort == 0 {
		s.HTTPPort = defaultHTTPPort
	}
	if s.GRPCPort == 0 {
		s.GRPCPort = defaultGRPCPort
	}
	if s.MaxConcurrentJobs <= 0 {
		s.MaxConcurrentJobs = defaultMaxConcurrentJobs
	}
	if s.QueueTimeout <= 0 {
		s.QueueTimeout = defaultQueueTimeout
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = defaultShutdownTimeout
	}
	if s.BodyReadTimeout <= 0 {
		s.BodyReadTimeout = defaultBodyReadTimeout
	}
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(s.CORSOrigins) == 0 {
		s.CORSOrigins = []string{"*"}
	}
	if s.RateLimit.Requests > 0 && s.RateLimit.Window <= 0 {
		s.RateLimit.Window = defaultRateLimitWindow
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Storage.WorkDir == "" {
		cfg.Storage.WorkDir = DefaultWorkDir()
	}
	cfg.Storage.WorkDir = xfs.ExpandTilde(cfg.Storage.WorkDir)

	w := &cfg.Wav2Lip
	if w.Dir == "" {
		w.Dir = defaultWav2LipDir
	}
	w.Dir = xfs.ExpandTilde(w.Dir)
	if w.Script == "" {
		w.Script = defaultScript
	}
	if w.Timeout <= 0 {
		w.Timeout = defaultInferenceTimeout
	}
	if w.FPS <= 0 {
		w.FPS = defaultFPS
	}
	if len(w.Pads) == 0 {
		w.Pads = append([]int(nil), defaultPads...)
	}
	if w.FaceDetBatchSize <= 0 {
		w.FaceDetBatchSize = defaultFaceDetBatchSize
	}
	if w.Wav2LipBatchSize <= 0 {
		w.Wav2LipBatchSize = defaultWav2LipBatchSize
	}
	if w.ResizeFactor <= 0 {
		w.ResizeFactor = defaultResizeFactor
	}
	if w.CUDAVisibleDevices == "" {
		w.CUDAVisibleDevices = defaultCUDADevices
	}
	if w.Device == "" {
		w.Device = defaultDevice
	}
	w.Python = xfs.ExpandTilde(w.Python)

	if cfg.Model.CheckpointPath == "" {
		cfg.Model.CheckpointPath = filepath.Join(w.Dir, filepath.FromSlash(defaultCheckpointRel))
	}
	cfg.Model.CheckpointPath = xfs.ExpandTilde(cfg.Model.CheckpointPath)

	f := &cfg.FFmpeg
	if f.BinPath == "" {
		f.BinPath = defaultFFmpegBin
	}
	if f.SampleRate <= 0 {
		f.SampleRate = defaultSampleRate
	}
	if f.Channels <= 0 {
		f.Channels = defaultChannels
	}
	if f.Timeout <= 0 {
		f.Timeout = defaultFFmpegTimeout
	}

	if cfg.Image.MaxSize <= 0 {
		cfg.Image.MaxSize = defaultImageMaxSize
	}
	if cfg.Image.Quality <= 0 {
		cfg.Image.Quality = defaultImageQuality
	}
	if cfg.Image.MaxPixels <= 0 {
		cfg.Image.MaxPixels = defaultImageMaxPixels
	}
}

// ApplyEnv overrides selected values from TALKINGHEAD_* environment variables.
// Invalid port values are ignored.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(envvar.TalkingHeadServerHTTPPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = port
		}
	}
	if v := os.Getenv(envvar.TalkingHeadServerGRPCPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.GRPCPort = port
		}
	}
	if v := os.Getenv(envvar.TalkingHeadWav2LipDir); v != "" {
		cfg.Wav2Lip.Dir = xfs.ExpandTilde(v)
	}
	if v := os.Getenv(envvar.TalkingHeadCheckpointPath); v != "" {
		cfg.Model.CheckpointPath = xfs.ExpandTilde(v)
	}
	if v := os.Getenv(envvar.TalkingHeadWorkDir); v != "" {
		cfg.Storage.WorkDir = xfs.ExpandTilde(v)
	}
	if v := os.Getenv(envvar.TalkingHeadLogLevel); v != "" {
		cfg.Logging.Level = v
	}
}
