package config

import (
	"errors"
	"time"
)

// SourceType represents the type of checkpoint source.
type SourceType string

const (
	// SourceTypeHuggingFace represents a Hugging Face model repository source.
	SourceTypeHuggingFace SourceType = "huggingface"
)

// Config holds the main configuration for the application.
type Config struct {
	Version string        `json:"version"           yaml:"version"`
	Server  ServerConfig  `json:"server"            yaml:"server"`
	Logging LoggingConfig `json:"logging,omitempty" yaml:"logging,omitempty"`
	Storage StorageConfig `json:"storage,omitempty" yaml:"storage,omitempty"`
	Model   ModelConfig   `json:"model"             yaml:"model"`
	Wav2Lip Wav2LipConfig `json:"wav2lip"           yaml:"wav2lip"`
	FFmpeg  FFmpegConfig  `json:"ffmpeg,omitempty"  yaml:"ffmpeg,omitempty"`
	Image   ImageConfig   `json:"image,omitempty"   yaml:"image,omitempty"`
}

// ServerConfig holds the listener and admission settings.
type ServerConfig struct {
	Host              string          `json:"host,omitempty"                yaml:"host,omitempty"`
	HTTPPort          int             `json:"http_port,omitempty"           yaml:"http_port,omitempty"`
	GRPCPort          int             `json:"grpc_port,omitempty"           yaml:"grpc_port,omitempty"`
	MaxConcurrentJobs int             `json:"max_concurrent_jobs,omitempty" yaml:"max_concurrent_jobs,omitempty"`
	QueueTimeout      time.Duration   `json:"queue_timeout,omitempty"       yaml:"queue_timeout,omitempty"`
	ShutdownTimeout   time.Duration   `json:"shutdown_timeout,omitempty"    yaml:"shutdown_timeout,omitempty"`
	BodyReadTimeout   time.Duration   `json:"body_read_timeout,omitempty"   yaml:"body_read_timeout,omitempty"`
	MaxUploadBytes    int64           `json:"max_upload_bytes,omitempty"    yaml:"max_upload_bytes,omitempty"`
	CORSOrigins       []string        `json:"cors_origins,omitempty"        yaml:"cors_origins,omitempty"`
	RateLimit         RateLimitConfig `json:"rate_limit,omitempty"          yaml:"rate_limit,omitempty"`
}

// RateLimitConfig limits generate requests per client IP. Zero requests disables it.
type RateLimitConfig struct {
	Requests int           `json:"requests,omitempty" yaml:"requests,omitempty"`
	Window   time.Duration `json:"window,omitempty"   yaml:"window,omitempty"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"   yaml:"level,omitempty"`
	ToFile bool   `json:"to_file,omitempty" yaml:"to_file,omitempty"`
	File   string `json:"file,omitempty"    yaml:"file,omitempty"`
}

// StorageConfig holds the location of per-request workspaces.
type StorageConfig struct {
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
}

// ModelConfig describes the lip-sync checkpoint.
type ModelConfig struct {
	CheckpointPath string       `json:"checkpoint_path,omitempty" yaml:"checkpoint_path,omitempty"`
	Source         SourceConfig `json:"source,omitempty"          yaml:"source,omitempty"`
}

// SourceConfig wraps optional sources (only one should be set).
type SourceConfig struct {
	HuggingFace *HuggingFaceSource `json:"huggingface,omitempty" yaml:"huggingface,omitempty"`
}

// Wav2LipConfig holds the inference tool location and tuning flags.
type Wav2LipConfig struct {
	Dir                string        `json:"dir"                            yaml:"dir"`
	Python             string        `json:"python,omitempty"               yaml:"python,omitempty"`
	Script             string        `json:"script,omitempty"               yaml:"script,omitempty"`
	Timeout            time.Duration `json:"timeout,omitempty"              yaml:"timeout,omitempty"`
	FPS                int           `json:"fps,omitempty"                  yaml:"fps,omitempty"`
	Pads               []int         `json:"pads,omitempty"                 yaml:"pads,omitempty"`
	FaceDetBatchSize   int           `json:"face_det_batch_size,omitempty"  yaml:"face_det_batch_size,omitempty"`
	Wav2LipBatchSize   int           `json:"wav2lip_batch_size,omitempty"   yaml:"wav2lip_batch_size,omitempty"`
	ResizeFactor       int           `json:"resize_factor,omitempty"        yaml:"resize_factor,omitempty"`
	CUDAVisibleDevices string        `json:"cuda_visible_devices,omitempty" yaml:"cuda_visible_devices,omitempty"`
	Device             string        `json:"device,omitempty"               yaml:"device,omitempty"`
	ProbeRuntime       bool          `json:"probe_runtime,omitempty"        yaml:"probe_runtime,omitempty"`
}

// FFmpegConfig holds the audio transcoder settings.
type FFmpegConfig struct {
	BinPath    string        `json:"bin_path,omitempty"    yaml:"bin_path,omitempty"`
	SampleRate int           `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	Channels   int           `json:"channels,omitempty"    yaml:"channels,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"     yaml:"timeout,omitempty"`
}

// ImageConfig holds face image normalization settings.
type ImageConfig struct {
	MaxSize   int   `json:"max_size,omitempty"   yaml:"max_size,omitempty"`
	Quality   int   `json:"quality,omitempty"    yaml:"quality,omitempty"`
	MaxPixels int64 `json:"max_pixels,omitempty" yaml:"max_pixels,omitempty"`
}

// -------------------------
// Source definitions
// -------------------------

// CheckpointSource represents a source for the checkpoint file.
type CheckpointSource interface {
	Type() SourceType
}

// HuggingFaceSource represents a Hugging Face model repository source.
type HuggingFaceSource struct {
	Repo          string `json:"repo"                     yaml:"repo"`
	Filename      string `json:"filename"                 yaml:"filename"`
	Revision      string `json:"revision,omitempty"       yaml:"revision,omitempty"`
	RepoType      string `json:"repo_type,omitempty"      yaml:"repo_type,omitempty"`
	Token         string `json:"token,omitempty"          yaml:"token,omitempty"`
	ForceDownload bool   `json:"force_download,omitempty" yaml:"force_download,omitempty"`
}

// Type returns the Hugging Face source type.
func (h HuggingFaceSource) Type() SourceType {
	return SourceTypeHuggingFace
}

// ErrNoSource is returned by GetSource when the checkpoint has no download source.
var ErrNoSource = errors.New("no source configured for checkpoint")

// GetSource returns the active source for the checkpoint.
func (m *ModelConfig) GetSource() (CheckpointSource, error) {
	if m.Source.HuggingFace != nil {
		return *m.Source.HuggingFace, nil
	}

	return nil, ErrNoSource
}
