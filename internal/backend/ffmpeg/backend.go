// Package ffmpeg converts uploaded audio into the PCM WAV the lip-sync model expects.
package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/ekisa-team/talkinghead/internal/backend"
	"github.com/ekisa-team/talkinghead/internal/config"
)

// Backend runs ffmpeg as an audio transcoder.
type Backend struct {
	executor   *backend.Executor
	sampleRate int
	channels   int
}

// NewBackend creates an ffmpeg backend from config. The binary must be resolvable.
func NewBackend(cfg config.FFmpegConfig) (*Backend, error) {
	executor, err := backend.NewExecutor(cfg.BinPath, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	return NewBackendWithExecutor(executor, cfg), nil
}

// NewBackendWithExecutor creates a backend around an existing executor.
func NewBackendWithExecutor(executor *backend.Executor, cfg config.FFmpegConfig) *Backend {
	return &Backend{
		executor:   executor,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
	}
}

// Provider returns the backend provider.
func (b *Backend) Provider() backend.BackendProvider {
	return backend.BackendProviderFFmpeg
}

// Transcode converts src into a mono 16 kHz PCM WAV at dst (rate and channels come from config).
// A zero exit without a non-empty dst is reported as an error.
func (b *Backend) Transcode(ctx context.Context, src, dst string) (backend.CommandLog, error) {
	log, err := b.executor.Execute(ctx, b.buildArgs(src, dst), "", nil)
	if err != nil {
		return log, err
	}

	info, err := os.Stat(dst)
	if err != nil {
		return log, fmt.Errorf("ffmpeg completed but output file is missing: %w", err)
	}
	if info.Size() == 0 {
		return log, fmt.Errorf("ffmpeg completed but output file is empty: %s", dst)
	}

	return log, nil
}

// buildArgs builds ffmpeg arguments for PCM WAV output.
func (b *Backend) buildArgs(src, dst string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", src,
		"-vn",
		"-ar", strconv.Itoa(b.sampleRate),
		"-ac", strconv.Itoa(b.channels),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		dst,
	}
}

// Close cleans up resources. ffmpeg does not have any resources to clean up.
func (b *Backend) Close() error {
	return nil
}
