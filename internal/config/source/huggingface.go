package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ekisa-team/talkinghead/internal/backend"
	"github.com/ekisa-team/talkinghead/internal/config"
)

const (
	defaultRetryDelay = 2 * time.Second
	defaultMaxRetries = 3
	defaultTimeout    = 5 * time.Minute
	markerFilename    = ".talkinghead-downloaded"
	hfBinary          = "hf"
)

// HuggingFaceDownloader fetches a single checkpoint file with the hf CLI.
type HuggingFaceDownloader struct {
	source     config.HuggingFaceSource
	executor   *backend.Executor
	retryDelay time.Duration
	maxRetries int
}

// NewHuggingFaceDownloader creates a downloader that resolves hf from PATH.
func NewHuggingFaceDownloader(src config.HuggingFaceSource) (*HuggingFaceDownloader, error) {
	executor, err := backend.NewExecutor(hfBinary, defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("huggingface cli unavailable: %w", err)
	}

	return NewHuggingFaceDownloaderWithExecutor(src, executor), nil
}

// NewHuggingFaceDownloaderWithExecutor creates a downloader with a custom executor.
func NewHuggingFaceDownloaderWithExecutor(src config.HuggingFaceSource, executor *backend.Executor) *HuggingFaceDownloader {
	return &HuggingFaceDownloader{
		source:     src,
		executor:   executor,
		retryDelay: defaultRetryDelay,
		maxRetries: defaultMaxRetries,
	}
}

// Provider returns the backend provider.
func (d *HuggingFaceDownloader) Provider() backend.BackendProvider {
	return backend.BackendProviderHuggingFace
}

// Download places the configured file at dest. It skips the download when
// dest exists and the marker matches the configured source.
func (d *HuggingFaceDownloader) Download(ctx context.Context, dest string) error {
	repo := strings.TrimSpace(d.source.Repo)
	filename := strings.TrimSpace(d.source.Filename)
	if repo == "" || filename == "" {
		return fmt.Errorf("invalid huggingface source: repo=%q filename=%q", repo, filename)
	}

	dir := filepath.Dir(dest)
	markerPath := filepath.Join(dir, markerFilename)
	markerContent := d.markerContent(repo, filename)

	if _, err := os.Stat(dest); err == nil && !d.source.ForceDownload {
		if !d.shouldRedownload(markerPath, markerContent) {
			slog.Info("Checkpoint already downloaded and up-to-date (marker match), skipping", "repo", repo, "path", dest)
			return nil
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	args := d.buildArgs(repo, filename, dir)

	var lastErr error
	for attempt := range d.maxRetries {
		if attempt > 0 {
			slog.Info("Retrying download", "repo", repo, "attempt", attempt+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return fmt.Errorf("download canceled: %w", ctx.Err())
			case <-time.After(d.retryDelay):
			}
		} else {
			slog.Info("Downloading checkpoint", "repo", repo, "file", filename, "path", dest)
		}

		log, err := d.executor.Execute(ctx, args, "", nil)
		if err == nil {
			err = d.place(filepath.Join(dir, filename), dest)
		}
		if err == nil {
			if err := os.WriteFile(markerPath, []byte(markerContent), 0o644); err != nil {
				slog.Warn("Failed to write download marker", "path", markerPath, "error", err)
			}

			slog.Info("Checkpoint downloaded successfully", "repo", repo, "path", dest, "attempt", attempt+1, "duration", log.Duration)
			return nil
		}

		lastErr = err
		slog.Error("Failed to download checkpoint", "repo", repo, "attempt", attempt+1, "error", err, "stderr", log.StderrTail(512))

		switch {
		case errors.Is(err, context.Canceled):
			return fmt.Errorf("download canceled: %w", err)
		case errors.Is(err, backend.ErrTimeout):
			slog.Warn("Download timed out", "repo", repo, "attempt", attempt+1)
		}
	}

	return lastErr
}

func (d *HuggingFaceDownloader) buildArgs(repo, filename, dir string) []string {
	args := []string{"download", repo, filename, "--local-dir", dir}

	if d.source.Revision != "" {
		args = append(args, "--revision", d.source.Revision)
	}
	if d.source.RepoType != "" {
		args = append(args, "--repo-type", d.source.RepoType)
	}
	if d.source.ForceDownload {
		args = append(args, "--force-download")
	}
	if d.source.Token != "" {
		args = append(args, "--token", d.source.Token)
	}

	return args
}

// place moves the downloaded file to dest when the repository file name
// differs from the configured checkpoint path.
func (d *HuggingFaceDownloader) place(downloaded, dest string) error {
	if filepath.Clean(downloaded) == filepath.Clean(dest) {
		if _, err := os.Stat(dest); err != nil {
			return fmt.Errorf("downloaded file missing: %w", err)
		}
		return nil
	}

	if err := os.Rename(downloaded, dest); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", downloaded, dest, err)
	}
	return nil
}

// markerContent generates the expected content of the marker file.
// Used to detect if we need to redownload due to config change.
func (d *HuggingFaceDownloader) markerContent(repo, filename string) string {
	return fmt.Sprintf("repo: %s\nfilename: %s\nrevision: %s\n", repo, filename, d.source.Revision)
}

// shouldRedownload checks if the checkpoint should be redownloaded by comparing marker content.
func (d *HuggingFaceDownloader) shouldRedownload(markerPath, expectedContent string) bool {
	content, err := os.ReadFile(markerPath)
	if err != nil {
		slog.Debug("Marker file missing or unreadable", "path", markerPath, "error", err)
		return true
	}

	if string(content) != expectedContent {
		slog.Info("Checkpoint source changed (marker mismatch), will redownload",
			"marker_path", markerPath,
			"expected_snippet", expectedContent,
			"actual_snippet", string(content))
		return true
	}

	return false
}
