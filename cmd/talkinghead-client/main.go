package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ekisa-team/talkinghead/internal/client"
	"github.com/ekisa-team/talkinghead/internal/env"
	"github.com/ekisa-team/talkinghead/internal/logger"
)

// Flag names.
const (
	flagURL     = "url"
	flagAudio   = "audio"
	flagImage   = "image"
	flagOutput  = "output"
	flagHealth  = "health"
	flagTimeout = "timeout"
)

const (
	defaultURL     = "http://localhost:8000"
	defaultOutput  = "talking_head.mp4"
	defaultTimeout = 6 * time.Minute
)

var (
	errMissingInputs = errors.New("both -audio and -image must be provided")
	errNotReady      = errors.New("service is not ready")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	url     string
	audio   string
	image   string
	output  string
	health  bool
	timeout time.Duration
}

func main() {
	slog.SetDefault(logger.New(env.FromEnv()))

	if err := run(parseFlags(flag.CommandLine, os.Args[1:])); err != nil {
		slog.Error("Request failed", "error", err)
		os.Exit(1)
	}
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(fs *flag.FlagSet, args []string) appFlags {
	var flags appFlags
	fs.StringVar(&flags.url, flagURL, defaultURL, "Base URL of the talking head server")
	fs.StringVar(&flags.audio, flagAudio, "", "Audio file to lip-sync")
	fs.StringVar(&flags.image, flagImage, "", "Face image")
	fs.StringVar(&flags.output, flagOutput, defaultOutput, "Where to write the MP4")
	fs.BoolVar(&flags.health, flagHealth, false, "Check service health and exit")
	fs.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, "Overall request timeout")
	_ = fs.Parse(args)

	return flags
}

func run(flags appFlags) error {
	c := client.New(flags.url, flags.timeout)

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	if flags.health {
		return checkHealth(ctx, c)
	}

	if err := validate(flags); err != nil {
		return err
	}

	slog.Info("Generating talking head", "audio", flags.audio, "image", flags.image, "url", flags.url)
	start := time.Now()

	video, err := c.GenerateFiles(ctx, flags.audio, flags.image)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(flags.output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(flags.output, video.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", flags.output, err)
	}

	slog.Info("Video saved", "path", flags.output, "bytes", len(video.Data), "token", video.Token, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func checkHealth(ctx context.Context, c *client.Client) error {
	report, err := c.Health(ctx)
	if err != nil {
		return err
	}

	slog.Info("Health",
		"status", report.Status,
		"device", report.Device,
		"has_torch", report.HasTorch,
		"wav2lip_exists", report.Wav2LipExists,
		"checkpoint_exists", report.CheckpointExists,
	)
	if !report.Ready() {
		return errNotReady
	}
	return nil
}

func validate(flags appFlags) error {
	if flags.audio == "" || flags.image == "" {
		return errMissingInputs
	}
	for _, p := range []string{flags.audio, flags.image} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("cannot access input: %w", err)
		}
	}
	return nil
}
