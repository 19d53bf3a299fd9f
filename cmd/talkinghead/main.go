package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ekisa-team/talkinghead/internal/backend/ffmpeg"
	"github.com/ekisa-team/talkinghead/internal/backend/wav2lip"
	"github.com/ekisa-team/talkinghead/internal/config"
	"github.com/ekisa-team/talkinghead/internal/env"
	"github.com/ekisa-team/talkinghead/internal/imaging"
	"github.com/ekisa-team/talkinghead/internal/logger"
	"github.com/ekisa-team/talkinghead/internal/model"
	grpcserver "github.com/ekisa-team/talkinghead/internal/server/grpc"
	httpserver "github.com/ekisa-team/talkinghead/internal/server/http"
	"github.com/ekisa-team/talkinghead/internal/service"
	"github.com/ekisa-team/talkinghead/internal/workspace"
	"github.com/ekisa-team/talkinghead/internal/xfs"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		flagHTTPPort   = flag.Int("http-port", config.DefaultHTTPPort(), "HTTP port to listen on")
		flagGRPCPort   = flag.Int("grpc-port", config.DefaultGRPCPort(), "gRPC health port to listen on (-1 disables)")
		flagConfigPath = flag.String("config", path.Join(config.DefaultConfigPath(), "config.yaml"), "Path to config file")
		flagSchemaPath = flag.String("schema", "", "Path to schema file (defaults to the embedded schema)")
	)
	flag.Parse()

	environment := env.FromEnv()
	level := new(slog.LevelVar)
	slog.SetDefault(logger.New(environment, logger.WithLevel(level)))

	cfg, watcher, err := loadConfig(*flagConfigPath, *flagSchemaPath, level)
	if err != nil {
		return err
	}
	if watcher != nil {
		defer watcher.Close()
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http-port":
			cfg.Server.HTTPPort = *flagHTTPPort
		case "grpc-port":
			cfg.Server.GRPCPort = *flagGRPCPort
		}
	})

	loggerOpts := []logger.Option{logger.WithLevel(level), logger.WithLogToFile(cfg.Logging.ToFile)}
	if cfg.Logging.File != "" {
		loggerOpts = append(loggerOpts, logger.WithLogFile(cfg.Logging.File))
	}
	slog.SetDefault(logger.New(environment, loggerOpts...))
	applyLogLevel(level, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := workspace.Sweep(cfg.Storage.WorkDir); err != nil {
		slog.Warn("Failed to sweep leftover workspaces", "dir", cfg.Storage.WorkDir, "error", err)
	}

	checkpoints := model.NewManager(cfg.Model)
	checkpoint, err := checkpoints.Ensure(ctx)
	if err != nil {
		slog.Error("Failed to prepare checkpoint", "path", cfg.Model.CheckpointPath, "error", err)
	}

	transcoder, err := ffmpeg.NewBackend(cfg.FFmpeg)
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg backend: %w", err)
	}
	defer transcoder.Close()

	lipSyncer := wav2lip.NewBackend(cfg.Wav2Lip, cfg.Model.CheckpointPath)
	defer lipSyncer.Close()

	health := service.NewHealth(lipSyncer, checkpoints, cfg.Wav2Lip.Device)
	if cfg.Wav2Lip.ProbeRuntime {
		health.ProbeRuntime(ctx, lipSyncer)
	}

	generator := service.NewTalkingHead(
		transcoder,
		lipSyncer,
		imaging.NewNormalizer(cfg.Image.MaxSize, cfg.Image.Quality, imaging.WithMaxPixels(cfg.Image.MaxPixels)),
		checkpoints,
		service.Options{
			WorkDir:       cfg.Storage.WorkDir,
			MaxConcurrent: int64(cfg.Server.MaxConcurrentJobs),
			QueueTimeout:  cfg.Server.QueueTimeout,
		},
	)

	var grpcServer *grpcserver.Server
	if cfg.Server.GRPCPort >= 0 {
		grpcServer = grpcserver.NewServer()
	}
	onHealth := func(report service.HealthReport) {
		if grpcServer != nil {
			grpcServer.SetServing(report.Ready())
		}
	}

	handler, _ := httpserver.NewRouter(cfg.Server, httpserver.Deps{
		Generator: generator,
		Health:    health,
		OnHealth:  onHealth,
	})
	httpAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort))
	// A request may wait in the queue, transcode and then infer.
	writeTimeout := cfg.Server.QueueTimeout + cfg.FFmpeg.Timeout + cfg.Wav2Lip.Timeout + time.Minute
	httpServer := httpserver.NewServer(httpAddr, handler, writeTimeout)

	report := health.Report()
	onHealth(report)
	slog.Info("Talking head server starting",
		"env", environment.String(),
		"http_addr", httpAddr,
		"grpc_port", cfg.Server.GRPCPort,
		"wav2lip_dir", cfg.Wav2Lip.Dir,
		"python", wav2lip.ResolvePython(cfg.Wav2Lip),
		"work_dir", cfg.Storage.WorkDir,
		"checkpoint", checkpoint.Path,
		"checkpoint_status", checkpoint.Status,
		"status", report.Status,
		"max_concurrent_jobs", cfg.Server.MaxConcurrentJobs,
	)
	if !report.Wav2LipExists {
		slog.Warn("Wav2Lip installation not found", "dir", cfg.Wav2Lip.Dir)
	}

	var grpcListener net.Listener
	if grpcServer != nil {
		grpcAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))
		grpcListener, err = net.Listen("tcp", grpcAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTP server listening", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			if err := grpcServer.Serve(grpcListener); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down", "timeout", cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				slog.Warn("Shutdown timed out, in-flight generations were canceled", "timeout", cfg.Server.ShutdownTimeout)
			}
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// loadConfig reads the config file, watching it when it exists. Only the log
// level is applied on reload; everything else is resolved once at startup.
func loadConfig(configPath, schemaPath string, level *slog.LevelVar) (*config.Config, *config.Watcher, error) {
	configPath = xfs.ExpandTilde(configPath)
	if !xfs.Exists(configPath) {
		cfg, _, err := config.LoadOrDefault(configPath, schemaPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		slog.Info("Config file not found, using defaults", "config", configPath)
		return cfg, nil, nil
	}

	watcher, err := config.NewWatcher(configPath, schemaPath, func(cfg *config.Config, err error) {
		if err != nil {
			slog.Error("Failed to reload config", "error", err)
			return
		}

		applyLogLevel(level, cfg.Logging.Level)
		slog.Info("Config reloaded; only logging.level is applied without a restart", "config", configPath)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	slog.Info("Config loaded successfully", "config", configPath, "schema", schemaPath)
	return watcher.Snapshot(), watcher, nil
}

func applyLogLevel(level *slog.LevelVar, raw string) {
	parsed, err := logger.ParseLevel(raw)
	if err != nil {
		slog.Warn("Invalid log level, keeping current", "level", raw, "error", err)
		return
	}
	level.Set(parsed)
}
