// Package service implements talking-head generation on top of the external tools.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ekisa-team/talkinghead/internal/backend"
	"github.com/ekisa-team/talkinghead/internal/backend/wav2lip"
	"github.com/ekisa-team/talkinghead/internal/imaging"
	"github.com/ekisa-team/talkinghead/internal/metrics"
	"github.com/ekisa-team/talkinghead/internal/model"
	"github.com/ekisa-team/talkinghead/internal/workspace"
)

// Stage is a step of the generation pipeline. Stages only move forward.
type Stage string

const (
	StageQueued             Stage = "queued"
	StageStaging            Stage = "staging"
	StageNormalizing        Stage = "normalizing"
	StageTranscoding        Stage = "transcoding"
	StageCheckingCheckpoint Stage = "checking_checkpoint"
	StageInferring          Stage = "inferring"
	StageLocating           Stage = "locating"
	StageReading            Stage = "reading"
	StageDone               Stage = "done"
	StageFailed             Stage = "failed"
)

// File names inside a request workspace.
const (
	audioInputName   = "audio_input"
	imageInputName   = "image_input"
	faceName         = "face.jpg"
	audioName        = "audio.wav"
	outputName       = "result.mp4"
	defaultAudioExt  = ".webm"
	VideoFilename    = "talking_head.mp4"
	stderrTailLength = 2048
)

var audioExtPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// Transcoder converts arbitrary audio into the WAV the model consumes.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst string) (backend.CommandLog, error)
}

// LipSyncer runs lip-sync inference.
type LipSyncer interface {
	Infer(ctx context.Context, job wav2lip.Job) (backend.CommandLog, error)
}

// ImageNormalizer converts an uploaded image into the face input.
type ImageNormalizer interface {
	Normalize(r io.Reader, w io.Writer) (imaging.Result, error)
}

// CheckpointChecker reports whether the model checkpoint is on disk.
type CheckpointChecker interface {
	Check() model.Checkpoint
}

// Options configures a TalkingHead service.
type Options struct {
	WorkDir       string
	MaxConcurrent int64
	QueueTimeout  time.Duration
}

// Request is one generation request. Readers are consumed during staging.
type Request struct {
	Audio         io.Reader
	AudioFilename string
	Image         io.Reader
}

// StageTiming is the wall time spent in one stage.
type StageTiming struct {
	Stage    Stage         `json:"stage"`
	Duration time.Duration `json:"duration"`
}

// Result is a produced video.
type Result struct {
	Token    string
	Video    []byte
	Filename string
	Stages   []StageTiming
}

// TalkingHead turns an audio and a face image into a lip-synced video.
type TalkingHead struct {
	transcoder   Transcoder
	lipSyncer    LipSyncer
	images       ImageNormalizer
	checkpoints  CheckpointChecker
	workDir      string
	sem          *semaphore.Weighted
	queueTimeout time.Duration
	newToken     func() string
}

// NewTalkingHead creates a new TalkingHead service.
func NewTalkingHead(t Transcoder, l LipSyncer, n ImageNormalizer, c CheckpointChecker, opts Options) *TalkingHead {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}

	return &TalkingHead{
		transcoder:   t,
		lipSyncer:    l,
		images:       n,
		checkpoints:  c,
		workDir:      opts.WorkDir,
		sem:          semaphore.NewWeighted(opts.MaxConcurrent),
		queueTimeout: opts.QueueTimeout,
		newToken:     NewToken,
	}
}

// NewToken returns a random 128-bit hex token.
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Generate runs the whole pipeline for req. Every failure is an *Error.
// The request workspace is removed before Generate returns.
func (s *TalkingHead) Generate(ctx context.Context, req Request) (res *Result, err error) {
	r := &run{token: s.newToken(), stage: StageQueued, entered: time.Now()}

	if err := s.admit(ctx, r); err != nil {
		metrics.RecordGeneration(string(KindOf(err)), 0)
		return nil, err
	}
	defer s.sem.Release(1)

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	started := time.Now()
	slog.Info("Generation started", "token", r.token, "audio_filename", req.AudioFilename)

	defer func() {
		if p := recover(); p != nil {
			err = r.fail(KindUnexpectedFailure, fmt.Sprintf("panic: %v", p), "", nil)
			res = nil
		}
		s.finish(r, started, err)
	}()

	ws, err := s.stage(ctx, r, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ws.Close() }()

	video, err := s.pipeline(ctx, r, ws)
	if err != nil {
		return nil, err
	}

	r.enter(StageDone)
	return &Result{
		Token:    r.token,
		Video:    video,
		Filename: VideoFilename,
		Stages:   r.timings,
	}, nil
}

func (s *TalkingHead) admit(ctx context.Context, r *run) error {
	qctx := ctx
	if s.queueTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, s.queueTimeout)
		defer cancel()
	}

	waitStart := time.Now()
	err := s.sem.Acquire(qctx, 1)
	metrics.QueueWait.Observe(time.Since(waitStart).Seconds())
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return r.fail(KindCanceled, "client canceled while queued", "", ctx.Err())
	}
	return r.fail(KindOverloaded, fmt.Sprintf("no generation slot available within %s", s.queueTimeout), "", err)
}

// stage creates the workspace and writes both uploads into it.
func (s *TalkingHead) stage(ctx context.Context, r *run, req Request) (*workspace.Workspace, error) {
	r.enter(StageStaging)

	if req.Audio == nil || req.Image == nil {
		return nil, r.fail(KindInvalidInput, "both audio and image are required", "", nil)
	}

	ws, err := workspace.New(s.workDir, r.token)
	if err != nil {
		return nil, r.fail(KindUnexpectedFailure, "failed to create workspace", "", err)
	}

	audioPath := ws.Path(audioInputName + audioExt(req.AudioFilename))
	audioSize, err := writeFile(audioPath, req.Audio)
	if err == nil && audioSize == 0 {
		err = r.fail(KindInvalidInput, "audio upload is empty", "", nil)
	}
	if err != nil {
		_ = ws.Close()
		return nil, s.stagingError(ctx, r, err)
	}

	imageSize, err := writeFile(ws.Path(imageInputName), req.Image)
	if err == nil && imageSize == 0 {
		err = r.fail(KindInvalidInput, "image upload is empty", "", nil)
	}
	if err != nil {
		_ = ws.Close()
		return nil, s.stagingError(ctx, r, err)
	}

	r.audioInput = audioPath
	slog.Info("Inputs staged", "token", r.token, "audio_bytes", audioSize, "image_bytes", imageSize)
	return ws, nil
}

func (s *TalkingHead) stagingError(ctx context.Context, r *run, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if ctx.Err() != nil {
		return r.fail(KindCanceled, "client canceled during upload", "", err)
	}
	return r.fail(KindUnexpectedFailure, "failed to stage uploads", "", err)
}

func (s *TalkingHead) pipeline(ctx context.Context, r *run, ws *workspace.Workspace) ([]byte, error) {
	r.enter(StageNormalizing)
	face := ws.Path(faceName)
	if err := s.normalize(ws.Path(imageInputName), face, r); err != nil {
		return nil, err
	}

	r.enter(StageTranscoding)
	audio := ws.Path(audioName)
	log, err := s.transcoder.Transcode(ctx, r.audioInput, audio)
	logTool(r, log)
	if err != nil {
		if ctx.Err() != nil {
			return nil, r.fail(KindCanceled, "client canceled during transcoding", "", err)
		}
		return nil, r.fail(KindTranscodeFailure, "ffmpeg could not convert the audio", stderrOf(err, log), err)
	}

	r.enter(StageCheckingCheckpoint)
	cp := s.checkpoints.Check()
	if !cp.Present() {
		return nil, r.fail(KindCheckpointMissing, fmt.Sprintf("checkpoint not found at %s", cp.Path), "", model.ErrCheckpointMissing)
	}

	r.enter(StageInferring)
	output := ws.Path(outputName)
	log, err = s.lipSyncer.Infer(ctx, wav2lip.Job{
		Face:    face,
		Audio:   audio,
		Outfile: output,
		WorkDir: ws.Dir(),
	})
	logTool(r, log)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, r.fail(KindCanceled, "client canceled during inference", "", err)
		case errors.Is(err, backend.ErrTimeout):
			return nil, r.fail(KindInferenceTimeout, "inference exceeded its deadline", stderrOf(err, log), err)
		default:
			return nil, r.fail(KindInferenceFailure, "inference process failed", stderrOf(err, log), err)
		}
	}

	r.enter(StageLocating)
	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		return nil, r.fail(KindOutputNotFound, fmt.Sprintf("no video produced at %s", output), "", err)
	}

	r.enter(StageReading)
	video, err := os.ReadFile(output)
	if err != nil {
		return nil, r.fail(KindOutputNotFound, "failed to read produced video", "", err)
	}
	if !IsMP4(video) {
		return nil, r.fail(KindOutputNotFound, "produced file is not an MP4 container", "", nil)
	}

	metrics.OutputBytes.Observe(float64(len(video)))
	slog.Info("Video produced", "token", r.token, "bytes", len(video))
	return video, nil
}

func (s *TalkingHead) normalize(src, dst string, r *run) error {
	in, err := os.Open(src)
	if err != nil {
		return r.fail(KindUnexpectedFailure, "failed to open staged image", "", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return r.fail(KindUnexpectedFailure, "failed to create face image", "", err)
	}

	res, err := s.images.Normalize(in, out)
	if cerr := out.Close(); err == nil && cerr != nil {
		return r.fail(KindUnexpectedFailure, "failed to write face image", "", cerr)
	}
	if err != nil {
		if errors.Is(err, imaging.ErrDecode) {
			return r.fail(KindInvalidInput, "image could not be decoded", "", err)
		}
		return r.fail(KindUnexpectedFailure, "failed to normalize image", "", err)
	}

	slog.Info("Image normalized", "token", r.token, "format", res.Format,
		"source", fmt.Sprintf("%dx%d", res.SourceWidth, res.SourceHeight),
		"size", fmt.Sprintf("%dx%d", res.Width, res.Height))
	return nil
}

func (s *TalkingHead) finish(r *run, started time.Time, err error) {
	kind := "ok"
	if err != nil {
		kind = string(KindOf(err))
		slog.Error("Generation failed", "token", r.token, "kind", kind, "error", err)
	} else {
		slog.Info("Generation completed", "token", r.token, "duration", time.Since(started))
	}
	metrics.RecordGeneration(kind, time.Since(started))
}

// run tracks the stage machine of one request.
type run struct {
	token      string
	stage      Stage
	entered    time.Time
	timings    []StageTiming
	audioInput string
}

func (r *run) enter(next Stage) {
	now := time.Now()
	d := now.Sub(r.entered)
	r.timings = append(r.timings, StageTiming{Stage: r.stage, Duration: d})
	metrics.RecordStage(string(r.stage), d)

	r.stage = next
	r.entered = now
}

// fail moves the run to failed and returns the error for the stage it failed in.
func (r *run) fail(kind Kind, msg, detail string, err error) *Error {
	failedAt := r.stage
	r.enter(StageFailed)

	return &Error{
		Kind:    kind,
		Stage:   failedAt,
		Token:   r.token,
		Message: msg,
		Detail:  detail,
		Err:     err,
	}
}

// IsMP4 reports whether data starts with an ISO-BMFF ftyp box.
func IsMP4(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[4:8], []byte("ftyp"))
}

func audioExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if !audioExtPattern.MatchString(ext) {
		return defaultAudioExt
	}
	return ext
}

func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func stderrOf(err error, log backend.CommandLog) string {
	var exitErr *backend.ExitError
	if errors.As(err, &exitErr) && exitErr.Stderr != "" {
		return exitErr.Stderr
	}
	return log.StderrTail(stderrTailLength)
}

func logTool(r *run, log backend.CommandLog) {
	if log.Command == "" {
		return
	}
	slog.Info("Tool finished", "token", r.token, "stage", r.stage, "command", filepath.Base(log.Command), "exit_code", log.ExitCode, "duration", log.Duration)
	slog.Debug("Tool output", "token", r.token, "stage", r.stage, "stdout", log.Stdout, "stderr", log.Stderr)
}
