package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	// maxCapturedOutput bounds how much of stdout/stderr is kept per stream.
	maxCapturedOutput = 64 << 10

	defaultKillGrace = 2 * time.Second
)

// CommandRunner is the interface for running commands.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (CommandLog, error)
}

// ExecCommandRunner uses os/exec. Each child is started in its own process
// group; when ctx ends the whole group gets SIGTERM and, after KillGrace, SIGKILL.
type ExecCommandRunner struct {
	KillGrace time.Duration
}

// Run runs a command to completion and captures its output.
func (r ExecCommandRunner) Run(ctx context.Context, c Command) (CommandLog, error) {
	grace := r.KillGrace
	if grace <= 0 {
		grace = defaultKillGrace
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	stdout := &tailBuffer{limit: maxCapturedOutput}
	stderr := &tailBuffer{limit: maxCapturedOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	setProcessGroup(cmd)
	var (
		mu        sync.Mutex
		killTimer *time.Timer
	)
	cmd.Cancel = func() error {
		pid := cmd.Process.Pid
		mu.Lock()
		killTimer = time.AfterFunc(grace, func() { killProcessGroup(pid) })
		mu.Unlock()
		return terminateProcessGroup(pid)
	}
	// Children that inherited our pipes must not block Wait forever.
	cmd.WaitDelay = grace + time.Second

	start := time.Now()
	err := cmd.Run()

	log := CommandLog{
		Command:  c.Name,
		Args:     append([]string(nil), c.Args...),
		Dir:      c.Dir,
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil && cmd.Process != nil {
		mu.Lock()
		if killTimer != nil {
			killTimer.Stop()
		}
		mu.Unlock()
		killProcessGroup(cmd.Process.Pid)
	}

	if err != nil {
		log.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.ExitCode = exitErr.ExitCode()
		}
		return log, err
	}

	return log, nil
}

// Executor runs one binary with a fixed timeout.
type Executor struct {
	runner     CommandRunner
	binaryPath string
	timeout    time.Duration
}

// NewExecutor creates an executor. binaryPath is resolved through PATH when it is not a path.
func NewExecutor(binaryPath string, timeout time.Duration) (*Executor, error) {
	resolved, err := exec.LookPath(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, binaryPath, err)
	}

	return &Executor{
		binaryPath: resolved,
		timeout:    timeout,
		runner:     ExecCommandRunner{},
	}, nil
}

// NewExecutorWithRunner creates an executor with a custom runner.
func NewExecutorWithRunner(binaryPath string, timeout time.Duration, runner CommandRunner) *Executor {
	return &Executor{
		binaryPath: binaryPath,
		timeout:    timeout,
		runner:     runner,
	}
}

// BinaryPath returns the resolved executable.
func (e *Executor) BinaryPath() string {
	return e.binaryPath
}

// Timeout returns the per-call deadline.
func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Execute runs the binary with args. It returns ErrTimeout when the executor's
// own deadline fired, the caller's ctx.Err() when the caller gave up first,
// and *ExitError for a non-zero exit.
func (e *Executor) Execute(ctx context.Context, args []string, dir string, env []string) (CommandLog, error) {
	runCtx := ctx
	cancel := func() {}
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	log, err := e.runner.Run(runCtx, Command{
		Name: e.binaryPath,
		Args: args,
		Dir:  dir,
		Env:  env,
	})
	if err == nil {
		return log, nil
	}

	switch {
	case ctx.Err() != nil:
		return log, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return log, fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || log.ExitCode > 0 {
		return log, &ExitError{
			Command: e.binaryPath,
			Code:    log.ExitCode,
			Stderr:  log.StderrTail(2048),
			Err:     err,
		}
	}

	return log, fmt.Errorf("executor: failed to run %s: %w", e.binaryPath, err)
}

// tailBuffer is an io.Writer that keeps only the last limit bytes.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if n >= b.limit {
		b.buf = append(b.buf[:0], p[n-b.limit:]...)
		b.truncated = true
		return n, nil
	}
	if over := len(b.buf) + n - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.truncated = true
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return "[truncated]\n" + runeTail(string(b.buf))
	}
	return string(b.buf)
}
