package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/randalmurphal/toolflow/pkg/dispatch"
)

// defaultStopGrace is how long Close waits for a worker to exit after its
// stdin is closed before killing it.
const defaultStopGrace = 5 * time.Second

// Config describes a worker subprocess.
type Config struct {
	// Name labels the worker in logs. Defaults to the command's base name.
	Name string

	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Env are additional environment variables for the subprocess
	// (format: "KEY=VALUE"), appended to the current process environment.
	Env []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// StopGrace is how long Close waits for the worker to exit before
	// killing it. Defaults to 5s.
	StopGrace time.Duration
}

// process tracks a running worker.
type process struct {
	cmd    *exec.Cmd
	grace  time.Duration
	exited chan struct{}
	err    error
}

// Start launches the worker described by cfg and performs the handshake.
// The subprocess outlives ctx; only Close or its own exit stops it.
func Start(ctx context.Context, cfg Config, opts ...dispatch.Option) (*Channel, error) {
	if cfg.Command == "" {
		return nil, errors.New("stdio: command is required")
	}
	name := cfg.Name
	if name == "" {
		name = filepath.Base(cfg.Command)
	}
	o := dispatch.NewOptions(opts...)
	o.Logger = o.Logger.With("worker", name)

	o.Logger.Info("starting worker", "command", cfg.Command, "args", cfg.Args)

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Dir = cfg.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	// Output goes through io.Pipe so that Wait returns only after every
	// message was handed to the session, and the exit status reaches the
	// reader as the stream's error.
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("start worker %s: %w", cfg.Command, err)
	}

	grace := cfg.StopGrace
	if grace <= 0 {
		grace = defaultStopGrace
	}
	proc := &process{cmd: cmd, grace: grace, exited: make(chan struct{})}
	c := newStreamChannel(outR, stdin, o)
	c.proc = proc

	go drainStderr(o.Logger, errR)
	go func() {
		proc.err = cmd.Wait()
		if proc.err != nil {
			outW.CloseWithError(fmt.Errorf("worker exited: %w", proc.err))
		} else {
			outW.CloseWithError(errWorkerExited)
		}
		errW.Close()
		close(proc.exited)
	}()

	o.Logger.Info("worker started", "pid", cmd.Process.Pid)

	if err := c.Initialize(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

var errWorkerExited = errors.New("worker exited")

// drainStderr logs worker stderr lines at debug level.
func drainStderr(logger *slog.Logger, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		logger.Debug("worker stderr", "line", scanner.Text())
	}
}

// stop waits for the worker to exit, killing it after the grace period.
// A worker that had to be killed or that exited with a failure status is
// reported; stream errors from a worker that exited cleanly are not.
func (p *process) stop(logger *slog.Logger) error {
	select {
	case <-p.exited:
	case <-time.After(p.grace):
		logger.Warn("worker did not exit gracefully, killing", "pid", p.cmd.Process.Pid)
		_ = p.cmd.Process.Kill()
		<-p.exited
		return fmt.Errorf("worker killed after %s: %w", p.grace, p.err)
	}

	var exitErr *exec.ExitError
	if errors.As(p.err, &exitErr) {
		return fmt.Errorf("worker exited: %w", p.err)
	}
	if p.err != nil {
		logger.Debug("worker stopped", "wait", p.err)
	}
	return nil
}
