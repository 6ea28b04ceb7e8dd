// ABOUTME: Child process supervision for externally spawned agent binaries
// ABOUTME: Owns the stdio pipes, drains stderr to the log, observes exit exactly once

// Package process spawns and supervises the external agent binary. A Handle
// owns the child's stdin/stdout pipes, drains stderr into the log for
// operator diagnostics, and resolves an exit observation exactly once no
// matter how the process ends.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// Command describes how to launch an agent binary.
type Command struct {
	// Path is the executable to run.
	Path string
	// Args are passed verbatim, excluding the program name.
	Args []string
	// Env entries (KEY=VALUE) are appended to the inherited environment.
	Env []string
	// Dir is the working directory; empty means the caller's.
	Dir string
}

// SpawnError reports that the agent executable could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning agent %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Handle is a running agent process. The stdin and stdout pipes are owned
// by the caller; stderr is drained internally.
type Handle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	logger *slog.Logger

	done     chan struct{}
	exitCode int

	stopOnce sync.Once
}

// Start launches the command. The process is killed when ctx is cancelled,
// so tying ctx to the owning connection gives kill-on-drop semantics; Stop
// provides the explicit path. The spawn failure is reported as *SpawnError.
func Start(ctx context.Context, spec Command, logger *slog.Logger) (*Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "process")

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)

	// Plain os.Pipe ends instead of StdinPipe/StdoutPipe: Wait must never
	// close the read end while the connection is still draining buffered
	// output.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW

	stderr, err := cmd.StderrPipe()
	if err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}

	if err := cmd.Start(); err != nil {
		closeAll(stdinR, stdinW, stdoutR, stdoutW)
		return nil, &SpawnError{Path: spec.Path, Err: err}
	}

	// The child holds its own copies now.
	stdinR.Close()
	stdoutW.Close()

	h := &Handle{
		cmd:    cmd,
		stdin:  stdinW,
		stdout: stdoutR,
		logger: logger,
		done:   make(chan struct{}),
	}

	logger.Info("agent process started", "pid", cmd.Process.Pid, "command", spec.Path)

	stderrDone := make(chan struct{})
	go h.drainStderr(stderr, stderrDone)
	go h.observeExit(stderrDone)

	return h, nil
}

// Stdin is the pipe feeding the agent's standard input.
func (h *Handle) Stdin() io.WriteCloser { return h.stdin }

// Stdout is the pipe carrying the agent's standard output. It reads through
// to EOF even after the process has exited.
func (h *Handle) Stdout() io.ReadCloser { return h.stdout }

// PID returns the child's process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// Done is closed exactly once when the process has terminated for any
// reason, including Stop.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitStatus blocks until the process has terminated and returns its exit
// code. Termination by signal reports -1.
func (h *Handle) ExitStatus() int {
	<-h.done
	return h.exitCode
}

// Stop kills the process. Idempotent; exit is still reported through Done.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.logger.Warn("killing agent process", "pid", h.cmd.Process.Pid, "error", err)
		}
	})
}

// drainStderr forwards each stderr line to the log. The pipe must never
// back up and block the child.
func (h *Handle) drainStderr(stderr io.Reader, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		h.logger.Warn("agent stderr", "pid", h.cmd.Process.Pid, "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		h.logger.Debug("stderr drain ended", "pid", h.cmd.Process.Pid, "error", err)
	}
}

// observeExit waits for the stderr drain (Wait would close its pipe) and
// then reaps the process.
func (h *Handle) observeExit(stderrDone <-chan struct{}) {
	<-stderrDone

	err := h.cmd.Wait()
	switch {
	case err == nil:
		h.exitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			h.exitCode = exitErr.ExitCode()
		} else {
			h.exitCode = -1
		}
	}

	h.logger.Info("agent process exited", "pid", h.cmd.Process.Pid, "exit_code", h.exitCode)
	close(h.done)
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}
