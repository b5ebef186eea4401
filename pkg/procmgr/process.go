// Package procmgr starts and supervises a single child process: it spawns
// an executable with inherited output, observes its exit, and terminates it
// with a grace period.
package procmgr

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrExecutableNotFound is returned when the executable does not exist
	ErrExecutableNotFound = errors.New("executable not found")
	// ErrExecutableNotRunnable is returned for directories and files without an execute bit
	ErrExecutableNotRunnable = errors.New("executable not runnable")
	// ErrStartFailed wraps fork/exec failures
	ErrStartFailed = errors.New("process start failed")
)

// Process is one running child. It is safe for concurrent use.
type Process struct {
	cmd       *exec.Cmd
	path      string
	pid       int
	startedAt time.Time
	logger    *slog.Logger

	mu    sync.Mutex
	state ProcessState

	done   chan struct{}
	status ExitStatus
}

// ResolveExecutable turns path into an absolute path (relative paths are
// taken from the current working directory) and checks it can be executed.
func ResolveExecutable(path string) (string, error) {
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, path)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%w: %s", ErrExecutableNotRunnable, path)
	}
	return path, nil
}

// Start spawns the executable at path with no stdin and stdout/stderr
// inherited from the parent unless overridden.
func Start(path string, opts ...Option) (*Process, error) {
	s := &spec{
		path:   path,
		stdout: os.Stdout,
		stderr: os.Stderr,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cmd := exec.Command(s.path, s.args...)
	cmd.Env = append(os.Environ(), s.env...)
	cmd.Dir = s.dir
	// nil Stdin connects the child to the null device
	cmd.Stdin = nil
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStartFailed, s.path, err)
	}

	p := &Process{
		cmd:       cmd,
		path:      s.path,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		logger:    s.logger.With("pid", cmd.Process.Pid),
		state:     ProcessStateRunning,
		done:      make(chan struct{}),
	}

	p.logger.Info("process started", "path", s.path)

	go p.wait()

	return p, nil
}

// wait reaps the process and publishes its exit status
func (p *Process) wait() {
	err := p.cmd.Wait()

	status := ExitStatus{Code: -1, Runtime: time.Since(p.startedAt)}
	if ps := p.cmd.ProcessState; ps != nil {
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signaled = true
			status.Signal = ws.Signal()
		} else {
			status.Code = ps.ExitCode()
		}
	} else if err != nil {
		status.Err = err
	}

	p.mu.Lock()
	p.status = status
	p.state = ProcessStateExited
	p.mu.Unlock()

	p.logger.Info("process exited", "status", status.String(), "runtime", status.Runtime)

	close(p.done)
}

// Pid returns the operating system process id
func (p *Process) Pid() int {
	return p.pid
}

// Path returns the executable path
func (p *Process) Path() string {
	return p.path
}

// Done is closed once the process has exited and been reaped
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// State returns the current process state
func (p *Process) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitStatus returns the exit status. It is only meaningful after Done is closed.
func (p *Process) ExitStatus() ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Signal sends sig to the process. Signalling an exited process returns
// os.ErrProcessDone.
func (p *Process) Signal(sig os.Signal) error {
	p.mu.Lock()
	if p.state == ProcessStateExited {
		p.mu.Unlock()
		return os.ErrProcessDone
	}
	if sig != syscall.Signal(0) {
		p.state = ProcessStateTerminating
	}
	p.mu.Unlock()

	return p.cmd.Process.Signal(sig)
}

// Kill forcibly terminates the process
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Terminate sends sig and waits up to grace for the process to exit before
// killing it. It returns once the process has been reaped or the kill itself
// timed out.
func (p *Process) Terminate(sig os.Signal, grace time.Duration) error {
	if err := p.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		p.logger.Warn("failed to signal process", "signal", sig, "error", err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	// Grace period expired, force kill
	p.logger.Warn("process did not exit within grace period, force killing", "grace", grace)
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("force kill: %w", err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("process %d did not die after SIGKILL", p.pid)
	}
}
