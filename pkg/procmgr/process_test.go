package procmgr

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "PROCMGR_TEST_HELPER"

// TestMain lets the test binary act as the child process
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "exit3":
		os.Exit(3)
	case "sleep":
		time.Sleep(time.Minute)
		os.Exit(0)
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(time.Minute)
		os.Exit(0)
	}
}

func startHelper(t *testing.T, mode string) *Process {
	t.Helper()
	p, err := Start(os.Args[0], WithEnv(helperEnv+"="+mode))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Kill()
		<-p.Done()
	})
	return p
}

func waitDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
}

// TestProcess_ExitCode tests exit code observation
func TestProcess_ExitCode(t *testing.T) {
	p := startHelper(t, "exit3")
	assert.Greater(t, p.Pid(), 0)

	waitDone(t, p)

	status := p.ExitStatus()
	assert.Equal(t, 3, status.Code)
	assert.False(t, status.Signaled)
	assert.False(t, status.Clean(syscall.SIGTERM))
	assert.Equal(t, ProcessStateExited, p.State())
	assert.ErrorIs(t, p.Signal(syscall.SIGTERM), os.ErrProcessDone)
}

// TestProcess_Signaled tests that a signal death is reported as such
func TestProcess_Signaled(t *testing.T) {
	p := startHelper(t, "sleep")
	assert.Equal(t, ProcessStateRunning, p.State())

	require.NoError(t, p.Signal(syscall.SIGTERM))
	waitDone(t, p)

	status := p.ExitStatus()
	assert.True(t, status.Signaled)
	assert.Equal(t, syscall.SIGTERM, status.Signal)
	assert.Equal(t, -1, status.Code)
	assert.True(t, status.Clean(syscall.SIGTERM))
	assert.False(t, status.Clean(syscall.SIGINT))
}

// TestProcess_TerminateGraceful tests termination within the grace period
func TestProcess_TerminateGraceful(t *testing.T) {
	p := startHelper(t, "sleep")

	require.NoError(t, p.Terminate(syscall.SIGTERM, 5*time.Second))
	assert.Equal(t, syscall.SIGTERM, p.ExitStatus().Signal)
}

// TestProcess_TerminateForceKill tests escalation to SIGKILL
func TestProcess_TerminateForceKill(t *testing.T) {
	p := startHelper(t, "ignore-term")

	// Give the child time to install its signal disposition
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Terminate(syscall.SIGTERM, 200*time.Millisecond))
	assert.Less(t, time.Since(start), 5*time.Second)

	status := p.ExitStatus()
	assert.True(t, status.Signaled)
	assert.Equal(t, syscall.SIGKILL, status.Signal)
}

// TestProcess_TerminateExited tests terminating an already exited process
func TestProcess_TerminateExited(t *testing.T) {
	p := startHelper(t, "exit3")
	waitDone(t, p)

	assert.NoError(t, p.Terminate(syscall.SIGTERM, time.Second))
}

// TestStart_Missing tests spawn failure
func TestStart_Missing(t *testing.T) {
	_, err := Start(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.ErrorIs(t, err, ErrStartFailed)
}

// TestResolveExecutable tests path resolution and permission checks
func TestResolveExecutable(t *testing.T) {
	dir := t.TempDir()

	exe := filepath.Join(dir, "udfd")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))
	plain := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(plain, nil, 0o644))

	got, err := ResolveExecutable(exe)
	require.NoError(t, err)
	assert.Equal(t, exe, got)

	_, err = ResolveExecutable(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrExecutableNotFound)

	_, err = ResolveExecutable(plain)
	assert.ErrorIs(t, err, ErrExecutableNotRunnable)

	_, err = ResolveExecutable(dir)
	assert.ErrorIs(t, err, ErrExecutableNotRunnable)

	// Relative paths resolve against the working directory
	t.Chdir(dir)
	got, err = ResolveExecutable("./udfd")
	require.NoError(t, err)
	assert.Equal(t, "udfd", filepath.Base(got))
	assert.True(t, filepath.IsAbs(got))
}
