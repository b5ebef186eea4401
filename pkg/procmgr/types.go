package procmgr

import (
	"fmt"
	"syscall"
	"time"
)

// ProcessState represents the lifecycle state of a supervised process
type ProcessState int

const (
	// ProcessStateStarting - process has been forked but not yet observed running
	ProcessStateStarting ProcessState = iota
	// ProcessStateRunning - process is running
	ProcessStateRunning
	// ProcessStateTerminating - a termination signal has been sent
	ProcessStateTerminating
	// ProcessStateExited - process has exited and been reaped
	ProcessStateExited
)

// String returns the string representation of a ProcessState
func (ps ProcessState) String() string {
	switch ps {
	case ProcessStateStarting:
		return "Starting"
	case ProcessStateRunning:
		return "Running"
	case ProcessStateTerminating:
		return "Terminating"
	case ProcessStateExited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// ExitStatus describes how a process ended
type ExitStatus struct {
	// Code is the exit code, or -1 when the process was killed by a signal
	Code int
	// Signal is set when Signaled is true
	Signal   syscall.Signal
	Signaled bool
	// Err is the error returned by Wait when it was not a plain exit status
	Err error
	// Runtime is how long the process lived
	Runtime time.Duration
}

// Clean reports whether the process exited with code 0 or was stopped by
// the given expected signal.
func (s ExitStatus) Clean(expected syscall.Signal) bool {
	if s.Err != nil {
		return false
	}
	if s.Signaled {
		return s.Signal == expected
	}
	return s.Code == 0
}

// String returns a printable form of the exit status
func (s ExitStatus) String() string {
	switch {
	case s.Err != nil:
		return fmt.Sprintf("wait error: %v", s.Err)
	case s.Signaled:
		return fmt.Sprintf("signal %s", s.Signal)
	default:
		return fmt.Sprintf("exit code %d", s.Code)
	}
}
