package procmgr

import (
	"io"
	"log/slog"
)

// Option configures a process before it is started
type Option func(*spec)

type spec struct {
	path   string
	args   []string
	env    []string
	dir    string
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

// WithArgs sets the arguments passed after the executable path
func WithArgs(args ...string) Option {
	return func(s *spec) {
		s.args = args
	}
}

// WithEnv appends KEY=value pairs to the inherited environment
func WithEnv(env ...string) Option {
	return func(s *spec) {
		s.env = append(s.env, env...)
	}
}

// WithDir sets the working directory of the process
func WithDir(dir string) Option {
	return func(s *spec) {
		s.dir = dir
	}
}

// WithOutput redirects stdout and stderr. By default both are inherited.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *spec) {
		s.stdout = stdout
		s.stderr = stderr
	}
}

// WithLogger sets the logger used for lifecycle events
func WithLogger(logger *slog.Logger) Option {
	return func(s *spec) {
		s.logger = logger
	}
}
