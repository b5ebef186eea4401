package udfc

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jrepp/prism-udf/pkg/transport"
	"github.com/jrepp/prism-udf/pkg/udfproto"
)

// Config holds client and supervisor settings
type Config struct {
	// WorkerPath is the worker executable, relative to the working directory
	// unless absolute. Default: ./udfd
	WorkerPath string `yaml:"worker_path"`

	// WorkerEnv is appended to the environment inherited by the worker
	WorkerEnv []string `yaml:"worker_env"`

	// Endpoint is the local channel the worker listens on. Default: unix udf.sock
	Endpoint transport.Endpoint `yaml:"endpoint"`

	// MaxFrameSize bounds the length a worker may announce for one frame
	MaxFrameSize int `yaml:"max_frame_size"`

	// StartTimeout bounds how long a freshly spawned worker has to accept connections
	StartTimeout time.Duration `yaml:"start_timeout"`

	// ProbeInterval is the delay between readiness dials
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// StopSignal is sent to the worker on shutdown (SIGTERM or SIGINT)
	StopSignal string `yaml:"stop_signal"`

	// StopGracePeriod is how long the worker has to exit before it is killed
	StopGracePeriod time.Duration `yaml:"stop_grace_period"`

	// RestartBackoff and MaxRestartBackoff bound the delay between failed respawns
	RestartBackoff    time.Duration `yaml:"restart_backoff"`
	MaxRestartBackoff time.Duration `yaml:"max_restart_backoff"`

	// ConnLossGrace is how long requests on a dropped connection wait for a
	// worker exit notification before failing with the connection's I/O error
	ConnLossGrace time.Duration `yaml:"conn_loss_grace"`

	// CallTimeout bounds every Setup/Call/Teardown when non-zero
	CallTimeout time.Duration `yaml:"call_timeout"`

	// WatchWorker restarts the worker when its executable is replaced
	WatchWorker bool `yaml:"watch_worker"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		WorkerPath:        "./udfd",
		Endpoint:          transport.DefaultEndpoint(),
		MaxFrameSize:      udfproto.DefaultMaxFrameSize,
		StartTimeout:      10 * time.Second,
		ProbeInterval:     20 * time.Millisecond,
		StopSignal:        "SIGTERM",
		StopGracePeriod:   5 * time.Second,
		RestartBackoff:    100 * time.Millisecond,
		MaxRestartBackoff: 10 * time.Second,
		ConnLossGrace:     250 * time.Millisecond,
	}
}

// LoadConfig loads configuration from a YAML file on top of DefaultConfig
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration and fills zero values with defaults
func (c *Config) Validate() error {
	defaults := DefaultConfig()

	if c.WorkerPath == "" {
		c.WorkerPath = defaults.WorkerPath
	}
	if c.Endpoint.Network == "" {
		c.Endpoint.Network = defaults.Endpoint.Network
		if c.Endpoint.Address == "" {
			c.Endpoint.Address = defaults.Endpoint.Address
		}
	}
	if err := c.Endpoint.Validate(); err != nil {
		return errInvalidArgument("invalid endpoint").
			WithCause(err).
			WithContext("endpoint", c.Endpoint.String())
	}

	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = defaults.MaxFrameSize
	}
	if c.MaxFrameSize < udfproto.ResponseHeaderSize {
		return errInvalidArgument("max_frame_size is smaller than a response header").
			WithContext("max_frame_size", c.MaxFrameSize)
	}

	if c.StopSignal == "" {
		c.StopSignal = defaults.StopSignal
	}
	if _, err := parseSignal(c.StopSignal); err != nil {
		return errInvalidArgument("invalid stop_signal").
			WithCause(err).
			WithContext("stop_signal", c.StopSignal)
	}

	setDuration(&c.StartTimeout, defaults.StartTimeout)
	setDuration(&c.ProbeInterval, defaults.ProbeInterval)
	setDuration(&c.StopGracePeriod, defaults.StopGracePeriod)
	setDuration(&c.RestartBackoff, defaults.RestartBackoff)
	setDuration(&c.MaxRestartBackoff, defaults.MaxRestartBackoff)
	setDuration(&c.ConnLossGrace, defaults.ConnLossGrace)

	if c.MaxRestartBackoff < c.RestartBackoff {
		return errInvalidArgument("max_restart_backoff is below restart_backoff").
			WithContext("restart_backoff", c.RestartBackoff).
			WithContext("max_restart_backoff", c.MaxRestartBackoff)
	}
	if c.CallTimeout < 0 {
		return errInvalidArgument("call_timeout must not be negative").
			WithContext("call_timeout", c.CallTimeout)
	}
	return nil
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func parseSignal(name string) (syscall.Signal, error) {
	switch name {
	case "SIGTERM", "TERM":
		return syscall.SIGTERM, nil
	case "SIGINT", "INT":
		return syscall.SIGINT, nil
	default:
		return 0, fmt.Errorf("unsupported signal %q", name)
	}
}
