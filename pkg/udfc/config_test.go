package udfc

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-udf/pkg/transport"
)

func TestConfig_ValidateFillsDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	defaults := DefaultConfig()
	assert.Equal(t, defaults.WorkerPath, cfg.WorkerPath)
	assert.Equal(t, transport.DefaultEndpoint(), cfg.Endpoint)
	assert.Equal(t, defaults.MaxFrameSize, cfg.MaxFrameSize)
	assert.Equal(t, defaults.StartTimeout, cfg.StartTimeout)
	assert.Equal(t, defaults.ConnLossGrace, cfg.ConnLossGrace)
	assert.Equal(t, "SIGTERM", cfg.StopSignal)
}

func TestConfig_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "bad network", mutate: func(c *Config) { c.Endpoint.Network = "tcp" }},
		{name: "vsock without port", mutate: func(c *Config) { c.Endpoint = transport.Endpoint{Network: transport.NetworkVsock} }},
		{name: "tiny frames", mutate: func(c *Config) { c.MaxFrameSize = 4 }},
		{name: "bad signal", mutate: func(c *Config) { c.StopSignal = "SIGHUP" }},
		{name: "backoff inverted", mutate: func(c *Config) {
			c.RestartBackoff = time.Minute
			c.MaxRestartBackoff = time.Second
		}},
		{name: "negative call timeout", mutate: func(c *Config) { c.CallTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udfc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
worker_path: /opt/udf/udfd
worker_env:
  - UDF_LIB_DIR=/opt/udf/lib
endpoint:
  network: unix
  address: /run/udf/udf.sock
stop_signal: SIGINT
call_timeout: 2s
watch_worker: true
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/udf/udfd", cfg.WorkerPath)
	assert.Equal(t, []string{"UDF_LIB_DIR=/opt/udf/lib"}, cfg.WorkerEnv)
	assert.Equal(t, "/run/udf/udf.sock", cfg.Endpoint.Address)
	assert.Equal(t, 2*time.Second, cfg.CallTimeout)
	assert.True(t, cfg.WatchWorker)
	// Unset fields keep their defaults
	assert.Equal(t, 5*time.Second, cfg.StopGracePeriod)

	sig, err := parseSignal(cfg.StopSignal)
	require.NoError(t, err)
	assert.Equal(t, syscall.SIGINT, sig)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stop_signal: [\n"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}
