package udfd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-udf/pkg/transport"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(transport.EnvNetwork, "")

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, transport.DefaultEndpoint(), config.Endpoint)
	assert.Equal(t, 3*time.Second, config.ShutdownTimeout)
	assert.Equal(t, "udfd", config.Observability.ServiceName)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udfd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoint:
  network: unix
  address: /tmp/from-file.sock
shutdown_timeout: 1s
logging:
  level: debug
  format: text
`), 0o644))

	t.Setenv(transport.EnvNetwork, "")
	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-file.sock", config.Endpoint.Address)
	assert.Equal(t, time.Second, config.ShutdownTimeout)
	assert.Equal(t, "debug", config.Logging.Level)

	t.Setenv(transport.EnvNetwork, transport.NetworkUnix)
	t.Setenv(transport.EnvAddress, "/tmp/from-env.sock")
	config, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.sock", config.Endpoint.Address)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv(transport.EnvNetwork, "")

	path := filepath.Join(t.TempDir(), "udfd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_frame_size: 4\n"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
