package udfd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jrepp/prism-udf/pkg/observability"
	"github.com/jrepp/prism-udf/pkg/transport"
	"github.com/jrepp/prism-udf/pkg/udfproto"
)

// EnvConfigPath names an optional YAML config file for the worker
const EnvConfigPath = "UDFD_CONFIG"

// Config represents the worker configuration
type Config struct {
	// Endpoint is where to listen. The client's UDF_ENDPOINT_* variables
	// take precedence over the file.
	Endpoint transport.Endpoint `yaml:"endpoint"`

	MaxFrameSize    int           `yaml:"max_frame_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Logging       observability.LoggingConfig `yaml:"logging"`
	Observability observability.Config        `yaml:"observability"`
}

// DefaultConfig returns the configuration used without a file
func DefaultConfig() *Config {
	return &Config{
		Endpoint:        transport.DefaultEndpoint(),
		MaxFrameSize:    udfproto.DefaultMaxFrameSize,
		ShutdownTimeout: 3 * time.Second,
		Logging:         observability.LoggingConfig{Level: "info", Format: "json"},
		Observability:   *observability.DefaultConfig("udfd", Version),
	}
}

// LoadConfig loads the YAML file at path over DefaultConfig, then applies
// the endpoint environment. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if os.Getenv(transport.EnvNetwork) != "" {
		ep, err := transport.EndpointFromEnv()
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint environment: %w", err)
		}
		config.Endpoint = ep
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate applies defaults to zero values and checks the rest
func (c *Config) Validate() error {
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = udfproto.DefaultMaxFrameSize
	}
	if c.MaxFrameSize < udfproto.RequestHeaderSize {
		return fmt.Errorf("max_frame_size must be at least %d", udfproto.RequestHeaderSize)
	}
	if c.ShutdownTimeout < 0 {
		return errors.New("shutdown_timeout must not be negative")
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 3 * time.Second
	}
	if err := c.Endpoint.Validate(); err != nil {
		return fmt.Errorf("endpoint: %w", err)
	}
	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}
