// Package transport describes the local channel between the UDF client and
// the worker process. Unix domain sockets are the default; vsock endpoints
// let a worker run inside a local VM.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/mdlayher/vsock"
)

const (
	// NetworkUnix is a unix domain stream socket.
	NetworkUnix = "unix"
	// NetworkVsock is an AF_VSOCK stream socket.
	NetworkVsock = "vsock"

	// DefaultSocketName is the well-known socket both sides agree on.
	DefaultSocketName = "udf.sock"
)

// Environment variables used to hand the endpoint to the worker.
const (
	EnvNetwork = "UDF_ENDPOINT_NETWORK"
	EnvAddress = "UDF_ENDPOINT_ADDRESS"
	EnvCID     = "UDF_ENDPOINT_CID"
	EnvPort    = "UDF_ENDPOINT_PORT"
)

// Endpoint identifies where the worker listens
type Endpoint struct {
	Network string `yaml:"network"`
	// Address is the socket path for unix endpoints.
	Address string `yaml:"address"`
	// ContextID and Port address vsock endpoints.
	ContextID uint32 `yaml:"context_id"`
	Port      uint32 `yaml:"port"`
}

// DefaultEndpoint returns the unix socket endpoint in the working directory
func DefaultEndpoint() Endpoint {
	return Endpoint{Network: NetworkUnix, Address: DefaultSocketName}
}

// Validate checks the endpoint is usable
func (e Endpoint) Validate() error {
	switch e.Network {
	case NetworkUnix:
		if e.Address == "" {
			return errors.New("unix endpoint requires an address")
		}
	case NetworkVsock:
		if e.Port == 0 {
			return errors.New("vsock endpoint requires a port")
		}
	default:
		return fmt.Errorf("unsupported network %q", e.Network)
	}
	return nil
}

// String returns a printable form of the endpoint
func (e Endpoint) String() string {
	if e.Network == NetworkVsock {
		return fmt.Sprintf("vsock://%d:%d", e.ContextID, e.Port)
	}
	return e.Network + "://" + e.Address
}

// Env encodes the endpoint as KEY=value pairs for a child process
func (e Endpoint) Env() []string {
	env := []string{EnvNetwork + "=" + e.Network}
	if e.Network == NetworkVsock {
		env = append(env,
			EnvCID+"="+strconv.FormatUint(uint64(e.ContextID), 10),
			EnvPort+"="+strconv.FormatUint(uint64(e.Port), 10))
	} else {
		env = append(env, EnvAddress+"="+e.Address)
	}
	return env
}

// EndpointFromEnv reads the endpoint handed down by the client. Missing
// variables fall back to DefaultEndpoint.
func EndpointFromEnv() (Endpoint, error) {
	ep := DefaultEndpoint()
	if v := os.Getenv(EnvNetwork); v != "" {
		ep.Network = v
	}
	if v := os.Getenv(EnvAddress); v != "" {
		ep.Address = v
	}
	if v := os.Getenv(EnvCID); v != "" {
		cid, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return ep, fmt.Errorf("invalid %s: %w", EnvCID, err)
		}
		ep.ContextID = uint32(cid)
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return ep, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		ep.Port = uint32(port)
	}
	return ep, ep.Validate()
}

// Dial opens a stream to the endpoint
func Dial(ctx context.Context, e Endpoint) (net.Conn, error) {
	switch e.Network {
	case NetworkUnix:
		var d net.Dialer
		return d.DialContext(ctx, NetworkUnix, e.Address)
	case NetworkVsock:
		// vsock.Dial has no context; connects to a local VM complete or fail quickly
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return vsock.Dial(e.ContextID, e.Port, nil)
	default:
		return nil, fmt.Errorf("unsupported network %q", e.Network)
	}
}

// Listen opens a listener on the endpoint. A stale unix socket file left by
// a previous worker is removed first.
func Listen(e Endpoint) (net.Listener, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	switch e.Network {
	case NetworkUnix:
		if err := os.Remove(e.Address); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale socket %s: %w", e.Address, err)
		}
		return net.Listen(NetworkUnix, e.Address)
	default:
		return vsock.Listen(e.Port, nil)
	}
}
