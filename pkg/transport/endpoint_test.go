package transport

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEndpoint_Validate tests endpoint validation rules
func TestEndpoint_Validate(t *testing.T) {
	assert.NoError(t, DefaultEndpoint().Validate())
	assert.Error(t, Endpoint{Network: NetworkUnix}.Validate())
	assert.Error(t, Endpoint{Network: NetworkVsock, ContextID: 3}.Validate())
	assert.NoError(t, Endpoint{Network: NetworkVsock, ContextID: 3, Port: 5000}.Validate())
	assert.Error(t, Endpoint{Network: "tcp", Address: "127.0.0.1:1"}.Validate())
}

// TestEndpoint_EnvRoundTrip tests handing an endpoint to a child through env
func TestEndpoint_EnvRoundTrip(t *testing.T) {
	cases := []Endpoint{
		{Network: NetworkUnix, Address: "/tmp/x/udf.sock"},
		{Network: NetworkVsock, ContextID: 3, Port: 5005},
	}

	for _, want := range cases {
		t.Run(want.String(), func(t *testing.T) {
			for _, kv := range want.Env() {
				k, v, ok := strings.Cut(kv, "=")
				require.True(t, ok)
				t.Setenv(k, v)
			}
			if want.Network == NetworkVsock {
				t.Setenv(EnvAddress, "")
			} else {
				t.Setenv(EnvCID, "")
				t.Setenv(EnvPort, "")
			}

			got, err := EndpointFromEnv()
			require.NoError(t, err)
			assert.Equal(t, want.Network, got.Network)
			if want.Network == NetworkVsock {
				assert.Equal(t, want.ContextID, got.ContextID)
				assert.Equal(t, want.Port, got.Port)
			} else {
				assert.Equal(t, want.Address, got.Address)
			}
		})
	}
}

// TestEndpointFromEnv_Invalid tests malformed vsock numbers
func TestEndpointFromEnv_Invalid(t *testing.T) {
	t.Setenv(EnvNetwork, NetworkVsock)
	t.Setenv(EnvPort, "not-a-port")
	_, err := EndpointFromEnv()
	assert.Error(t, err)
}

// TestListenDial_Unix tests a unix round trip including stale socket cleanup
func TestListenDial_Unix(t *testing.T) {
	dir := t.TempDir()
	ep := Endpoint{Network: NetworkUnix, Address: filepath.Join(dir, "udf.sock")}

	// A leftover file from a crashed worker must not block Listen
	require.NoError(t, os.WriteFile(ep.Address, nil, 0o600))

	ln, err := Listen(ep)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_, err = conn.Write([]byte("ok"))
			conn.Close()
		}
		accepted <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, ep)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 2)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf))
	require.NoError(t, <-accepted)
}
