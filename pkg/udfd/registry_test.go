package udfd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-udf/pkg/udfproto"
)

func TestRegistry_Lifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	handle, err := r.Setup(ctx, &udfproto.SetupRequest{Name: "sum", Path: "/path/to/lib", UDFType: 1})
	require.NoError(t, err)
	assert.NotZero(t, handle)
	assert.Equal(t, 1, r.Loaded())

	out, state, err := r.Call(ctx, &udfproto.CallRequest{
		Handle: handle,
		Step:   udfproto.StepNormal,
		Input:  EncodeInt64s(1, 2, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, EncodeInt64s(6), out)
	assert.Equal(t, EncodeInt64s(6), state)

	require.NoError(t, r.Teardown(ctx, handle))
	assert.Equal(t, 0, r.Loaded())

	_, _, err = r.Call(ctx, &udfproto.CallRequest{Handle: handle})
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.ErrorIs(t, r.Teardown(ctx, handle), ErrInvalidHandle)
}

func TestRegistry_HandlesAreDistinct(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	h1, err := r.Setup(ctx, &udfproto.SetupRequest{Name: "echo"})
	require.NoError(t, err)
	h2, err := r.Setup(ctx, &udfproto.SetupRequest{Name: "echo"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestRegistry_UnknownFunction(t *testing.T) {
	_, err := NewRegistry().Setup(context.Background(), &udfproto.SetupRequest{Name: "nope"})
	require.ErrorIs(t, err, ErrUnknownFunction)
	assert.Equal(t, udfproto.CodeUnknownFunction, ResponseCode(err))
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	failing := func(context.Context, udfproto.Step, []byte, []byte) ([]byte, []byte, error) {
		return nil, nil, errors.New("boom")
	}
	require.NoError(t, r.Register("fail", failing))
	assert.Error(t, r.Register("", failing))
	assert.Error(t, r.Register("a-name-longer-than-16", failing))
	assert.Error(t, r.Register("nil", nil))

	ctx := context.Background()
	handle, err := r.Setup(ctx, &udfproto.SetupRequest{Name: "fail"})
	require.NoError(t, err)

	_, _, err = r.Call(ctx, &udfproto.CallRequest{Handle: handle})
	require.Error(t, err)
	assert.Equal(t, udfproto.CodeFunctionFailed, ResponseCode(err))
}

func TestDispatch_ClearsPayloadOnError(t *testing.T) {
	r := NewRegistry()
	rsp, err := dispatch(context.Background(), r, &udfproto.Request{
		SeqNum: 42,
		Body:   &udfproto.CallRequest{Handle: 99, Input: []byte("x")},
	})
	require.ErrorIs(t, err, ErrInvalidHandle)
	assert.Equal(t, int64(42), rsp.SeqNum)
	assert.Equal(t, udfproto.CodeInvalidHandle, rsp.Code)
	assert.Equal(t, &udfproto.CallResponse{}, rsp.Body)
}
