package udfd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-udf/pkg/udfproto"
)

func TestSum_Steps(t *testing.T) {
	ctx := context.Background()

	out, state, err := Sum(ctx, udfproto.StepInit, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, EncodeInt64s(0), state)

	out, state, err = Sum(ctx, udfproto.StepNormal, state, EncodeInt64s(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, EncodeInt64s(6), out)
	assert.Equal(t, EncodeInt64s(6), state)

	out, state, err = Sum(ctx, udfproto.StepNormal, state, EncodeInt64s(-10))
	require.NoError(t, err)
	assert.Equal(t, EncodeInt64s(-10), out)
	assert.Equal(t, EncodeInt64s(-4), state)

	_, state, err = Sum(ctx, udfproto.StepMerge, state, EncodeInt64s(100))
	require.NoError(t, err)
	assert.Equal(t, EncodeInt64s(96), state)

	out, state, err = Sum(ctx, udfproto.StepFinalize, state, nil)
	require.NoError(t, err)
	assert.Equal(t, EncodeInt64s(96), out)
	assert.Equal(t, EncodeInt64s(96), state)
}

func TestSum_EmptyStateIsZero(t *testing.T) {
	out, state, err := Sum(context.Background(), udfproto.StepNormal, nil, EncodeInt64s(1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, EncodeInt64s(6), out)
	assert.Equal(t, EncodeInt64s(6), state)
}

func TestSum_BadInput(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		step  udfproto.Step
		state []byte
		input []byte
	}{
		{name: "ragged input", step: udfproto.StepNormal, input: []byte{1, 2, 3}},
		{name: "short state", step: udfproto.StepNormal, state: []byte{1}},
		{name: "wide partial", step: udfproto.StepMerge, input: EncodeInt64s(1, 2)},
		{name: "unknown step", step: udfproto.Step(9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Sum(ctx, tt.step, tt.state, tt.input)
			require.ErrorIs(t, err, ErrBadRequest)
			assert.Equal(t, udfproto.CodeBadRequest, ResponseCode(err))
		})
	}
}

func TestEcho(t *testing.T) {
	out, state, err := Echo(context.Background(), udfproto.StepNormal, []byte("s"), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)
	assert.Equal(t, []byte("s"), state)
}

func TestDecodeInt64s(t *testing.T) {
	values, err := DecodeInt64s(EncodeInt64s(7, -1, 1<<40))
	require.NoError(t, err)
	assert.Equal(t, []int64{7, -1, 1 << 40}, values)

	values, err = DecodeInt64s(nil)
	require.NoError(t, err)
	assert.Empty(t, values)

	_, err = DecodeInt64s(make([]byte, 9))
	assert.Error(t, err)
}
