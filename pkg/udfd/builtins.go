package udfd

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/jrepp/prism-udf/pkg/udfproto"
)

// Echo returns its input and passes the state through
func Echo(_ context.Context, _ udfproto.Step, state, input []byte) ([]byte, []byte, error) {
	return input, state, nil
}

// Sum aggregates little-endian int64 values. Init zeroes the state,
// Normal adds a batch and outputs the batch sum, Merge folds in another
// partial state and Finalize outputs the total.
func Sum(_ context.Context, step udfproto.Step, state, input []byte) ([]byte, []byte, error) {
	acc, err := decodeInt64(state)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: state: %w", ErrBadRequest, err)
	}

	switch step {
	case udfproto.StepInit:
		return nil, EncodeInt64s(0), nil

	case udfproto.StepNormal:
		values, err := DecodeInt64s(input)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: input: %w", ErrBadRequest, err)
		}
		var batch int64
		for _, v := range values {
			batch += v
		}
		return EncodeInt64s(batch), EncodeInt64s(acc + batch), nil

	case udfproto.StepMerge:
		partial, err := decodeInt64(input)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: partial state: %w", ErrBadRequest, err)
		}
		return nil, EncodeInt64s(acc + partial), nil

	case udfproto.StepFinalize:
		return EncodeInt64s(acc), EncodeInt64s(acc), nil

	default:
		return nil, nil, fmt.Errorf("%w: step %s", ErrBadRequest, step)
	}
}

// EncodeInt64s packs values as consecutive little-endian int64s
func EncodeInt64s(values ...int64) []byte {
	buf := make([]byte, 0, 8*len(values))
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
	}
	return buf
}

// DecodeInt64s unpacks a buffer written by EncodeInt64s
func DecodeInt64s(buf []byte) ([]int64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("length %d is not a multiple of 8", len(buf))
	}
	values := make([]int64, len(buf)/8)
	for i := range values {
		values[i] = int64(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return values, nil
}

// decodeInt64 reads a single value. An empty buffer is zero.
func decodeInt64(buf []byte) (int64, error) {
	switch len(buf) {
	case 0:
		return 0, nil
	case 8:
		return int64(binary.LittleEndian.Uint64(buf)), nil
	default:
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(buf))
	}
}
