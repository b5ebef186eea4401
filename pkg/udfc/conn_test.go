package udfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-udf/pkg/udfproto"
)

func responseFrame(t *testing.T, seq int64, output string) []byte {
	t.Helper()
	frame, err := udfproto.EncodeResponse(&udfproto.Response{
		SeqNum: seq,
		Body:   &udfproto.CallResponse{Output: []byte(output), NewState: []byte("state")},
	})
	require.NoError(t, err)
	return frame
}

func TestFrameBuffer_ByteAtATime(t *testing.T) {
	frame := responseFrame(t, 7, "hello")
	fb := newFrameBuffer(udfproto.DefaultMaxFrameSize)

	var got [][]byte
	for i := range frame {
		frames, err := fb.feed(frame[i : i+1])
		require.NoError(t, err)
		got = append(got, frames...)
	}

	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0])
	assert.Equal(t, 0, fb.buffered())
}

func TestFrameBuffer_SeveralFramesPerChunk(t *testing.T) {
	a := responseFrame(t, 1, "a")
	b := responseFrame(t, 2, "bbbbbbbbbbbbbbbbbbbbbbbb")
	c := responseFrame(t, 3, "")

	stream := append(append(append([]byte{}, a...), b...), c...)
	fb := newFrameBuffer(udfproto.DefaultMaxFrameSize)

	// Split so that one chunk ends mid-prefix and another mid-body
	split1, split2 := len(a)+2, len(a)+len(b)+20
	var got [][]byte
	for _, chunk := range [][]byte{stream[:split1], stream[split1:split2], stream[split2:]} {
		frames, err := fb.feed(chunk)
		require.NoError(t, err)
		got = append(got, frames...)
	}

	require.Len(t, got, 3)
	assert.Equal(t, a, got[0])
	assert.Equal(t, b, got[1])
	assert.Equal(t, c, got[2])

	for i, frame := range got {
		seq, ok := udfproto.PeekSeqNum(frame)
		require.True(t, ok)
		assert.Equal(t, int64(i+1), seq)
	}
}

func TestFrameBuffer_PartialFrameIsBuffered(t *testing.T) {
	frame := responseFrame(t, 1, "partial")
	fb := newFrameBuffer(udfproto.DefaultMaxFrameSize)

	frames, err := fb.feed(frame[:len(frame)-1])
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, len(frame)-1, fb.buffered())
}

func TestFrameBuffer_RejectsBadLengths(t *testing.T) {
	tests := []struct {
		name   string
		length uint32
		max    int
	}{
		{name: "shorter than header", length: udfproto.ResponseHeaderSize - 1, max: udfproto.DefaultMaxFrameSize},
		{name: "zero", length: 0, max: udfproto.DefaultMaxFrameSize},
		{name: "over limit", length: 1024, max: 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := responseFrame(t, 1, "x")
			frame[0] = byte(tt.length)
			frame[1] = byte(tt.length >> 8)
			frame[2] = byte(tt.length >> 16)
			frame[3] = byte(tt.length >> 24)

			_, err := newFrameBuffer(tt.max).feed(frame)
			assert.Error(t, err)
		})
	}
}

func TestFrameBuffer_CompleteFramesBeforeError(t *testing.T) {
	good := responseFrame(t, 1, "ok")
	bad := responseFrame(t, 2, "bad")
	bad[0], bad[1], bad[2], bad[3] = 1, 0, 0, 0

	frames, err := newFrameBuffer(udfproto.DefaultMaxFrameSize).feed(append(append([]byte{}, good...), bad...))
	require.Error(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, good, frames[0])
}
