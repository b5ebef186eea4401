package udfc

import (
	"net"

	"github.com/jrepp/prism-udf/pkg/udfproto"
)

const readChunkSize = 32 << 10

// frameBuffer reassembles response frames from arbitrary read chunks.
// len(buf) is the filled length and cap(buf) the capacity; total is the
// announced msgLen or -1 until the first four bytes have arrived.
type frameBuffer struct {
	buf   []byte
	total int
	max   int
}

func newFrameBuffer(max int) *frameBuffer {
	fb := &frameBuffer{max: max}
	fb.reset()
	return fb
}

// reset prepares the buffer for the next frame: room for msgLen and seqNum,
// length unknown.
func (fb *frameBuffer) reset() {
	fb.buf = make([]byte, 0, udfproto.PrefixSize)
	fb.total = -1
}

// feed consumes data and returns every frame it completed. An invalid
// announced length is returned as an error and leaves the buffer unusable.
func (fb *frameBuffer) feed(data []byte) ([][]byte, error) {
	var frames [][]byte

	for len(data) > 0 {
		n := min(cap(fb.buf)-len(fb.buf), len(data))
		fb.buf = append(fb.buf, data[:n]...)
		data = data[n:]

		if fb.total < 0 {
			total, ok := udfproto.FrameLength(fb.buf)
			if !ok {
				continue
			}
			if err := udfproto.CheckFrameLength(total, udfproto.ResponseHeaderSize, fb.max); err != nil {
				return frames, err
			}
			fb.total = total
			grown := make([]byte, len(fb.buf), total)
			copy(grown, fb.buf)
			fb.buf = grown
		}

		if len(fb.buf) == cap(fb.buf) && len(fb.buf) == fb.total {
			frames = append(frames, fb.buf)
			fb.reset()
		}
	}

	return frames, nil
}

// buffered returns the number of bytes held for an incomplete frame
func (fb *frameBuffer) buffered() int {
	return len(fb.buf)
}

// outgoing is one frame queued for the connection's writer. The frame is
// carried separately from the entry so the writer never reads entry fields.
type outgoing struct {
	entry *entry
	frame []byte
}

// connection is one established channel to the worker. Everything except
// nc and outbox is owned by the reactor goroutine.
type connection struct {
	id     uint64
	nc     net.Conn
	frames *frameBuffer

	// pending maps sequence numbers to entries awaiting a reply
	pending map[int64]*entry
	// closers are Disconnect entries resolved when the channel closes
	closers []*entry

	outbox  *queue[outgoing]
	closing bool
}

func newConnection(id uint64, nc net.Conn, maxFrame int) *connection {
	return &connection{
		id:      id,
		nc:      nc,
		frames:  newFrameBuffer(maxFrame),
		pending: make(map[int64]*entry),
		outbox:  newQueue[outgoing](),
	}
}

// readLoop forwards every chunk read from the channel to the reactor and
// exits after the first read error.
func (c *connection) readLoop(post func(event) bool) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !post(readEvent{connID: c.id, data: data}) {
				return
			}
		}
		if err != nil {
			post(readEvent{connID: c.id, err: err})
			return
		}
	}
}

// writeLoop writes queued frames in order and reports each completion.
// It exits once the outbox is closed.
func (c *connection) writeLoop(post func(event) bool) {
	for range c.outbox.wakeup() {
		for _, out := range c.outbox.drain() {
			_, err := c.nc.Write(out.frame)
			if !post(writeEvent{connID: c.id, entry: out.entry, err: err}) {
				return
			}
		}
		if c.outbox.isClosed() {
			return
		}
	}
}
