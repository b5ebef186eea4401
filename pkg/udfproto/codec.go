package udfproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrFramingMismatch is returned when the declared frame length does not
	// match the bytes available or consumed.
	ErrFramingMismatch = errors.New("udfproto: framing mismatch")

	// ErrUnknownTaskType is returned for a type byte outside the known set.
	ErrUnknownTaskType = errors.New("udfproto: unknown task type")

	// ErrFieldTooLarge is returned when a field cannot be represented in its
	// wire width.
	ErrFieldTooLarge = errors.New("udfproto: field too large")

	// ErrEmbeddedNUL is returned for a name or path containing a NUL byte,
	// which the NUL-terminated wire fields cannot carry.
	ErrEmbeddedNUL = errors.New("udfproto: embedded NUL")
)

var byteOrder = binary.LittleEndian

// writer appends fields to a frame. The first four bytes are reserved for
// msgLen and filled in by finish.
type writer struct {
	buf []byte
}

func newWriter(size int) *writer {
	return &writer{buf: make([]byte, lenSize, size)}
}

func (w *writer) uint8(v uint8)  { w.buf = append(w.buf, v) }
func (w *writer) int8(v int8)    { w.buf = append(w.buf, byte(v)) }
func (w *writer) int16(v int16)  { w.buf = byteOrder.AppendUint16(w.buf, uint16(v)) }
func (w *writer) int32(v int32)  { w.buf = byteOrder.AppendUint32(w.buf, uint32(v)) }
func (w *writer) int64(v int64)  { w.buf = byteOrder.AppendUint64(w.buf, uint64(v)) }
func (w *writer) raw(b []byte)   { w.buf = append(w.buf, b...) }
func (w *writer) sized(b []byte) { w.int32(int32(len(b))); w.raw(b) }

// fixed writes b padded with zeros to exactly n bytes.
func (w *writer) fixed(b []byte, n int) {
	w.buf = append(w.buf, b...)
	for i := len(b); i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

func (w *writer) finish() []byte {
	byteOrder.PutUint32(w.buf[0:lenSize], uint32(len(w.buf)))
	return w.buf
}

// reader is a bounds-checked cursor over a frame. The first failure sticks;
// later reads return zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, frame has %d",
			ErrFramingMismatch, n, r.off, len(r.buf))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) int8() int8 { return int8(r.uint8()) }

func (r *reader) int16() int16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return int16(byteOrder.Uint16(b))
}

func (r *reader) int32() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(byteOrder.Uint32(b))
}

func (r *reader) int64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(byteOrder.Uint64(b))
}

// bytes copies n bytes out of the frame so the result never aliases it.
// An empty field decodes as nil.
func (r *reader) bytes(n int) []byte {
	b := r.take(n)
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *reader) sized() []byte {
	n := r.int32()
	if r.err != nil {
		return nil
	}
	return r.bytes(int(n))
}

// header validates msgLen against the buffer and returns the seqNum and type.
func (r *reader) header() (int64, TaskType) {
	declared := r.take(lenSize)
	if declared == nil {
		return 0, 0
	}
	if n := byteOrder.Uint32(declared); int(n) != len(r.buf) {
		r.err = fmt.Errorf("%w: declared %d bytes, got %d", ErrFramingMismatch, n, len(r.buf))
		return 0, 0
	}
	seq := r.int64()
	typ := TaskType(r.uint8())
	return seq, typ
}

// done reports the sticky error or a cursor that did not land on the end.
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrFramingMismatch, len(r.buf)-r.off)
	}
	return nil
}

// Request bodies

func (s *SetupRequest) size() int { return NameSize + 1 + 1 + 2 + len(s.Path) + 1 }

func (s *SetupRequest) encode(w *writer) {
	w.fixed([]byte(s.Name), NameSize)
	w.int8(int8(s.ScriptType))
	w.int8(s.UDFType)
	w.int16(int16(len(s.Path) + 1))
	w.raw([]byte(s.Path))
	w.uint8(0)
}

func (s *SetupRequest) decode(r *reader) {
	name := r.take(NameSize)
	s.ScriptType = ScriptType(r.int8())
	s.UDFType = r.int8()
	pathSize := r.int16()
	path := r.take(int(pathSize))
	if r.err != nil {
		return
	}
	s.Name = trimNUL(name)
	s.Path = trimTerminator(path)
}

func (c *CallRequest) size() int { return 8 + 1 + 4 + len(c.Input) + 4 + len(c.State) }

func (c *CallRequest) encode(w *writer) {
	w.int64(c.Handle)
	w.int8(int8(c.Step))
	w.sized(c.Input)
	w.sized(c.State)
}

func (c *CallRequest) decode(r *reader) {
	c.Handle = r.int64()
	c.Step = Step(r.int8())
	c.Input = r.sized()
	c.State = r.sized()
}

func (t *TeardownRequest) size() int        { return 8 }
func (t *TeardownRequest) encode(w *writer) { w.int64(t.Handle) }
func (t *TeardownRequest) decode(r *reader) { t.Handle = r.int64() }

// Response bodies

func (s *SetupResponse) size() int        { return 8 }
func (s *SetupResponse) encode(w *writer) { w.int64(s.Handle) }
func (s *SetupResponse) decode(r *reader) { s.Handle = r.int64() }

func (c *CallResponse) size() int { return 4 + len(c.Output) + 4 + len(c.NewState) }

func (c *CallResponse) encode(w *writer) {
	w.sized(c.Output)
	w.sized(c.NewState)
}

func (c *CallResponse) decode(r *reader) {
	c.Output = r.sized()
	c.NewState = r.sized()
}

func (*TeardownResponse) size() int      { return 0 }
func (*TeardownResponse) encode(*writer) {}
func (*TeardownResponse) decode(*reader) {}

func validateRequest(body RequestBody) error {
	switch b := body.(type) {
	case nil:
		return errors.New("udfproto: request has no body")
	case *SetupRequest:
		if len(b.Name) > NameSize {
			return fmt.Errorf("%w: udf name %q exceeds %d bytes", ErrFieldTooLarge, b.Name, NameSize)
		}
		if len(b.Path)+1 > MaxPathSize {
			return fmt.Errorf("%w: path of %d bytes", ErrFieldTooLarge, len(b.Path))
		}
		if strings.IndexByte(b.Name, 0) >= 0 {
			return fmt.Errorf("%w: udf name %q", ErrEmbeddedNUL, b.Name)
		}
		if strings.IndexByte(b.Path, 0) >= 0 {
			return fmt.Errorf("%w: path %q", ErrEmbeddedNUL, b.Path)
		}
	case *CallRequest:
		if int64(len(b.Input)) > maxInt32 || int64(len(b.State)) > maxInt32 {
			return fmt.Errorf("%w: call payload", ErrFieldTooLarge)
		}
	}
	return nil
}

const maxInt32 = 1<<31 - 1

// EncodeRequest serializes req into a new frame.
func EncodeRequest(req *Request) ([]byte, error) {
	if err := validateRequest(req.Body); err != nil {
		return nil, err
	}

	w := newWriter(RequestHeaderSize + req.Body.size())
	w.int64(req.SeqNum)
	w.uint8(uint8(req.Body.TaskType()))
	req.Body.encode(w)
	return w.finish(), nil
}

// EncodeResponse serializes rsp into a new frame.
func EncodeResponse(rsp *Response) ([]byte, error) {
	if rsp.Body == nil {
		return nil, errors.New("udfproto: response has no body")
	}
	if c, ok := rsp.Body.(*CallResponse); ok {
		if int64(len(c.Output)) > maxInt32 || int64(len(c.NewState)) > maxInt32 {
			return nil, fmt.Errorf("%w: call response payload", ErrFieldTooLarge)
		}
	}

	w := newWriter(ResponseHeaderSize + rsp.Body.size())
	w.int64(rsp.SeqNum)
	w.uint8(uint8(rsp.Body.TaskType()))
	w.int32(rsp.Code)
	rsp.Body.encode(w)
	return w.finish(), nil
}

// DecodeRequest parses a complete request frame. Variable length fields
// are copied and do not alias buf.
func DecodeRequest(buf []byte) (*Request, error) {
	r := &reader{buf: buf}
	seq, typ := r.header()
	if r.err != nil {
		return nil, r.err
	}

	var body RequestBody
	switch typ {
	case TaskSetup:
		body = &SetupRequest{}
	case TaskCall:
		body = &CallRequest{}
	case TaskTeardown:
		body = &TeardownRequest{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTaskType, uint8(typ))
	}

	body.decode(r)
	if err := r.done(); err != nil {
		return nil, err
	}
	return &Request{SeqNum: seq, Body: body}, nil
}

// DecodeResponse parses a complete response frame. Variable length fields
// are copied and do not alias buf.
func DecodeResponse(buf []byte) (*Response, error) {
	r := &reader{buf: buf}
	seq, typ := r.header()
	code := r.int32()
	if r.err != nil {
		return nil, r.err
	}

	var body ResponseBody
	switch typ {
	case TaskSetup:
		body = &SetupResponse{}
	case TaskCall:
		body = &CallResponse{}
	case TaskTeardown:
		body = &TeardownResponse{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTaskType, uint8(typ))
	}

	body.decode(r)
	if err := r.done(); err != nil {
		return nil, err
	}
	return &Response{SeqNum: seq, Code: code, Body: body}, nil
}

// trimNUL cuts a fixed-width field at its first NUL
func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// trimTerminator drops the single trailing NUL of a length-prefixed string
func trimTerminator(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == 0 {
		b = b[:n-1]
	}
	return string(b)
}
