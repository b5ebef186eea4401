// Package udfproto implements the framed binary protocol spoken between the
// UDF client and the udfd worker process.
//
// Every frame starts with a fixed header:
//
//	[msgLen:u32][seqNum:i64][type:u8]
//
// msgLen is the length of the whole frame including itself. Responses carry
// an additional code:i32 after the type. All integers are little-endian.
package udfproto

import "fmt"

const (
	// lenSize is the size of the msgLen field.
	lenSize = 4
	// seqSize is the size of the seqNum field.
	seqSize = 8

	// PrefixSize is the number of bytes needed to route a frame
	// (msgLen plus seqNum).
	PrefixSize = lenSize + seqSize

	// RequestHeaderSize is msgLen + seqNum + type.
	RequestHeaderSize = PrefixSize + 1

	// ResponseHeaderSize is the request header plus the response code.
	ResponseHeaderSize = RequestHeaderSize + 4

	// NameSize is the fixed width of the UDF name field.
	NameSize = 16

	// MaxPathSize is the largest path (including its NUL terminator) that
	// fits the i16 pathSize field.
	MaxPathSize = 1<<15 - 1

	// DefaultMaxFrameSize bounds the frame length accepted from a peer.
	DefaultMaxFrameSize = 64 << 20
)

// TaskType identifies the kind of request or response in a frame
type TaskType uint8

const (
	// TaskSetup loads a UDF and returns a handle
	TaskSetup TaskType = iota
	// TaskCall invokes a loaded UDF
	TaskCall
	// TaskTeardown releases a handle
	TaskTeardown
)

// String returns the string representation of a TaskType
func (t TaskType) String() string {
	switch t {
	case TaskSetup:
		return "Setup"
	case TaskCall:
		return "Call"
	case TaskTeardown:
		return "Teardown"
	default:
		return fmt.Sprintf("TaskType(%d)", uint8(t))
	}
}

// Step distinguishes the phases of an aggregate UDF invocation
type Step int8

const (
	StepInit Step = iota
	StepNormal
	StepMerge
	StepFinalize
)

// String returns the string representation of a Step
func (s Step) String() string {
	switch s {
	case StepInit:
		return "Init"
	case StepNormal:
		return "Normal"
	case StepMerge:
		return "Merge"
	case StepFinalize:
		return "Finalize"
	default:
		return fmt.Sprintf("Step(%d)", int8(s))
	}
}

// ScriptType tells the worker how to load a UDF. The bridge treats it as opaque.
type ScriptType int8

const (
	ScriptTypeC ScriptType = iota
	ScriptTypePython
)

// Response codes written by the worker.
const (
	CodeOK int32 = iota
	CodeUnknownFunction
	CodeInvalidHandle
	CodeBadRequest
	CodeFunctionFailed
)

// CodeText returns a short description of a worker response code.
func CodeText(code int32) string {
	switch code {
	case CodeOK:
		return "ok"
	case CodeUnknownFunction:
		return "unknown function"
	case CodeInvalidHandle:
		return "invalid handle"
	case CodeBadRequest:
		return "bad request"
	case CodeFunctionFailed:
		return "function failed"
	default:
		return fmt.Sprintf("code %d", code)
	}
}

// Request is a decoded request frame
type Request struct {
	SeqNum int64
	Body   RequestBody
}

// Type returns the task type of the request body
func (r *Request) Type() TaskType {
	return r.Body.TaskType()
}

// RequestBody is implemented by SetupRequest, CallRequest and TeardownRequest
type RequestBody interface {
	TaskType() TaskType
	size() int
	encode(w *writer)
	decode(r *reader)
}

// SetupRequest asks the worker to load a UDF
type SetupRequest struct {
	Name       string
	ScriptType ScriptType
	UDFType    int8
	Path       string
}

// CallRequest invokes a loaded UDF
type CallRequest struct {
	Handle int64
	Step   Step
	Input  []byte
	State  []byte
}

// TeardownRequest releases a UDF handle
type TeardownRequest struct {
	Handle int64
}

func (*SetupRequest) TaskType() TaskType    { return TaskSetup }
func (*CallRequest) TaskType() TaskType     { return TaskCall }
func (*TeardownRequest) TaskType() TaskType { return TaskTeardown }

// Response is a decoded response frame
type Response struct {
	SeqNum int64
	Code   int32
	Body   ResponseBody
}

// Type returns the task type of the response body
func (r *Response) Type() TaskType {
	return r.Body.TaskType()
}

// ResponseBody is implemented by SetupResponse, CallResponse and TeardownResponse
type ResponseBody interface {
	TaskType() TaskType
	size() int
	encode(w *writer)
	decode(r *reader)
}

// SetupResponse carries the worker-assigned handle
type SetupResponse struct {
	Handle int64
}

// CallResponse carries the output and the new aggregate state
type CallResponse struct {
	Output   []byte
	NewState []byte
}

// TeardownResponse is empty
type TeardownResponse struct{}

func (*SetupResponse) TaskType() TaskType    { return TaskSetup }
func (*CallResponse) TaskType() TaskType     { return TaskCall }
func (*TeardownResponse) TaskType() TaskType { return TaskTeardown }
