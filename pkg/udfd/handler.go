// Package udfd is the worker side of the UDF bridge: it listens on a local
// endpoint, decodes Setup/Call/Teardown frames and answers them from a
// Handler, concurrently and in completion order.
package udfd

import (
	"context"
	"errors"

	"github.com/jrepp/prism-udf/pkg/udfproto"
)

// Errors a Handler returns to select the response code. Any other error
// is reported as udfproto.CodeFunctionFailed.
var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrInvalidHandle   = errors.New("invalid handle")
	ErrBadRequest      = errors.New("bad request")
)

// Handler executes decoded requests
type Handler interface {
	// Setup loads the named UDF and returns a handle for later calls
	Setup(ctx context.Context, req *udfproto.SetupRequest) (int64, error)

	// Call runs one step of a loaded UDF
	Call(ctx context.Context, req *udfproto.CallRequest) (output, newState []byte, err error)

	// Teardown releases a handle
	Teardown(ctx context.Context, handle int64) error
}

// ResponseCode maps a handler error to the code written on the wire
func ResponseCode(err error) int32 {
	switch {
	case err == nil:
		return udfproto.CodeOK
	case errors.Is(err, ErrUnknownFunction):
		return udfproto.CodeUnknownFunction
	case errors.Is(err, ErrInvalidHandle):
		return udfproto.CodeInvalidHandle
	case errors.Is(err, ErrBadRequest):
		return udfproto.CodeBadRequest
	default:
		return udfproto.CodeFunctionFailed
	}
}

// dispatch runs req against h and builds the response. The sequence number
// is echoed unchanged.
func dispatch(ctx context.Context, h Handler, req *udfproto.Request) (*udfproto.Response, error) {
	rsp := &udfproto.Response{SeqNum: req.SeqNum}

	var err error
	switch body := req.Body.(type) {
	case *udfproto.SetupRequest:
		var handle int64
		handle, err = h.Setup(ctx, body)
		rsp.Body = &udfproto.SetupResponse{Handle: handle}
	case *udfproto.CallRequest:
		var output, newState []byte
		output, newState, err = h.Call(ctx, body)
		rsp.Body = &udfproto.CallResponse{Output: output, NewState: newState}
	case *udfproto.TeardownRequest:
		err = h.Teardown(ctx, body.Handle)
		rsp.Body = &udfproto.TeardownResponse{}
	}

	rsp.Code = ResponseCode(err)
	if err != nil {
		// Payloads are undefined on failure
		switch b := rsp.Body.(type) {
		case *udfproto.SetupResponse:
			b.Handle = 0
		case *udfproto.CallResponse:
			b.Output, b.NewState = nil, nil
		}
	}
	return rsp, err
}
