package udfc

import (
	"context"
	"fmt"

	"github.com/jrepp/prism-udf/pkg/udfproto"
)

// task is one request/response exchange on an open connection
type task struct {
	client *Client
	connID uint64
	body   udfproto.RequestBody
}

// roundTrip encodes the request, waits for the matching reply and returns
// its body. A non-zero worker code becomes a WORKER_ERROR.
func (t *task) roundTrip(ctx context.Context) (udfproto.ResponseBody, error) {
	typ := t.body.TaskType()

	// The reactor assigns the sequence number
	frame, err := udfproto.EncodeRequest(&udfproto.Request{Body: t.body})
	if err != nil {
		return nil, errInvalidArgument(fmt.Sprintf("cannot encode %s request", typ)).WithCause(err)
	}

	e, err := t.client.runEntry(ctx, opSendReceive, t.connID, frame)
	if err != nil {
		return nil, err
	}

	rsp, err := udfproto.DecodeResponse(e.rsp)
	if err != nil {
		return nil, errFraming(err).WithContext("task", typ.String())
	}
	if rsp.SeqNum != e.seq {
		return nil, errFraming(fmt.Errorf("reply seq %d for request seq %d", rsp.SeqNum, e.seq))
	}
	if rsp.Type() != typ {
		return nil, errFraming(fmt.Errorf("%s reply to a %s request", rsp.Type(), typ)).
			WithContext("seq", e.seq)
	}
	if rsp.Code != udfproto.CodeOK {
		return nil, errWorker(typ, rsp.Code)
	}
	return rsp.Body, nil
}
