package udfc

import (
	"context"
	"errors"
	"fmt"
)

// opKind is the reactor operation a bridge entry asks for
type opKind int

const (
	opConnect opKind = iota
	opSendReceive
	opDisconnect
	// opCancel abandons another entry on behalf of its caller
	opCancel
)

// String returns the string representation of an opKind
func (o opKind) String() string {
	switch o {
	case opConnect:
		return "Connect"
	case opSendReceive:
		return "SendReceive"
	case opDisconnect:
		return "Disconnect"
	case opCancel:
		return "Cancel"
	default:
		return fmt.Sprintf("opKind(%d)", int(o))
	}
}

// membership tags where an entry currently lives. Only the reactor changes
// it once the entry has been pushed.
type membership int

const (
	// memberQueued - on the submit queue
	memberQueued membership = iota
	// memberProcessing - dequeued and tracked in the reactor's in-flight arena
	memberProcessing
	// memberAwaitingReply - additionally registered in a connection's pending map
	memberAwaitingReply
	// memberResolved - completion delivered, owned by the caller
	memberResolved
)

// entry is the unit of work handed from a caller goroutine to the reactor.
// Fields below done are written by the reactor before done is closed and
// read by the caller afterwards.
type entry struct {
	id     uint64
	op     opKind
	connID uint64

	// req is the encoded request; the reactor patches the sequence number
	// in place and drops its reference once the write completes
	req []byte

	// target and cause describe an opCancel
	target uint64
	cause  error

	member membership
	seq    int64

	done chan struct{}
	rsp  []byte
	err  error
}

func newEntry(id uint64, op opKind, connID uint64, req []byte) *entry {
	return &entry{
		id:     id,
		op:     op,
		connID: connID,
		req:    req,
		member: memberQueued,
		done:   make(chan struct{}),
	}
}

// admit rejects submissions unless the client is Ready. It runs under the
// submit queue mutex.
func (c *Client) admit() error {
	if s := c.state.Load(); s != StateReady {
		return errOutOfService(s)
	}
	return nil
}

// runEntry submits one reactor operation and blocks until it is resolved.
// If ctx ends first the entry is cancelled through the reactor and the
// caller still waits for the single resolution, so the entry is never
// delivered twice.
func (c *Client) runEntry(ctx context.Context, op opKind, connID uint64, req []byte) (*entry, error) {
	e := newEntry(c.nextID.Add(1), op, connID, req)

	if err := c.submit.pushIf(e, c.admit); err != nil {
		if errors.Is(err, errQueueClosed) {
			return nil, errStopping()
		}
		return nil, err
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		cancel := newEntry(c.nextID.Add(1), opCancel, connID, nil)
		cancel.target = e.id
		cancel.cause = ctx.Err()
		// A closed queue means the stop pass resolves e
		c.submit.push(cancel)
		<-e.done
	}

	if e.err != nil {
		return e, e.err
	}
	return e, nil
}
