package udfc

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jrepp/prism-udf/pkg/procmgr"
	"github.com/jrepp/prism-udf/pkg/transport"
	"github.com/jrepp/prism-udf/pkg/udfproto"
)

// event is a completion posted to the reactor by a helper goroutine
type event interface{}

type connectEvent struct {
	entry *entry
	nc    net.Conn
	err   error
}

type readEvent struct {
	connID uint64
	data   []byte
	err    error
}

type writeEvent struct {
	connID uint64
	entry  *entry
	err    error
}

// connLossEvent fails the leftovers of a dropped connection once the grace
// period for a worker exit notification has passed
type connLossEvent struct {
	entries []*entry
	cause   func() *Error
}

type workerExitEvent struct {
	gen    uint64
	status procmgr.ExitStatus
}

type workerReadyEvent struct {
	gen uint64
	err error
}

type respawnEvent struct{}

type reloadEvent struct{}

// reactor owns every connection, the in-flight arena and the worker process.
// All of its fields are confined to the goroutine running run, except the
// channels and workerPID.
type reactor struct {
	cfg     *Config
	logger  *slog.Logger
	metrics MetricsCollector
	state   *stateMachine
	submit  *queue[*entry]

	ctx    context.Context
	cancel context.CancelFunc

	events  chan event
	stop    chan struct{}
	done    chan struct{}
	started chan error

	conns    map[uint64]*connection
	inflight map[uint64]*entry
	dials    sync.WaitGroup
	nextConn uint64
	nextSeq  int64

	workerPath  string
	stopSignal  syscall.Signal
	worker      *procmgr.Process
	workerPID   atomic.Int64
	generation  uint64
	backoff     procmgr.Backoff
	probeCancel context.CancelFunc
	reloading   bool
	stopWatch   func()
	exit        bool
}

func newReactor(cfg *Config, logger *slog.Logger, metrics MetricsCollector, state *stateMachine, submit *queue[*entry]) *reactor {
	ctx, cancel := context.WithCancel(context.Background())
	sig, _ := parseSignal(cfg.StopSignal)

	return &reactor{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		state:      state,
		submit:     submit,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan event, 256),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		started:    make(chan error, 1),
		conns:      make(map[uint64]*connection),
		inflight:   make(map[uint64]*entry),
		stopSignal: sig,
		backoff: procmgr.Backoff{
			Base: cfg.RestartBackoff,
			Max:  cfg.MaxRestartBackoff,
		},
	}
}

// post delivers ev to the reactor. It returns false once the reactor has exited.
func (r *reactor) post(ev event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

// run is the reactor loop. It returns after shutdown or a failed startup.
func (r *reactor) run() {
	defer close(r.done)
	defer r.cancel()

	r.logger.Info("reactor starting", "worker_path", r.cfg.WorkerPath, "endpoint", r.cfg.Endpoint.String())

	if err := r.spawn(); err != nil {
		r.started <- errSpawnFailed(r.cfg.WorkerPath, err)
		return
	}

	if r.cfg.WatchWorker {
		stop, err := r.watchWorker(r.workerPath)
		if err != nil {
			r.logger.Warn("failed to watch worker executable", "path", r.workerPath, "error", err)
		} else {
			r.stopWatch = stop
		}
	}

	for !r.exit {
		select {
		case <-r.submit.wakeup():
			for _, e := range r.submit.drain() {
				r.start(e)
			}

		case ev := <-r.events:
			r.handle(ev)

		case <-r.stop:
			r.shutdown()
			r.drainDials()
			return
		}
	}

	if r.stopWatch != nil {
		r.stopWatch()
	}
	r.cancel()
	r.drainDials()
}

// start begins the operation for a freshly dequeued entry
func (r *reactor) start(e *entry) {
	if e.op == opCancel {
		r.cancelEntry(e)
		return
	}

	e.member = memberProcessing
	r.inflight[e.id] = e
	r.metrics.InflightDepth(len(r.inflight))

	switch e.op {
	case opConnect:
		r.dials.Add(1)
		go r.dial(e)
	case opSendReceive:
		r.sendReceive(e)
	case opDisconnect:
		r.disconnect(e)
	}
}

func (r *reactor) dial(e *entry) {
	defer r.dials.Done()

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.StartTimeout)
	defer cancel()

	nc, err := transport.Dial(ctx, r.cfg.Endpoint)
	if !r.post(connectEvent{entry: e, nc: nc, err: err}) && nc != nil {
		nc.Close()
	}
}

func (r *reactor) sendReceive(e *entry) {
	c, ok := r.conns[e.connID]
	if !ok {
		r.resolve(e, nil, errSessionClosed().WithContext("conn_id", e.connID))
		return
	}

	r.nextSeq++
	e.seq = r.nextSeq
	if err := udfproto.PutSeqNum(e.req, e.seq); err != nil {
		r.resolve(e, nil, errInvalidArgument("request frame too short").WithCause(err))
		return
	}

	e.member = memberAwaitingReply
	c.pending[e.seq] = e
	c.outbox.push(outgoing{entry: e, frame: e.req})
}

func (r *reactor) disconnect(e *entry) {
	c, ok := r.conns[e.connID]
	if !ok {
		// Already closed by a read error or a restart
		r.resolve(e, nil, nil)
		return
	}

	c.closers = append(c.closers, e)
	r.closeConn(c, errConnectionClosed, false)
}

func (r *reactor) cancelEntry(ce *entry) {
	e, ok := r.inflight[ce.target]
	if !ok {
		return
	}
	r.logger.Debug("cancelling entry", "entry_id", e.id, "op", e.op.String(), "seq", e.seq)
	r.resolve(e, nil, errCancelled(ce.cause))
}

func (r *reactor) handle(ev event) {
	switch ev := ev.(type) {
	case connectEvent:
		r.onConnect(ev)
	case readEvent:
		r.onRead(ev)
	case writeEvent:
		r.onWrite(ev)
	case connLossEvent:
		for _, e := range ev.entries {
			r.resolve(e, nil, ev.cause())
		}
	case workerExitEvent:
		r.onWorkerExit(ev)
	case workerReadyEvent:
		r.onWorkerReady(ev)
	case respawnEvent:
		if r.state.Load() == StateRestarting && r.worker == nil {
			r.respawn()
		}
	case reloadEvent:
		r.onReload()
	}
}

func (r *reactor) onConnect(ev connectEvent) {
	e := ev.entry
	if e.member == memberResolved {
		// Cancelled or failed over while dialing
		if ev.nc != nil {
			ev.nc.Close()
		}
		return
	}
	if ev.err != nil {
		r.resolve(e, nil, errIO("connect", ev.err).WithContext("endpoint", r.cfg.Endpoint.String()))
		return
	}

	r.nextConn++
	c := newConnection(r.nextConn, ev.nc, r.cfg.MaxFrameSize)
	r.conns[c.id] = c
	r.metrics.ConnectionsOpen(len(r.conns))

	go c.readLoop(r.post)
	go c.writeLoop(r.post)

	e.connID = c.id
	r.resolve(e, nil, nil)
}

func (r *reactor) onRead(ev readEvent) {
	c, ok := r.conns[ev.connID]
	if !ok {
		return
	}

	if len(ev.data) > 0 {
		frames, err := c.frames.feed(ev.data)
		for _, frame := range frames {
			r.deliver(c, frame)
		}
		if err != nil {
			r.logger.Error("closing connection after malformed frame", "conn_id", c.id, "error", err)
			r.metrics.FrameDropped("malformed")
			r.closeConn(c, func() *Error { return errFraming(err) }, false)
			return
		}
	}

	if ev.err != nil {
		cause := ev.err
		if c.frames.buffered() > 0 {
			r.metrics.FrameDropped("truncated")
		}
		r.closeConn(c, func() *Error { return errIO("read", cause) }, true)
	}
}

func (r *reactor) onWrite(ev writeEvent) {
	e := ev.entry
	if e.member == memberResolved {
		return
	}
	if ev.err == nil {
		e.req = nil
		return
	}

	cause := ev.err
	if c, ok := r.conns[ev.connID]; ok {
		r.closeConn(c, func() *Error { return errIO("write", cause) }, true)
		return
	}
	r.resolve(e, nil, errIO("write", cause))
}

// deliver hands a complete frame to the entry waiting for its sequence number
func (r *reactor) deliver(c *connection, frame []byte) {
	seq, _ := udfproto.PeekSeqNum(frame)
	e, ok := c.pending[seq]
	if !ok {
		r.logger.Warn("dropping response with no pending request",
			"conn_id", c.id, "seq", seq, "bytes", len(frame))
		r.metrics.FrameDropped("unmatched")
		return
	}
	r.resolve(e, frame, nil)
}

// closeConn closes the channel and settles every entry attached to it.
// Disconnect waiters succeed. Pending requests fail with cause, either now
// or, when linger is set, after ConnLossGrace so that a worker exit noticed
// in the meantime can report them as restarting instead.
func (r *reactor) closeConn(c *connection, cause func() *Error, linger bool) {
	if c.closing {
		return
	}
	c.closing = true
	delete(r.conns, c.id)
	r.metrics.ConnectionsOpen(len(r.conns))

	if err := c.nc.Close(); err != nil {
		r.logger.Debug("error closing connection", "conn_id", c.id, "error", err)
	}
	c.outbox.close()

	for _, e := range c.closers {
		r.resolve(e, nil, nil)
	}
	c.closers = nil

	if len(c.pending) == 0 {
		return
	}

	orphans := make([]*entry, 0, len(c.pending))
	for _, e := range c.pending {
		orphans = append(orphans, e)
	}

	if !linger || r.cfg.ConnLossGrace <= 0 {
		for _, e := range orphans {
			r.resolve(e, nil, cause())
		}
		return
	}

	r.logger.Debug("connection lost with requests pending",
		"conn_id", c.id, "pending", len(orphans), "grace", r.cfg.ConnLossGrace)
	time.AfterFunc(r.cfg.ConnLossGrace, func() {
		r.post(connLossEvent{entries: orphans, cause: cause})
	})
}

// resolve delivers the result of e to its caller exactly once
func (r *reactor) resolve(e *entry, rsp []byte, err error) {
	if e.member == memberResolved {
		return
	}
	if e.member == memberAwaitingReply {
		if c, ok := r.conns[e.connID]; ok && c.pending[e.seq] == e {
			delete(c.pending, e.seq)
		}
	}

	e.member = memberResolved
	e.rsp = rsp
	e.err = err
	e.req = nil

	delete(r.inflight, e.id)
	r.metrics.InflightDepth(len(r.inflight))

	close(e.done)
}

// failAll resolves every queued and in-flight entry with a fresh error
// from mkErr and closes all connections
func (r *reactor) failAll(mkErr func() *Error) {
	for _, e := range r.submit.drain() {
		if e.op != opCancel {
			r.resolve(e, nil, mkErr())
		}
	}
	for _, e := range r.inflight {
		r.resolve(e, nil, mkErr())
	}
	for _, c := range r.conns {
		r.closeConn(c, mkErr, false)
	}
}

// shutdown is the stop pass: fail everything with the stopping error,
// reject further submissions and terminate the worker
func (r *reactor) shutdown() {
	r.logger.Info("reactor stopping", "inflight", len(r.inflight), "connections", len(r.conns))

	r.cancel()
	if r.stopWatch != nil {
		r.stopWatch()
	}

	for _, e := range r.submit.close() {
		if e.op != opCancel {
			r.resolve(e, nil, errStopping())
		}
	}
	r.failAll(errStopping)

	if r.worker == nil {
		return
	}

	p := r.worker
	r.worker = nil
	if err := p.Terminate(r.stopSignal, r.cfg.StopGracePeriod); err != nil {
		r.logger.Error("failed to terminate worker", "pid", p.Pid(), "error", err)
	}
	r.workerPID.Store(0)

	status := p.ExitStatus()
	clean := status.Clean(r.stopSignal)
	r.metrics.WorkerExited(clean)
	if clean {
		r.logger.Info("worker stopped", "pid", p.Pid(), "status", status.String())
	} else {
		r.logger.Warn("worker exited uncleanly during shutdown", "pid", p.Pid(), "status", status.String())
	}
}

// drainDials waits out dials still in flight once the loop has stopped and
// closes any connection they delivered
func (r *reactor) drainDials() {
	idle := make(chan struct{})
	go func() {
		r.dials.Wait()
		close(idle)
	}()

	for {
		select {
		case ev := <-r.events:
			discardEvent(ev)
		case <-idle:
			for {
				select {
				case ev := <-r.events:
					discardEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func discardEvent(ev event) {
	if ce, ok := ev.(connectEvent); ok && ce.nc != nil {
		ce.nc.Close()
	}
}
