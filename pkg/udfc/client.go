// Package udfc is the client side of the UDF bridge. It runs a udfd worker
// process, multiplexes Setup/Call/Teardown requests from any number of
// goroutines over local connections to it, and restarts the worker when it
// dies.
package udfc

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jrepp/prism-udf/pkg/udfproto"
)

const tracerName = "github.com/jrepp/prism-udf/pkg/udfc"

// Client owns one worker process and the reactor that talks to it.
// All methods are safe for concurrent use.
type Client struct {
	id      string
	cfg     *Config
	logger  *slog.Logger
	metrics MetricsCollector
	tracer  trace.Tracer

	observers []StateObserver
	state     *stateMachine
	submit    *queue[*entry]
	nextID    atomic.Uint64

	reactor  *reactor
	stopOnce sync.Once
}

// SetupParams identifies the UDF to load
type SetupParams struct {
	// Name is the function name, at most udfproto.NameSize bytes
	Name string
	// Path locates the library or script. The worker decides how to use it.
	Path       string
	ScriptType udfproto.ScriptType
	UDFType    int8
}

// Session is a loaded UDF bound to its own connection to the worker.
// Calls on one session may run concurrently.
type Session struct {
	connID uint64
	handle int64
	name   string
	closed atomic.Bool
}

// Handle returns the worker-assigned handle
func (s *Session) Handle() int64 {
	return s.handle
}

// Name returns the function name passed to Setup
func (s *Session) Name() string {
	return s.name
}

// Closed reports whether Teardown has been called
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// New creates a client in the Initial state. A nil cfg uses DefaultConfig.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errInvalidArgument("invalid client config").WithCause(err)
	}

	c := &Client{
		id:      uuid.New().String(),
		cfg:     cfg,
		logger:  slog.Default(),
		metrics: NewNoopMetricsCollector(),
		submit:  newQueue[*entry](),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
	c.logger = c.logger.With("client_id", c.id)

	observers := append([]StateObserver{c.logTransition, c.metrics.StateTransition}, c.observers...)
	c.state = newStateMachine(observers...)
	c.reactor = newReactor(cfg, c.logger, c.metrics, c.state, c.submit)

	return c, nil
}

func (c *Client) logTransition(from, to State) {
	c.logger.Info("client state changed", "from", from.String(), "to", to.String())
}

// ID returns the unique id of this client instance
func (c *Client) ID() string {
	return c.id
}

// State returns the current lifecycle state
func (c *Client) State() State {
	return c.state.Load()
}

// WorkerPID returns the pid of the live worker, or 0 while none is running
func (c *Client) WorkerPID() int {
	return int(c.reactor.workerPID.Load())
}

// Start spawns the worker and blocks until it accepts connections. On
// failure the client ends in Final and the error has code SPAWN_FAILED.
func (c *Client) Start(ctx context.Context) error {
	if err := c.state.Transition(StateStarting); err != nil {
		return err
	}

	go c.reactor.run()

	select {
	case err := <-c.reactor.started:
		if err == nil {
			return nil
		}
		<-c.reactor.done
		c.state.TransitionFrom(StateFinal, StateStarting)
		return err

	case <-ctx.Done():
		c.logger.Warn("start abandoned", "error", ctx.Err())
		c.stopOnce.Do(func() { close(c.reactor.stop) })
		<-c.reactor.done
		if !c.state.TransitionFrom(StateFinal, StateStarting) {
			c.state.TransitionFrom(StateStopping, StateReady)
			c.state.TransitionFrom(StateFinal, StateStopping)
		}
		return errCancelled(ctx.Err())
	}
}

// Stop resolves everything outstanding with STOPPING, terminates the worker
// and moves to Final. It returns early with a CANCELLED error if ctx ends
// before the reactor has exited.
func (c *Client) Stop(ctx context.Context) error {
	for {
		switch s := c.state.Load(); s {
		case StateInitial:
			if c.state.TransitionFrom(StateFinal, StateInitial) {
				return nil
			}
		case StateFinal:
			return nil
		case StateStarting:
			return errInvalidState(s, StateStopping).
				WithSuggestion("Cancel the context passed to Start instead")
		case StateStopping:
			// An earlier Stop gave up waiting; finish its transition
			if err := c.awaitReactor(ctx); err != nil {
				return err
			}
			c.state.TransitionFrom(StateFinal, StateStopping)
			return nil
		case StateReady, StateRestarting:
			if !c.state.TransitionFrom(StateStopping, StateReady, StateRestarting) {
				continue
			}
			c.stopOnce.Do(func() { close(c.reactor.stop) })
			if err := c.awaitReactor(ctx); err != nil {
				return err
			}
			return c.state.Transition(StateFinal)
		}
	}
}

func (c *Client) awaitReactor(ctx context.Context) error {
	select {
	case <-c.reactor.done:
		return nil
	case <-ctx.Done():
		return errCancelled(ctx.Err()).WithContext("state", c.state.Load().String())
	}
}

// Setup opens a connection and asks the worker to load a UDF. If the load
// fails the connection is closed before returning.
func (c *Client) Setup(ctx context.Context, p SetupParams) (_ *Session, err error) {
	ctx, span := c.tracer.Start(ctx, "udfc.Setup", trace.WithAttributes(
		attribute.String("udf.name", p.Name),
		attribute.String("udf.path", p.Path),
	))
	defer c.finish(span, udfproto.TaskSetup, time.Now(), &err)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	e, err := c.runEntry(ctx, opConnect, 0, nil)
	if err != nil {
		return nil, err
	}
	connID := e.connID

	t := &task{client: c, connID: connID, body: &udfproto.SetupRequest{
		Name:       p.Name,
		ScriptType: p.ScriptType,
		UDFType:    p.UDFType,
		Path:       p.Path,
	}}
	body, err := t.roundTrip(ctx)
	if err != nil {
		c.disconnect(context.WithoutCancel(ctx), connID)
		return nil, err
	}

	s := &Session{
		connID: connID,
		handle: body.(*udfproto.SetupResponse).Handle,
		name:   p.Name,
	}
	span.SetAttributes(attribute.Int64("udf.handle", s.handle))
	return s, nil
}

// Call invokes the session's UDF for one step and returns the new state
// and the output
func (c *Client) Call(ctx context.Context, s *Session, step udfproto.Step, state, input []byte) (newState, output []byte, err error) {
	if s == nil {
		return nil, nil, errInvalidArgument("nil session")
	}

	ctx, span := c.tracer.Start(ctx, "udfc.Call", trace.WithAttributes(
		attribute.String("udf.name", s.name),
		attribute.Int64("udf.handle", s.handle),
		attribute.String("udf.step", step.String()),
		attribute.Int("udf.input_bytes", len(input)),
	))
	defer c.finish(span, udfproto.TaskCall, time.Now(), &err)

	if s.closed.Load() {
		return nil, nil, errSessionClosed().WithContext("handle", s.handle)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	t := &task{client: c, connID: s.connID, body: &udfproto.CallRequest{
		Handle: s.handle,
		Step:   step,
		Input:  input,
		State:  state,
	}}
	body, err := t.roundTrip(ctx)
	if err != nil {
		return nil, nil, err
	}

	rsp := body.(*udfproto.CallResponse)
	return rsp.NewState, rsp.Output, nil
}

// Teardown releases the UDF and closes the session's connection. The
// session is closed afterwards even when the worker reports an error.
func (c *Client) Teardown(ctx context.Context, s *Session) (err error) {
	if s == nil {
		return errInvalidArgument("nil session")
	}

	ctx, span := c.tracer.Start(ctx, "udfc.Teardown", trace.WithAttributes(
		attribute.String("udf.name", s.name),
		attribute.Int64("udf.handle", s.handle),
	))
	defer c.finish(span, udfproto.TaskTeardown, time.Now(), &err)

	if !s.closed.CompareAndSwap(false, true) {
		return errSessionClosed().WithContext("handle", s.handle)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	t := &task{client: c, connID: s.connID, body: &udfproto.TeardownRequest{Handle: s.handle}}
	_, err = t.roundTrip(ctx)

	c.disconnect(context.WithoutCancel(ctx), s.connID)
	return err
}

// disconnect closes connID. Failures only mean the connection is already
// gone, so they are logged and dropped.
func (c *Client) disconnect(ctx context.Context, connID uint64) {
	if _, err := c.runEntry(ctx, opDisconnect, connID, nil); err != nil {
		c.logger.Debug("disconnect failed", "conn_id", connID, "error", err)
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, c.cfg.CallTimeout)
	}
	return ctx, func() {}
}

func (c *Client) finish(span trace.Span, task udfproto.TaskType, start time.Time, errp *error) {
	err := *errp
	c.metrics.TaskDuration(task, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if code := GetErrorCode(err); code != "" {
			span.SetAttributes(attribute.String("udf.error_code", string(code)))
		}
	}
	span.End()
}
