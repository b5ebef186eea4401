package udfd

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jrepp/prism-udf/pkg/transport"
	"github.com/jrepp/prism-udf/pkg/udfproto"
)

const tracerName = "github.com/jrepp/prism-udf/pkg/udfd"

// ErrServerClosed is returned by Serve after Shutdown
var ErrServerClosed = errors.New("udfd: server closed")

// Server answers bridge requests on a local listener. Each request runs on
// its own goroutine and replies are written as they complete.
type Server struct {
	handler      Handler
	maxFrameSize int
	logger       *slog.Logger
	tracer       trace.Tracer
	metrics      *Metrics

	// ctx is cancelled when Shutdown gives up waiting on handlers
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[*serverConn]struct{}
	closed    bool

	handlers sync.WaitGroup
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithServerLogger sets the logger. Default: slog.Default()
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerTracerProvider enables per-request spans
func WithServerTracerProvider(tp trace.TracerProvider) ServerOption {
	return func(s *Server) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// WithServerMetrics records request counts and latency
func WithServerMetrics(m *Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithMaxFrameSize bounds the length a client may announce for one frame
func WithMaxFrameSize(n int) ServerOption {
	return func(s *Server) {
		s.maxFrameSize = n
	}
}

// NewServer creates a server dispatching to handler
func NewServer(handler Handler, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		handler:      handler,
		maxFrameSize: udfproto.DefaultMaxFrameSize,
		logger:       slog.Default(),
		tracer:       otel.GetTracerProvider().Tracer(tracerName),
		ctx:          ctx,
		cancel:       cancel,
		listeners:    make(map[net.Listener]struct{}),
		conns:        make(map[*serverConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe listens on e and serves until Shutdown
func (s *Server) ListenAndServe(e transport.Endpoint) error {
	lis, err := transport.Listen(e)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until Shutdown. It always returns a
// non-nil error, ErrServerClosed after Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		lis.Close()
		return ErrServerClosed
	}
	s.listeners[lis] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("udf worker listening", "addr", lis.Addr().String())

	for {
		nc, err := lis.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			return err
		}

		c := &serverConn{server: s, nc: nc}
		if !s.track(c) {
			nc.Close()
			return ErrServerClosed
		}
		go c.serve()
	}
}

// Shutdown stops accepting connections, waits for running handlers until
// ctx ends, then cancels the rest and closes every connection
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for lis := range s.listeners {
		lis.Close()
	}
	s.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(idle)
	}()

	var err error
	select {
	case <-idle:
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached, cancelling running handlers")
		err = ctx.Err()
	}
	s.cancel()

	s.mu.Lock()
	for c := range s.conns {
		c.nc.Close()
	}
	s.mu.Unlock()

	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c *serverConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

// beginRequest registers a handler unless Shutdown has started
func (s *Server) beginRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.handlers.Add(1)
	return true
}

func (s *Server) untrack(c *serverConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// serverConn reads frames sequentially and writes replies under writeMu
type serverConn struct {
	server  *Server
	nc      net.Conn
	writeMu sync.Mutex
}

func (c *serverConn) serve() {
	s := c.server
	defer s.untrack(c)
	defer c.nc.Close()

	br := bufio.NewReader(c.nc)
	for {
		frame, err := udfproto.ReadFrame(br, s.maxFrameSize)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection closed", "remote", c.nc.RemoteAddr().String())
			} else {
				s.logger.Warn("closing connection after read failure", "error", err)
			}
			return
		}

		req, err := udfproto.DecodeRequest(frame)
		if err != nil {
			// The stream position can no longer be trusted
			s.logger.Warn("closing connection after malformed request", "error", err)
			s.metrics.frameRejected()
			return
		}

		if !s.beginRequest() {
			s.logger.Debug("dropping request received during shutdown", "seq", req.SeqNum)
			return
		}
		go c.handle(req)
	}
}

func (c *serverConn) handle(req *udfproto.Request) {
	s := c.server
	defer s.handlers.Done()

	typ := req.Type()
	start := time.Now()

	ctx, span := s.tracer.Start(s.ctx, "udfd."+typ.String(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.Int64("udf.seq", req.SeqNum)))
	defer span.End()

	rsp, err := dispatch(ctx, s.handler, req)
	s.metrics.observe(typ, rsp.Code, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug("request failed",
			"task", typ.String(), "seq", req.SeqNum, "code", udfproto.CodeText(rsp.Code), "error", err)
	}

	frame, err := udfproto.EncodeResponse(rsp)
	if err != nil {
		// Only oversized payloads fail to encode; report them as a failure
		s.logger.Error("failed to encode response", "task", typ.String(), "seq", req.SeqNum, "error", err)
		frame, _ = udfproto.EncodeResponse(&udfproto.Response{
			SeqNum: req.SeqNum,
			Code:   udfproto.CodeFunctionFailed,
			Body:   emptyBody(typ),
		})
	}

	c.writeMu.Lock()
	_, err = c.nc.Write(frame)
	c.writeMu.Unlock()
	if err != nil {
		s.logger.Debug("failed to write response", "task", typ.String(), "seq", req.SeqNum, "error", err)
	}
}

func emptyBody(typ udfproto.TaskType) udfproto.ResponseBody {
	switch typ {
	case udfproto.TaskSetup:
		return &udfproto.SetupResponse{}
	case udfproto.TaskCall:
		return &udfproto.CallResponse{}
	default:
		return &udfproto.TeardownResponse{}
	}
}
