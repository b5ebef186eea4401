package udfd

import (
	"context"
	"fmt"
	"sync"

	"github.com/jrepp/prism-udf/pkg/udfproto"
)

// Func is a UDF implementation. It receives the aggregate state of the
// previous step and returns the output and the next state.
type Func func(ctx context.Context, step udfproto.Step, state, input []byte) (output, newState []byte, err error)

type loaded struct {
	name string
	path string
	fn   Func
}

// Registry is a Handler that serves functions registered by name.
// The setup path is recorded but not interpreted.
type Registry struct {
	mu      sync.RWMutex
	funcs   map[string]Func
	handles map[int64]*loaded
	next    int64
}

// NewRegistry returns a registry holding the builtin functions
func NewRegistry() *Registry {
	r := &Registry{
		funcs:   make(map[string]Func),
		handles: make(map[int64]*loaded),
	}
	r.funcs["echo"] = Echo
	r.funcs["sum"] = Sum
	return r
}

// Register adds or replaces fn under name
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || len(name) > udfproto.NameSize {
		return fmt.Errorf("function name must be 1 to %d bytes: %q", udfproto.NameSize, name)
	}
	if fn == nil {
		return fmt.Errorf("nil function for %q", name)
	}

	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
	return nil
}

// Setup implements Handler
func (r *Registry) Setup(_ context.Context, req *udfproto.SetupRequest) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn, ok := r.funcs[req.Name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFunction, req.Name)
	}

	r.next++
	r.handles[r.next] = &loaded{name: req.Name, path: req.Path, fn: fn}
	return r.next, nil
}

// Call implements Handler
func (r *Registry) Call(ctx context.Context, req *udfproto.CallRequest) ([]byte, []byte, error) {
	r.mu.RLock()
	l, ok := r.handles[req.Handle]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidHandle, req.Handle)
	}

	return l.fn(ctx, req.Step, req.State, req.Input)
}

// Teardown implements Handler
func (r *Registry) Teardown(_ context.Context, handle int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[handle]; !ok {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	delete(r.handles, handle)
	return nil
}

// Loaded returns the number of live handles
func (r *Registry) Loaded() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
