package udfc

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jrepp/prism-udf/pkg/udfproto"
)

// Error is returned by every client operation. It carries a code callers
// can branch on plus context for troubleshooting.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error

	// Context holds diagnostic key/value pairs, printed sorted by key
	Context map[string]interface{}
	// Suggestion tells the operator what to try next
	Suggestion string

	// WorkerCode is the response code for ErrorCodeWorker
	WorkerCode int32
}

// ErrorCode classifies an Error
type ErrorCode string

const (
	// Wire errors
	ErrorCodeFramingMismatch ErrorCode = "FRAMING_MISMATCH"
	ErrorCodeIO              ErrorCode = "IO_ERROR"

	// Lifecycle errors
	ErrorCodeOutOfService     ErrorCode = "OUT_OF_SERVICE"
	ErrorCodeWorkerRestarting ErrorCode = "WORKER_RESTARTING"
	ErrorCodeStopping         ErrorCode = "STOPPING"
	ErrorCodeSpawnFailed      ErrorCode = "SPAWN_FAILED"
	ErrorCodeInvalidState     ErrorCode = "INVALID_STATE"

	// Call errors
	ErrorCodeWorker           ErrorCode = "WORKER_ERROR"
	ErrorCodeSessionClosed    ErrorCode = "SESSION_CLOSED"
	ErrorCodeConnectionClosed ErrorCode = "CONNECTION_CLOSED"
	ErrorCodeCancelled        ErrorCode = "CANCELLED"
	ErrorCodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrFramingMismatch  = &Error{Code: ErrorCodeFramingMismatch, Message: "framing mismatch"}
	ErrIO               = &Error{Code: ErrorCodeIO, Message: "channel i/o failed"}
	ErrOutOfService     = &Error{Code: ErrorCodeOutOfService, Message: "client is not ready"}
	ErrWorkerRestarting = &Error{Code: ErrorCodeWorkerRestarting, Message: "worker is restarting"}
	ErrStopping         = &Error{Code: ErrorCodeStopping, Message: "client is stopping"}
	ErrSpawnFailed      = &Error{Code: ErrorCodeSpawnFailed, Message: "failed to spawn worker"}
	ErrInvalidState     = &Error{Code: ErrorCodeInvalidState, Message: "invalid state transition"}
	ErrWorker           = &Error{Code: ErrorCodeWorker, Message: "worker returned an error"}
	ErrSessionClosed    = &Error{Code: ErrorCodeSessionClosed, Message: "session is closed"}
	ErrConnectionClosed = &Error{Code: ErrorCodeConnectionClosed, Message: "connection closed"}
	ErrCancelled        = &Error{Code: ErrorCodeCancelled, Message: "operation cancelled"}
	ErrInvalidArgument  = &Error{Code: ErrorCodeInvalidArgument, Message: "invalid argument"}
)

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("; Context: ")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, "; Cause: %v", e.Cause)
	}
	if e.Suggestion != "" {
		b.WriteString("; Suggestion: " + e.Suggestion)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new Error with the given code and message
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WithContext records a diagnostic key/value pair
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// Retryable reports whether the same call may succeed once the worker is back
func (e *Error) Retryable() bool {
	switch e.Code {
	case ErrorCodeWorkerRestarting, ErrorCodeOutOfService, ErrorCodeIO:
		return true
	default:
		return false
	}
}

// Common error constructors

func errIO(op string, cause error) *Error {
	return NewError(ErrorCodeIO, fmt.Sprintf("%s failed", op)).
		WithCause(cause)
}

func errFraming(cause error) *Error {
	return NewError(ErrorCodeFramingMismatch, "malformed frame from worker").
		WithCause(cause)
}

func errOutOfService(state State) *Error {
	return NewError(ErrorCodeOutOfService, "client is not accepting requests").
		WithContext("state", state.String()).
		WithSuggestion("Retry after the client reports Ready")
}

func errRestarting() *Error {
	return NewError(ErrorCodeWorkerRestarting, "worker exited while the request was in flight").
		WithSuggestion("The worker is restarted automatically; retry the call")
}

func errStopping() *Error {
	return NewError(ErrorCodeStopping, "client is shutting down")
}

func errSpawnFailed(path string, cause error) *Error {
	return NewError(ErrorCodeSpawnFailed, "failed to start the udf worker").
		WithContext("worker_path", path).
		WithCause(cause).
		WithSuggestion(
			"Common causes:\n" +
				"  1. udfd is not in the working directory (see worker_path)\n" +
				"  2. The binary is not executable: chmod +x udfd\n" +
				"  3. The worker exits before listening on its socket; check its stderr")
}

func errInvalidState(from, to State) *Error {
	return NewError(ErrorCodeInvalidState,
		fmt.Sprintf("cannot transition from %s to %s", from, to)).
		WithContext("from", from.String()).
		WithContext("to", to.String())
}

func errWorker(task udfproto.TaskType, code int32) *Error {
	e := NewError(ErrorCodeWorker,
		fmt.Sprintf("worker rejected %s: %s", task, udfproto.CodeText(code))).
		WithContext("task", task.String()).
		WithContext("code", code)
	e.WorkerCode = code
	return e
}

func errSessionClosed() *Error {
	return NewError(ErrorCodeSessionClosed, "session is closed").
		WithSuggestion("Call Setup again to obtain a new session")
}

func errConnectionClosed() *Error {
	return NewError(ErrorCodeConnectionClosed, "connection closed before the reply arrived")
}

func errCancelled(cause error) *Error {
	return NewError(ErrorCodeCancelled, "operation abandoned by caller").
		WithCause(cause)
}

func errInvalidArgument(message string) *Error {
	return NewError(ErrorCodeInvalidArgument, message)
}

// IsErrorCode reports whether err wraps an *Error with the given code
func IsErrorCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetErrorCode returns the code of the first *Error in err's chain, or ""
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
