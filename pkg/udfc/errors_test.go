package udfc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/prism-udf/pkg/udfproto"
)

func TestError_Format(t *testing.T) {
	err := NewError(ErrorCodeIO, "read failed").
		WithContext("conn_id", 3).
		WithContext("endpoint", "unix://udf.sock").
		WithCause(io.EOF).
		WithSuggestion("check the worker")

	assert.Equal(t,
		"[IO_ERROR] read failed; Context: conn_id=3, endpoint=unix://udf.sock; Cause: EOF; Suggestion: check the worker",
		err.Error())
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := errIO("read", io.ErrUnexpectedEOF)

	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.NotErrorIs(t, err, ErrWorkerRestarting)

	wrapped := fmt.Errorf("setup: %w", errRestarting())
	assert.ErrorIs(t, wrapped, ErrWorkerRestarting)
	assert.True(t, IsErrorCode(wrapped, ErrorCodeWorkerRestarting))
	assert.Equal(t, ErrorCodeWorkerRestarting, GetErrorCode(wrapped))
}

func TestError_CancelledWrapsContextError(t *testing.T) {
	err := errCancelled(context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestError_WorkerCode(t *testing.T) {
	err := errWorker(udfproto.TaskSetup, udfproto.CodeUnknownFunction)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, udfproto.CodeUnknownFunction, e.WorkerCode)
	assert.Contains(t, e.Error(), "unknown function")
}

func TestError_Retryable(t *testing.T) {
	assert.True(t, errRestarting().Retryable())
	assert.True(t, errOutOfService(StateRestarting).Retryable())
	assert.False(t, errStopping().Retryable())
	assert.False(t, errSessionClosed().Retryable())
}

func TestGetErrorCode_PlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.False(t, IsErrorCode(nil, ErrorCodeIO))
}

func TestBulkErrorsAreDistinct(t *testing.T) {
	a, b := errRestarting(), errRestarting()
	a.WithContext("seq", 1)
	assert.NotContains(t, b.Context, "seq")
}
