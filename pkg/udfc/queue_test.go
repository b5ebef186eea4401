package udfc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PushDrain(t *testing.T) {
	q := newQueue[int]()

	assert.True(t, q.push(1))
	assert.True(t, q.push(2))
	assert.Equal(t, 2, q.len())

	select {
	case <-q.wakeup():
	default:
		t.Fatal("expected a wakeup after push")
	}

	assert.Equal(t, []int{1, 2}, q.drain())
	assert.Empty(t, q.drain())
	assert.Equal(t, 0, q.len())
}

func TestQueue_WakeupCoalesces(t *testing.T) {
	q := newQueue[int]()
	for i := 0; i < 10; i++ {
		q.push(i)
	}

	<-q.wakeup()
	select {
	case <-q.wakeup():
		t.Fatal("wakeups should coalesce")
	default:
	}
	assert.Len(t, q.drain(), 10)
}

func TestQueue_Close(t *testing.T) {
	q := newQueue[string]()
	q.push("left")

	assert.Equal(t, []string{"left"}, q.close())
	assert.True(t, q.isClosed())
	assert.False(t, q.push("late"))
	assert.ErrorIs(t, q.pushIf("late", nil), errQueueClosed)
	assert.Empty(t, q.drain())
}

func TestQueue_PushIfAdmission(t *testing.T) {
	q := newQueue[int]()
	reject := errors.New("rejected")

	err := q.pushIf(1, func() error { return reject })
	require.ErrorIs(t, err, reject)
	assert.Equal(t, 0, q.len())

	require.NoError(t, q.pushIf(2, func() error { return nil }))
	assert.Equal(t, []int{2}, q.drain())
}
