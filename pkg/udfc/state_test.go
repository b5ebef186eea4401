package udfc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_ValidPath(t *testing.T) {
	var seen []string
	sm := newStateMachine(func(from, to State) {
		seen = append(seen, from.String()+"->"+to.String())
	})

	assert.Equal(t, StateInitial, sm.Load())
	require.NoError(t, sm.Transition(StateStarting))
	require.NoError(t, sm.Transition(StateReady))
	require.NoError(t, sm.Transition(StateRestarting))
	require.NoError(t, sm.Transition(StateReady))
	require.NoError(t, sm.Transition(StateStopping))
	require.NoError(t, sm.Transition(StateFinal))

	assert.Equal(t, []string{
		"Initial->Starting",
		"Starting->Ready",
		"Ready->Restarting",
		"Restarting->Ready",
		"Ready->Stopping",
		"Stopping->Final",
	}, seen)
}

func TestStateMachine_RejectsInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{StateInitial, StateReady},
		{StateInitial, StateStopping},
		{StateStarting, StateRestarting},
		{StateStarting, StateStopping},
		{StateReady, StateFinal},
		{StateReady, StateStarting},
		{StateStopping, StateReady},
		{StateFinal, StateStarting},
		{StateFinal, StateFinal},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			sm := newStateMachine()
			sm.current.Store(int32(tt.from))

			err := sm.Transition(tt.to)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidState)
			assert.Equal(t, tt.from, sm.Load())
		})
	}
}

func TestStateMachine_TransitionFrom(t *testing.T) {
	sm := newStateMachine()
	require.NoError(t, sm.Transition(StateStarting))

	assert.False(t, sm.TransitionFrom(StateStopping, StateReady, StateRestarting))
	assert.Equal(t, StateStarting, sm.Load())

	assert.True(t, sm.TransitionFrom(StateReady, StateStarting))
	assert.True(t, sm.TransitionFrom(StateStopping, StateReady, StateRestarting))
	assert.False(t, sm.TransitionFrom(StateReady, StateRestarting))
	assert.Equal(t, StateStopping, sm.Load())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Restarting", StateRestarting.String())
	assert.Equal(t, "Unknown", State(42).String())
}
