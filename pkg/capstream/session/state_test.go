package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateCreated, StateActive, true},
		{StateCreated, StateFailed, true},
		{StateCreated, StatePaused, false},
		{StateCreated, StateStopping, false},
		{StateActive, StatePaused, true},
		{StateActive, StateStopping, true},
		{StateActive, StateFailed, true},
		{StateActive, StateStopped, false},
		{StatePaused, StateActive, true},
		{StatePaused, StateStopping, true},
		{StatePaused, StateFailed, true},
		{StateStopping, StateStopped, true},
		{StateStopping, StateFailed, false},
		{StateStopping, StateActive, false},
		{StateStopped, StateActive, false},
		{StateStopped, StateFailed, false},
		{StateFailed, StateActive, false},
		{StateFailed, StateStopped, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateStopped.Terminal())
	assert.True(t, StateFailed.Terminal())
	for _, s := range []State{StateCreated, StateActive, StatePaused, StateStopping} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestStateError(t *testing.T) {
	err := &StateError{SessionID: "s1", From: StateStopped, To: StateActive}
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "session s1: cannot go from stopped to active", err.Error())
}
