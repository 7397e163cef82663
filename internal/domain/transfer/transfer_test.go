package transfer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/dsp-connector/internal/domain/entity"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateInitial, StateRequesting, true},
		{StateRequesting, StateRequested, true},
		{StateRequested, StateStarting, true},
		{StateStarting, StateStarted, true},
		{StateStarted, StateStarted, true},
		{StateStarted, StateSuspending, true},
		{StateSuspended, StateStarting, true},
		{StateSuspended, StateCompleted, true},
		{StateInitial, StateStarted, false},
		{StateRequested, StateSuspended, false},
		{StateCompleted, StateTerminated, false},
		{StateTerminating, StateTerminated, true},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			p := New(Fields{Type: entity.TypeProvider, State: tt.from})
			assert.Equal(t, tt.want, p.CanTransitionTo(tt.to))
		})
	}
}

func TestTransitionStartedKeepsAddress(t *testing.T) {
	p := New(Fields{Type: entity.TypeConsumer, State: StateRequested})
	require.NoError(t, p.TransitionStarted(map[string]string{"endpoint": "https://data"}))
	assert.Equal(t, "https://data", p.DataAddress["endpoint"])

	require.NoError(t, p.TransitionStarted(nil))
	assert.Equal(t, "https://data", p.DataAddress["endpoint"])
}

func TestTransitionStartingResetsFlow(t *testing.T) {
	p := New(Fields{Type: entity.TypeProvider, State: StateSuspended})
	p.FlowStarted = true
	require.NoError(t, p.TransitionStarting())
	assert.False(t, p.FlowStarted)
}

func TestTerminalRejects(t *testing.T) {
	p := New(Fields{Type: entity.TypeConsumer, State: StateCompleted})
	err := p.TransitionSuspending()
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, StateCompleted, p.CurrentState())
}

func TestParseState(t *testing.T) {
	s, ok := ParseState("STARTED")
	assert.True(t, ok)
	assert.Equal(t, StateStarted, s)
	_, ok = ParseState("PROVISIONING")
	assert.False(t, ok)
}
