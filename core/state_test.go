package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateManagerStartsInitializing(t *testing.T) {
	m := NewStateManager()
	assert.Equal(t, StateInitializing, m.State())

	err := m.RequireOperational()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotOperational))

	var coreErr *Error
	require.True(t, errors.As(err, &coreErr))
	assert.Equal(t, StateInitializing, coreErr.State)
}

func TestStateManagerOperationalStates(t *testing.T) {
	m := NewStateManager()
	m.Set(StateOperational)
	assert.NoError(t, m.RequireOperational())

	// Learning is accepted only when the caller opts in
	m.Set(StateLearning)
	assert.Error(t, m.RequireOperational())
	assert.NoError(t, m.RequireOperational(StateLearning))

	for _, s := range []SystemState{StateDegraded, StateMaintenance, StateShutdown} {
		m.Set(s)
		err := m.RequireOperational(StateLearning)
		require.Error(t, err, "state %s must reject", s)
		var coreErr *Error
		require.True(t, errors.As(err, &coreErr))
		assert.Equal(t, s, coreErr.State)
	}
}

func TestStateManagerRecordsDegradedCause(t *testing.T) {
	m := NewStateManager()
	m.SetDegraded(ErrKindScoringUnavailable, "oracle connection refused")

	assert.Equal(t, StateDegraded, m.State())
	lastErr := m.LastError()
	require.NotNil(t, lastErr)
	assert.Equal(t, ErrKindScoringUnavailable, lastErr.Kind)
	assert.Equal(t, "oracle connection refused", lastErr.Detail)
	assert.False(t, lastErr.Occurred.IsZero())
}
