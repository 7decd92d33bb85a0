package core

import (
	"sync"
	"time"
)

// SystemState is the coarse lifecycle state of a subsystem
type SystemState string

const (
	StateInitializing SystemState = "initializing"
	StateOperational  SystemState = "operational"
	StateLearning     SystemState = "learning"
	StateDegraded     SystemState = "degraded"
	StateMaintenance  SystemState = "maintenance"
	StateShutdown     SystemState = "shutdown"
)

// String returns the string representation
func (s SystemState) String() string {
	return string(s)
}

// StateError records the last fault that pushed a subsystem into a degraded
// state, as a structured value instead of an error-string state variant
type StateError struct {
	Kind     ErrorKind `json:"kind"`
	Detail   string    `json:"detail"`
	Occurred time.Time `json:"occurred"`
}

// StateManager tracks the lifecycle state of one subsystem. All accesses go
// through the mutex; the state value itself is immutable.
type StateManager struct {
	mu      sync.RWMutex
	state   SystemState
	lastErr *StateError
}

// NewStateManager creates a manager starting in Initializing
func NewStateManager() *StateManager {
	return &StateManager{state: StateInitializing}
}

// State returns the current state
func (m *StateManager) State() SystemState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Set replaces the current state
func (m *StateManager) Set(state SystemState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// SetDegraded moves to Degraded and records the cause
func (m *StateManager) SetDegraded(kind ErrorKind, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateDegraded
	m.lastErr = &StateError{Kind: kind, Detail: detail, Occurred: time.Now().UTC()}
}

// LastError returns the most recent recorded fault, or nil
func (m *StateManager) LastError() *StateError {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastErr == nil {
		return nil
	}
	errCopy := *m.lastErr
	return &errCopy
}

// RequireOperational returns a NotOperational error unless the subsystem is
// in one of the accepted states. Learning counts as operational for the
// packet path; callers that need strict Operational pass none.
func (m *StateManager) RequireOperational(also ...SystemState) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == StateOperational {
		return nil
	}
	for _, s := range also {
		if m.state == s {
			return nil
		}
	}
	return NotOperationalError(m.state)
}
