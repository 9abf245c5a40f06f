package mcp

import (
	"maps"
	"sync"
)

// ProcessState represents the lifecycle state of a managed server process.
type ProcessState string

const (
	StateNotStarted  ProcessState = "not_started"
	StateStarting    ProcessState = "starting"
	StateHandshaking ProcessState = "handshaking"
	StateReady       ProcessState = "ready"
	StateStopping    ProcessState = "stopping"
	StateStopped     ProcessState = "stopped"

	// StateFailed is terminal: a process that failed handshake or broke the
	// wire protocol is excluded from account resolution and never reused.
	StateFailed ProcessState = "failed"
)

// StateRegistry tracks the lifecycle state of every managed server process.
type StateRegistry struct {
	states map[string]ProcessState
	mu     sync.RWMutex
}

// NewStateRegistry creates an empty StateRegistry.
func NewStateRegistry() *StateRegistry {
	return &StateRegistry{states: make(map[string]ProcessState)}
}

// Get returns the current state of a server, StateNotStarted if unknown.
func (r *StateRegistry) Get(serverName string) ProcessState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[serverName]
	if !ok {
		return StateNotStarted
	}
	return state
}

// Set updates the state of a server.
func (r *StateRegistry) Set(serverName string, state ProcessState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[serverName] = state
}

// CompareAndSwap atomically updates the state only if the current state
// matches expected. Returns true if the swap happened.
func (r *StateRegistry) CompareAndSwap(serverName string, expected, next ProcessState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.states[serverName]
	if !ok {
		current = StateNotStarted
	}
	if current == expected {
		r.states[serverName] = next
		return true
	}
	return false
}

// All returns a copy of every tracked state.
func (r *StateRegistry) All() map[string]ProcessState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]ProcessState, len(r.states))
	maps.Copy(states, r.states)
	return states
}

// Clear removes all tracked states.
func (r *StateRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = make(map[string]ProcessState)
}
