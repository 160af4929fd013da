package store

import (
	"fmt"
	"slices"
	"sync"
)

// MutationState is the lifecycle of one optimistic mutation attempt: the
// local effect is applied while Pending, then either confirmed (Committed)
// or undone (RolledBack). Both outcomes are terminal for the attempt.
type MutationState string

const (
	MutationIdle       MutationState = "idle"
	MutationPending    MutationState = "pending"
	MutationCommitted  MutationState = "committed"
	MutationRolledBack MutationState = "rolled_back"
)

var mutationTransitions = map[MutationState][]MutationState{
	MutationIdle:    {MutationPending},
	MutationPending: {MutationCommitted, MutationRolledBack},
}

// mutation tracks a single optimistic attempt through the lifecycle and
// rejects out-of-order transitions.
type mutation struct {
	mu    sync.Mutex
	state MutationState
}

// beginMutation returns a mutation already in the Pending state, matching
// the moment the local effect is applied.
func beginMutation() *mutation {
	m := &mutation{state: MutationIdle}
	_ = m.transition(MutationPending)
	return m
}

func (m *mutation) transition(to MutationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !slices.Contains(mutationTransitions[m.state], to) {
		return fmt.Errorf("invalid mutation transition from %s to %s", m.state, to)
	}
	m.state = to
	return nil
}

func (m *mutation) commit() error {
	return m.transition(MutationCommitted)
}

func (m *mutation) rollback() error {
	return m.transition(MutationRolledBack)
}

func (m *mutation) current() MutationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// fences issues monotonically increasing tokens per entity id. A response
// handler that finds its token stale knows a newer mutation on the same
// entity was issued while it was in flight, and must discard its effect.
type fences struct {
	mu      sync.Mutex
	current map[int64]uint64
}

func newFences() *fences {
	return &fences{current: make(map[int64]uint64)}
}

// issue returns a fresh token for id, superseding all earlier ones.
func (f *fences) issue(id int64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current[id]++
	return f.current[id]
}

// stale reports whether token has been superseded for id.
func (f *fences) stale(id int64, token uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current[id] != token
}
