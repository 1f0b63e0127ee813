package status

import (
	"fmt"
	"slices"
	"sync"
)

// Table lists the allowed transitions out of each state.
type Table[S comparable] map[S][]S

// Machine tracks and enforces transitions over a table.
type Machine[S comparable] struct {
	mu       sync.RWMutex
	current  S
	table    Table[S]
	onChange func(from, to S)
}

// New creates a machine starting in initial. onChange may be nil; it runs
// after every successful transition, outside the lock.
func New[S comparable](initial S, table Table[S], onChange func(from, to S)) *Machine[S] {
	return &Machine[S]{
		current:  initial,
		table:    table,
		onChange: onChange,
	}
}

// Current returns the current state.
func (m *Machine[S]) Current() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in s.
func (m *Machine[S]) Is(s S) bool { return m.Current() == s }

// Can reports whether moving to s is allowed from the current state.
func (m *Machine[S]) Can(to S) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.table[m.current], to)
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine[S]) Transition(to S) error {
	m.mu.Lock()
	allowed := m.table[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %v to %v", from, to)
	}
	from := m.current
	m.current = to
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(from, to)
	}
	return nil
}

// Walk applies each transition in order and stops at the first invalid one.
func (m *Machine[S]) Walk(path ...S) error {
	for _, s := range path {
		if err := m.Transition(s); err != nil {
			return err
		}
	}
	return nil
}
