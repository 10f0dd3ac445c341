package stream

import "fmt"

// Transition describes a single edge in the state machine
type Transition[S ~string, E ~string] struct {
	From  S
	Event E
	To    S
}

// Machine is a small table-driven FSM. Unknown transitions are errors and
// leave the state unchanged. It is not safe for concurrent use.
type Machine[S ~string, E ~string] struct {
	state S
	index map[string]S
}

// NewMachine builds a machine from a transition table. Duplicate edges are
// rejected.
func NewMachine[S ~string, E ~string](initial S, transitions []Transition[S, E]) (*Machine[S, E], error) {
	idx := make(map[string]S, len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		idx[k] = t.To
	}
	return &Machine[S, E]{state: initial, index: idx}, nil
}

func (m *Machine[S, E]) State() S {
	return m.state
}

// Fire applies event and returns the new state
func (m *Machine[S, E]) Fire(event E) (S, error) {
	to, ok := m.index[key(m.state, event)]
	if !ok {
		return m.state, fmt.Errorf("invalid transition: state=%s event=%s", m.state, event)
	}
	m.state = to
	return to, nil
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
