package session

import (
	"sync"
)

// Store serializes dispatches against a single State value and fans the
// resulting snapshots out to subscribers. Transitions run to completion in
// strict dispatch order; subscribers are notified synchronously in that
// same order, so an observer never sees snapshots out of sequence.
type Store struct {
	mu          sync.Mutex
	state       State
	subscribers []func(State)
}

// NewStore creates a store holding the initial disconnected state.
func NewStore() *Store {
	return &Store{state: NewState()}
}

// State returns the current snapshot. Snapshots are immutable and remain
// valid after later dispatches.
func (st *Store) State() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

// Dispatch applies an action and notifies subscribers with the new
// snapshot. The returned error is non-nil only for the fatal welcome case;
// the state is left unchanged then.
func (st *Store) Dispatch(action Action) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	next, err := Transition(st.state, action)
	if err != nil {
		return err
	}
	st.state = next
	for _, notify := range st.subscribers {
		notify(next)
	}
	return nil
}

// Subscribe registers an observer for every future snapshot. It is called
// with the dispatch lock held and must not dispatch from within; hand work
// that needs to dispatch to another goroutine.
func (st *Store) Subscribe(fn func(State)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.subscribers = append(st.subscribers, fn)
}
