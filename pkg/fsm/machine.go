package fsm

import (
	"fmt"
	"sync"
)

type State string
type Event string

// Handler is executed when a transition occurs
type Handler func(event Event, args ...interface{}) error

// ChangeFunc observes every committed transition.
type ChangeFunc func(from, to State, event Event)

type edge struct {
	to      State
	handler Handler
}

type StateMachine struct {
	mu       sync.RWMutex
	current  State
	edges    map[State]map[Event]edge
	wildcard map[Event]edge
	onChange []ChangeFunc
}

func New(initial State) *StateMachine {
	return &StateMachine{
		current:  initial,
		edges:    make(map[State]map[Event]edge),
		wildcard: make(map[Event]edge),
	}
}

func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

func (sm *StateMachine) AddTransition(from, to State, event Event, callback Handler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.edges[from]; !ok {
		sm.edges[from] = make(map[Event]edge)
	}
	sm.edges[from][event] = edge{to: to, handler: callback}
}

// AddTransitionFromAny registers event as valid from every state.
// Explicit per-state transitions take precedence.
func (sm *StateMachine) AddTransitionFromAny(to State, event Event, callback Handler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.wildcard[event] = edge{to: to, handler: callback}
}

// OnChange registers fn to run after every transition, outside the lock.
func (sm *StateMachine) OnChange(fn ChangeFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onChange = append(sm.onChange, fn)
}

// Can reports whether event is valid from the current state.
func (sm *StateMachine) Can(event Event) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	_, ok := sm.lookup(event)
	return ok
}

func (sm *StateMachine) lookup(event Event) (edge, bool) {
	if e, ok := sm.edges[sm.current][event]; ok {
		return e, true
	}
	e, ok := sm.wildcard[event]
	return e, ok
}

// Fire triggers a state transition. It is thread-safe.
// The new state is committed before the handler runs and the lock is
// released, so handlers observe the new state and may fire further events.
// A handler error is returned but does not roll the state back.
func (sm *StateMachine) Fire(event Event, args ...interface{}) error {
	sm.mu.Lock()
	e, ok := sm.lookup(event)
	if !ok {
		from := sm.current
		sm.mu.Unlock()
		return fmt.Errorf("invalid transition from %s via %s", from, event)
	}
	from := sm.current
	sm.current = e.to
	observers := append([]ChangeFunc(nil), sm.onChange...)
	sm.mu.Unlock()

	for _, fn := range observers {
		fn(from, e.to, event)
	}

	if e.handler != nil {
		return e.handler(event, args...)
	}
	return nil
}

// Personal.AI order the ending
