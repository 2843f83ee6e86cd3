package affect

import (
	"sync"
	"time"

	"github.com/turtacn/Snowy/internal/monitor"
	"github.com/turtacn/Snowy/pkg/clock"
	"github.com/turtacn/Snowy/pkg/logger"
)

// State is the process-wide holder of the current affect signal. It is
// written by the bridge, the wake detector and the chat relay; every write
// goes through one mutex so readers never see a torn value.
type State struct {
	mu       sync.Mutex
	current  Signal
	previous Signal
	clock    clock.Clock
	timers   map[*clock.Timer]struct{}
	subs     map[chan Signal]struct{}
	closed   bool
}

// NewState returns a State showing Default. A nil clock means the real clock.
func NewState(c clock.Clock) *State {
	if c == nil {
		c = clock.Real()
	}
	return &State{
		current:  Default,
		previous: Default,
		clock:    c,
		timers:   make(map[*clock.Timer]struct{}),
		subs:     make(map[chan Signal]struct{}),
	}
}

// Current returns the signal being displayed.
func (s *State) Current() Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Previous returns the value captured by the last Pulse.
func (s *State) Previous() Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previous
}

// Set overwrites the current signal and returns the value it replaced.
func (s *State) Set(sig Signal) Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.current
	s.apply(sig)
	return old
}

// CompareAndSet writes next only if the current value equals expected.
func (s *State) CompareAndSet(expected, next Signal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != expected {
		return false
	}
	s.apply(next)
	return true
}

// Pulse shows transient for d, then reverts to whatever was displayed
// before, unless another writer changed the value in the meantime.
func (s *State) Pulse(transient Signal, d time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.current
	s.previous = prev
	s.apply(transient)

	p := &pending{}
	fire := func() {
		s.mu.Lock()
		p.fired = true
		if p.timer != nil {
			delete(s.timers, p.timer)
		}
		reverted := false
		if !s.closed && s.current == transient {
			s.apply(prev)
			reverted = true
		}
		s.mu.Unlock()
		logger.Component("affect").Debug("Pulse timer fired", "transient", transient, "previous", prev, "reverted", reverted)
	}
	s.mu.Unlock()

	// AfterFunc may run fire synchronously on a fake clock, so the lock
	// must not be held here.
	t := s.clock.AfterFunc(d, fire)

	s.mu.Lock()
	defer s.mu.Unlock()
	p.timer = t
	switch {
	case s.closed:
		t.Stop()
	case !p.fired:
		s.timers[t] = struct{}{}
	}
}

type pending struct {
	timer *clock.Timer
	fired bool
}

// Subscribe returns a channel receiving every new value. Slow consumers
// only see the most recent value. Call cancel to unsubscribe.
func (s *State) Subscribe() (<-chan Signal, func()) {
	ch := make(chan Signal, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close stops pending pulse timers and closes all subscriptions.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[*clock.Timer]struct{})
	for ch := range s.subs {
		close(ch)
	}
	s.subs = make(map[chan Signal]struct{})
}

// apply commits sig and fans it out. Caller holds mu.
func (s *State) apply(sig Signal) {
	if s.current != sig {
		monitor.AffectChanges.WithLabelValues(string(sig)).Inc()
	}
	s.current = sig
	for ch := range s.subs {
		select {
		case ch <- sig:
		default:
			// Replace the stale value with the newest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- sig:
			default:
			}
		}
	}
}

// Personal.AI order the ending
