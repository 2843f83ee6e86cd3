package fsm

import (
	"fmt"
	"testing"
	"time"
)

func TestStateMachine_Deadlock(t *testing.T) {
	sm := New(State("initial"))

	sm.AddTransition(State("initial"), State("intermediate"), Event("first"), func(event Event, args ...interface{}) error {
		return sm.Fire(Event("second"))
	})

	sm.AddTransition(State("intermediate"), State("final"), Event("second"), nil)

	done := make(chan bool)
	go func() {
		err := sm.Fire(Event("first"))
		if err != nil {
			t.Errorf("Fire failed: %v", err)
		}
		done <- true
	}()

	select {
	case <-done:
		if sm.Current() != State("final") {
			t.Errorf("Expected state final, got %s", sm.Current())
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Deadlock detected: Fire did not return within 1 second")
	}
}

func TestStateMachine_Basic(t *testing.T) {
	sm := New(State("off"))
	sm.AddTransition(State("off"), State("on"), Event("push"), nil)

	if sm.Current() != State("off") {
		t.Errorf("Expected off, got %s", sm.Current())
	}

	err := sm.Fire(Event("push"))
	if err != nil {
		t.Fatal(err)
	}

	if sm.Current() != State("on") {
		t.Errorf("Expected on, got %s", sm.Current())
	}
}

func TestStateMachine_InvalidTransition(t *testing.T) {
	sm := New(State("start"))
	err := sm.Fire(Event("unknown"))
	if err == nil {
		t.Fatal("Expected error for unknown event")
	}
}

func TestStateMachine_HandlerError(t *testing.T) {
	sm := New(State("A"))
	sm.AddTransition(State("A"), State("B"), Event("go"), func(event Event, args ...interface{}) error {
		return fmt.Errorf("handler failed")
	})

	err := sm.Fire(Event("go"))
	if err == nil || err.Error() != "handler failed" {
		t.Fatalf("Expected handler failed error, got %v", err)
	}

	if sm.Current() != State("B") {
		t.Errorf("Expected state B even if handler failed, got %s", sm.Current())
	}
}

func TestStateMachine_StateConsistencyInHandler(t *testing.T) {
	sm := New(State("A"))
	var stateInHandler State
	sm.AddTransition(State("A"), State("B"), Event("go"), func(event Event, args ...interface{}) error {
		stateInHandler = sm.Current()
		return nil
	})

	sm.Fire(Event("go"))
	if stateInHandler != State("B") {
		t.Errorf("Expected handler to see state B, saw %s", stateInHandler)
	}
}

func TestStateMachine_FromAny(t *testing.T) {
	sm := New(State("running"))
	sm.AddTransition(State("running"), State("stopped"), Event("stop"), nil)
	sm.AddTransitionFromAny(State("failed"), Event("give_up"), nil)

	if !sm.Can(Event("give_up")) {
		t.Fatal("Expected wildcard event to be valid from any state")
	}
	if err := sm.Fire(Event("give_up")); err != nil {
		t.Fatal(err)
	}
	if sm.Current() != State("failed") {
		t.Errorf("Expected failed, got %s", sm.Current())
	}
	if sm.Can(Event("stop")) {
		t.Error("stop should not be valid from failed")
	}
}

func TestStateMachine_OnChange(t *testing.T) {
	sm := New(State("A"))
	sm.AddTransition(State("A"), State("B"), Event("go"), nil)

	var from, to State
	var ev Event
	sm.OnChange(func(f, t State, e Event) {
		from, to, ev = f, t, e
	})

	if err := sm.Fire(Event("go")); err != nil {
		t.Fatal(err)
	}
	if from != State("A") || to != State("B") || ev != Event("go") {
		t.Errorf("Unexpected change notification: %s -> %s via %s", from, to, ev)
	}
}

func TestStateMachine_HandlerArgs(t *testing.T) {
	sm := New(State("A"))
	var got []interface{}
	sm.AddTransition(State("A"), State("B"), Event("go"), func(event Event, args ...interface{}) error {
		got = args
		return nil
	})

	if err := sm.Fire(Event("go"), "snowy sit", 42); err != nil {
		t.Fatalf("Fire failed: %v", err)
	}
	if len(got) != 2 || got[0] != "snowy sit" || got[1] != 42 {
		t.Errorf("Handler saw args %v", got)
	}
}
