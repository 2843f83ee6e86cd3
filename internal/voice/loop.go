// Package voice runs the continuous listen, detect, restart cycle that turns
// a spoken wake phrase into a command for the chat relay.
package voice

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/Snowy/internal/monitor"
	"github.com/turtacn/Snowy/pkg/clock"
	"github.com/turtacn/Snowy/pkg/consts"
	"github.com/turtacn/Snowy/pkg/fsm"
	"github.com/turtacn/Snowy/pkg/logger"
)

// Loop states.
const (
	StateIdle      fsm.State = "IDLE"
	StateListening fsm.State = "LISTENING"
	StateResult    fsm.State = "RESULT"
	StateError     fsm.State = "ERROR"
)

const (
	evStart   fsm.Event = "start"
	evResult  fsm.Event = "result"
	evError   fsm.Event = "error"
	evRestart fsm.Event = "restart"
	evStop    fsm.Event = "stop"
)

// Options configures a Loop. Zero delays and an empty phrase use the defaults.
type Options struct {
	Recognizer        Recognizer
	WakePhrase        string
	RestartDelay      time.Duration
	ErrorRestartDelay time.Duration

	// OnWake fires whenever a transcript contains the wake phrase.
	OnWake func()
	// OnCommand receives the non-empty remainder of a waking transcript.
	OnCommand func(command string)

	Clock clock.Clock
}

// Loop owns one recognizer and restarts it after every result or error
// until Stop is called.
type Loop struct {
	opts Options
	fsm  *fsm.StateMachine
	log  logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLoop(opts Options) *Loop {
	if opts.WakePhrase == "" {
		opts.WakePhrase = consts.DefaultWakePhrase
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = consts.DefaultRestartDelay
	}
	if opts.ErrorRestartDelay <= 0 {
		opts.ErrorRestartDelay = consts.DefaultErrorRestartDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	l := &Loop{
		opts: opts,
		fsm:  fsm.New(StateIdle),
		log:  logger.Component("voice"),
	}
	l.fsm.AddTransition(StateIdle, StateListening, evStart, nil)
	l.fsm.AddTransition(StateListening, StateResult, evResult, l.onResult)
	l.fsm.AddTransition(StateListening, StateError, evError, l.onError)
	l.fsm.AddTransition(StateResult, StateListening, evRestart, nil)
	l.fsm.AddTransition(StateError, StateListening, evRestart, nil)
	l.fsm.AddTransitionFromAny(StateIdle, evStop, nil)
	return l
}

// State returns the loop's current state.
func (l *Loop) State() fsm.State {
	return l.fsm.Current()
}

// Start begins listening in the background. It is a no-op while running.
// A loop may be started again after Stop or after its parent ctx ended.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		select {
		case <-l.done:
			// The previous run ended with its parent ctx.
			l.cancel()
			l.cancel = nil
		default:
			return nil
		}
	}
	if o, ok := l.opts.Recognizer.(Opener); ok {
		if err := o.Open(); err != nil {
			return err
		}
	}
	if err := l.fsm.Fire(evStart); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)

	l.log.Info("Voice loop started", "wake_phrase", l.opts.WakePhrase)
	return nil
}

// Stop cancels the current session, waits for the loop to exit and
// releases the recognizer.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	l.fsm.Fire(evStop)
	if err := l.opts.Recognizer.Close(); err != nil {
		l.log.Warn("Closing recognizer failed", "err", err)
	}
	l.log.Info("Voice loop stopped")
}

func (l *Loop) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	defer l.fsm.Fire(evStop)

	for {
		text, err := l.opts.Recognizer.Listen(ctx)
		if ctx.Err() != nil {
			return
		}

		delay := l.opts.RestartDelay
		if err != nil {
			l.fsm.Fire(evError, err)
			if Classify(err) == Failure {
				delay = l.opts.ErrorRestartDelay
			}
		} else {
			l.fsm.Fire(evResult, text)
		}

		if !l.sleep(ctx, delay) {
			return
		}
		l.fsm.Fire(evRestart)
	}
}

// onResult runs on the Listening to Result transition; args[0] is the transcript.
func (l *Loop) onResult(_ fsm.Event, args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	text, _ := args[0].(string)
	l.handleResult(text)
	return nil
}

// onError runs on the Listening to Error transition; args[0] is the session error.
func (l *Loop) onError(_ fsm.Event, args ...interface{}) error {
	var err error
	if len(args) > 0 {
		err, _ = args[0].(error)
	}
	if Classify(err) == Silence {
		l.log.Debug("No speech", "err", err)
	} else {
		l.log.Warn("Recognizer error", "err", err)
	}
	return nil
}

func (l *Loop) handleResult(text string) {
	defer func() {
		if p := recover(); p != nil {
			l.log.Error("Voice callback panicked", "panic", p)
		}
	}()

	command, woke := ExtractCommand(text, l.opts.WakePhrase)
	if !woke {
		l.log.Debug("Heard speech without wake phrase", "text", text)
		return
	}

	monitor.WakeEvents.Inc()
	l.log.Info("Wake phrase detected", "command", command)
	if l.opts.OnWake != nil {
		l.opts.OnWake()
	}
	if command != "" && l.opts.OnCommand != nil {
		l.opts.OnCommand(command)
	}
}

// sleep waits for d on the loop's clock. It returns false if ctx ended first.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	wake := make(chan struct{})
	t := l.opts.Clock.AfterFunc(d, func() { close(wake) })
	select {
	case <-wake:
		return true
	case <-ctx.Done():
		t.Stop()
		return false
	}
}

// Personal.AI order the ending
