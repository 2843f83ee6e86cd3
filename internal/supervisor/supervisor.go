package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/turtacn/Snowy/internal/monitor"
	"github.com/turtacn/Snowy/pkg/clock"
	"github.com/turtacn/Snowy/pkg/consts"
	"github.com/turtacn/Snowy/pkg/fsm"
	"github.com/turtacn/Snowy/pkg/logger"
)

const (
	evStart   fsm.Event = "start"
	evSpawned fsm.Event = "spawned"
	evExit    fsm.Event = "exit"
	evRetry   fsm.Event = "retry"
	evFail    fsm.Event = "fail"
	evStop    fsm.Event = "stop"
)

// Observer receives human-readable status updates, e.g. for a notification.
type Observer func(status string)

// Options configures a Supervisor. Zero values fall back to the reference defaults.
type Options struct {
	Binary    string
	Args      []string
	HomeDir   string
	ConfigDir string // Created under HomeDir before every launch

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int

	// PreLaunch runs before every launch. Its error is logged and the launch proceeds.
	PreLaunch func() error
	Observer  Observer
	Output    LineSink
	Clock     clock.Clock
}

// RetryState is a snapshot of the supervisor's backoff bookkeeping.
type RetryState struct {
	RetryCount int
	BackoffMs  int64
}

// Supervisor keeps the agent process running, relaunching it with
// exponential backoff until the retry ceiling is reached.
type Supervisor struct {
	opts Options
	fsm  *fsm.StateMachine
	log  logger.Logger

	mu      sync.Mutex
	enabled bool
	retry   RetryState
	proc    *ProcessManager
	stopCh  chan struct{}
	done    chan struct{}
}

func NewSupervisor(opts Options) *Supervisor {
	if len(opts.Args) == 0 {
		opts.Args = []string{consts.DefaultAgentSubcommand}
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = consts.DefaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = consts.DefaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = consts.DefaultMaxRetries
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	s := &Supervisor{
		opts: opts,
		fsm:  fsm.New(fsm.State(consts.StateStopped)),
		log:  logger.Component("supervisor"),
	}
	s.setupFSM()
	return s
}

func (s *Supervisor) setupFSM() {
	st := func(v consts.ServiceRunState) fsm.State { return fsm.State(v) }

	// Launch cycle
	s.fsm.AddTransition(st(consts.StateStopped), st(consts.StateStarting), evStart, nil)
	s.fsm.AddTransition(st(consts.StateStarting), st(consts.StateRunning), evSpawned, s.onSpawned)
	s.fsm.AddTransition(st(consts.StateRunning), st(consts.StateBackingOff), evExit, nil)
	s.fsm.AddTransition(st(consts.StateStarting), st(consts.StateBackingOff), evExit, nil) // launch failure
	s.fsm.AddTransition(st(consts.StateBackingOff), st(consts.StateStarting), evRetry, nil)

	// Terminal
	s.fsm.AddTransitionFromAny(st(consts.StateFailed), evFail, nil)

	// Explicit stop
	for _, from := range []consts.ServiceRunState{consts.StateStarting, consts.StateRunning, consts.StateBackingOff, consts.StateFailed} {
		s.fsm.AddTransition(st(from), st(consts.StateStopped), evStop, nil)
	}

	monitor.SetAgentState(consts.StateStopped)
	s.fsm.OnChange(func(from, to fsm.State, event fsm.Event) {
		s.log.Debug("Agent state changed", "from", from, "to", to, "event", event)
		monitor.SetAgentState(consts.ServiceRunState(to))
	})
}

// onSpawned announces a launched agent; args[0] is its pid.
func (s *Supervisor) onSpawned(_ fsm.Event, args ...interface{}) error {
	pid := 0
	if len(args) > 0 {
		pid, _ = args[0].(int)
	}
	s.notify("running")
	s.log.Info("Agent running", "pid", pid)
	return nil
}

// State returns the current run state.
func (s *Supervisor) State() consts.ServiceRunState {
	return consts.ServiceRunState(s.fsm.Current())
}

// Retry returns a snapshot of the retry bookkeeping.
func (s *Supervisor) Retry() RetryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retry
}

// Pid returns the running agent's pid, or 0.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid()
}

// Done is closed when the current supervising loop exits, either after
// Stop or after the retry ceiling is reached.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// Start launches the supervising loop. It is a no-op while the loop is
// active. After a terminal failure, Start resets the retry state and begins again.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.enabled {
		s.mu.Unlock()
		return nil
	}
	prevDone := s.done
	s.mu.Unlock()

	// A loop that gave up has already exited; settle it to Stopped first.
	if prevDone != nil {
		<-prevDone
	}
	if s.State() == consts.StateFailed {
		s.fsm.Fire(evStop)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return nil
	}
	if err := s.fsm.Fire(evStart); err != nil {
		return err
	}
	s.enabled = true
	s.retry = RetryState{BackoffMs: s.opts.InitialBackoff.Milliseconds()}
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(s.stopCh, s.done)
	return nil
}

// Stop disables the service, kills the agent if it is running, interrupts a
// pending backoff and waits for the supervising loop to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	done := s.done
	if done == nil {
		s.mu.Unlock()
		return
	}
	wasEnabled := s.enabled
	s.enabled = false
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	proc := s.proc
	s.mu.Unlock()

	if proc != nil {
		if err := proc.Kill(); err != nil {
			s.log.Warn("Failed to kill agent", "err", err)
		}
	}
	<-done

	if s.fsm.Can(evStop) {
		s.fsm.Fire(evStop)
	}
	if wasEnabled {
		s.log.Info("Supervisor stopped")
		s.notify("stopped")
	}
}

func (s *Supervisor) run(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		// 1. Prepare the agent's home and config
		s.prepare()

		// 2. Launch
		s.notify("starting")
		proc := New(s.opts.Output)
		err := proc.Start(LaunchSpec{Binary: s.opts.Binary, Args: s.opts.Args, HomeDir: s.opts.HomeDir})
		if err != nil {
			if stopped(stopCh) {
				return
			}
			s.log.Error("Agent launch failed", "err", err)
			monitor.RestartTotal.WithLabelValues("launch_error").Inc()
			if !s.backoff(stopCh) {
				return
			}
			continue
		}

		s.mu.Lock()
		if !s.enabled {
			s.mu.Unlock()
			proc.Kill()
			proc.Wait()
			return
		}
		s.proc = proc
		s.mu.Unlock()

		s.fsm.Fire(evSpawned, proc.Pid())

		// 3. Block until exit
		code, werr := proc.Wait()

		s.mu.Lock()
		s.proc = nil
		enabled := s.enabled
		s.mu.Unlock()
		if !enabled {
			return
		}

		s.log.Warn("Agent exited", "code", code, "err", werr)
		monitor.RestartTotal.WithLabelValues("exit").Inc()

		// 4. Back off and relaunch
		if !s.backoff(stopCh) {
			return
		}
	}
}

// backoff counts one failure and either waits out the current delay or
// declares the service failed. It returns false when the loop must end.
func (s *Supervisor) backoff(stopCh <-chan struct{}) bool {
	s.mu.Lock()
	s.retry.RetryCount++
	n := s.retry.RetryCount
	delay := time.Duration(s.retry.BackoffMs) * time.Millisecond
	s.mu.Unlock()

	if n >= s.opts.MaxRetries {
		s.mu.Lock()
		s.enabled = false
		s.mu.Unlock()
		s.fsm.Fire(evFail)
		s.log.Error("Agent failed too many times; giving up", "retries", n)
		s.notify("stopped: too many failures")
		return false
	}

	s.fsm.Fire(evExit)
	s.log.Info("Restarting agent after backoff", "delay", delay, "retry", n, "max", s.opts.MaxRetries)
	s.notify(fmt.Sprintf("restarting in %ds (retry %d/%d)", int(delay.Seconds()), n, s.opts.MaxRetries))

	wake := make(chan struct{})
	t := s.opts.Clock.AfterFunc(delay, func() { close(wake) })
	select {
	case <-wake:
	case <-stopCh:
		t.Stop()
		return false
	}

	s.mu.Lock()
	next := 2 * delay
	if next > s.opts.MaxBackoff {
		next = s.opts.MaxBackoff
	}
	s.retry.BackoffMs = next.Milliseconds()
	s.mu.Unlock()

	s.fsm.Fire(evRetry)
	return true
}

func (s *Supervisor) prepare() {
	if s.opts.HomeDir == "" {
		return
	}
	dir := s.opts.HomeDir
	if s.opts.ConfigDir != "" {
		dir = filepath.Join(s.opts.HomeDir, s.opts.ConfigDir)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		s.log.Warn("Preparing agent home failed", "dir", dir, "err", err)
	}

	if s.opts.PreLaunch != nil {
		if err := s.opts.PreLaunch(); err != nil {
			s.log.Warn("Pre-launch hook failed", "err", err)
		}
	}
}

func (s *Supervisor) notify(status string) {
	if s.opts.Observer != nil {
		s.opts.Observer(status)
	}
}

func stopped(stopCh <-chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

// Personal.AI order the ending
