package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/turtacn/Snowy/internal/affect"
	"github.com/turtacn/Snowy/internal/bridge"
	"github.com/turtacn/Snowy/internal/capability"
	"github.com/turtacn/Snowy/internal/credential"
	"github.com/turtacn/Snowy/internal/monitor"
	"github.com/turtacn/Snowy/internal/relay"
	"github.com/turtacn/Snowy/internal/resource"
	"github.com/turtacn/Snowy/internal/supervisor"
	"github.com/turtacn/Snowy/internal/voice"
	"github.com/turtacn/Snowy/pkg/clock"
	"github.com/turtacn/Snowy/pkg/consts"
	"github.com/turtacn/Snowy/pkg/fsm"
	"github.com/turtacn/Snowy/pkg/logger"
	"github.com/turtacn/Snowy/pkg/protocol"
)

const (
	StateIdle    fsm.State = "IDLE"
	StateRunning fsm.State = "RUNNING"
	StateStopped fsm.State = "STOPPED"
)

// ShutdownTimeout bounds Run's graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// Option overrides one collaborator, mostly for tests and embedding.
type Option func(*Engine)

func WithCamera(c capability.Camera) Option { return func(e *Engine) { e.camera = c } }
func WithSpeaker(s capability.Speaker) Option { return func(e *Engine) { e.speaker = s } }
func WithRecorder(r capability.Recorder) Option { return func(e *Engine) { e.recorder = r } }
func WithRecognizer(r voice.Recognizer) Option { return func(e *Engine) { e.recognizer = r } }
func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }
func WithPrefs(p credential.Prefs) Option { return func(e *Engine) { e.prefs = p } }
func WithObserver(o supervisor.Observer) Option { return func(e *Engine) { e.observer = o } }

// Engine wires the affect state, bridge, supervisor, voice loop and chat
// relay into one daemon.
type Engine struct {
	cfg *protocol.Config
	fsm *fsm.StateMachine
	log logger.Logger

	// Collaborators, defaulted from cfg unless overridden
	clock      clock.Clock
	camera     capability.Camera
	speaker    capability.Speaker
	recorder   capability.Recorder
	recognizer voice.Recognizer
	prefs      credential.Prefs
	observer   supervisor.Observer

	affect     *affect.State
	creds      *credential.Store
	sockets    *resource.SocketManager
	speech     *capability.SpeechQueue
	bridge     *bridge.Server
	supervisor *supervisor.Supervisor
	voice      *voice.Loop
	relay      *relay.Relay
	metrics    *http.Server

	stopOnce sync.Once
	stopErr  error
}

func NewEngine(cfg *protocol.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg: cfg,
		fsm: fsm.New(StateIdle),
		log: logger.Component("engine"),
	}
	for _, o := range opts {
		o(e)
	}
	e.setupFSM()
	e.wire()
	return e
}

func (e *Engine) setupFSM() {
	e.fsm.AddTransition(StateIdle, StateRunning, "start", nil)
	e.fsm.AddTransition(StateRunning, StateStopped, "stop", nil)
	e.fsm.AddTransition(StateIdle, StateStopped, "stop", nil)
}

func (e *Engine) wire() {
	cfg := e.cfg
	if e.clock == nil {
		e.clock = clock.Real()
	}
	if e.camera == nil {
		e.camera = &capability.CommandCamera{Front: cfg.Providers.CameraFront, Rear: cfg.Providers.CameraRear}
	}
	if e.speaker == nil {
		e.speaker = &capability.CommandSpeaker{Command: cfg.Providers.SpeechCommand, Voice: cfg.Providers.SpeechVoice}
	}
	if e.recorder == nil {
		e.recorder = &capability.CommandRecorder{Command: cfg.Providers.RecordCommand, SampleRate: cfg.Providers.RecordRate}
	}
	if e.recognizer == nil && len(cfg.Voice.RecognizerCommand) > 0 {
		e.recognizer = &voice.CommandRecognizer{
			Command:        cfg.Voice.RecognizerCommand,
			SessionTimeout: protocol.Duration(cfg.Voice.SessionTimeout, consts.DefaultSessionTimeout),
		}
	}
	if e.prefs == nil {
		e.prefs = credential.NewFilePrefs(cfg.Credentials.StorePath)
	}

	// 1. Shared state
	e.affect = affect.NewState(e.clock)
	e.creds = credential.NewStore(e.prefs)
	e.sockets = resource.NewSocketManager()
	e.speech = capability.NewSpeechQueue(capability.NewExclusiveSpeaker(e.speaker))

	// 2. Bridge
	e.bridge = bridge.New(bridge.Options{
		Addr:     cfg.Bridge.Addr,
		Affect:   e.affect,
		Camera:   capability.NewExclusiveCamera(e.camera, protocol.Duration(cfg.Bridge.CaptureTimeout, consts.DefaultCaptureTimeout)),
		Recorder: capability.NewExclusiveRecorder(e.recorder),
		Speech:   e.speech,
		Sockets:  e.sockets,
	})

	// 3. Supervisor
	e.supervisor = supervisor.NewSupervisor(supervisor.Options{
		Binary:         cfg.Agent.BinaryPath,
		Args:           cfg.Agent.Args,
		HomeDir:        cfg.Agent.HomeDir,
		ConfigDir:      cfg.Agent.ConfigDir,
		InitialBackoff: protocol.Duration(cfg.Supervisor.InitialBackoff, consts.DefaultInitialBackoff),
		MaxBackoff:     protocol.Duration(cfg.Supervisor.MaxBackoff, consts.DefaultMaxBackoff),
		MaxRetries:     cfg.Supervisor.MaxRetries,
		PreLaunch:      e.injectToken,
		Observer:       e.observe,
		Clock:          e.clock,
	})

	// 4. Chat relay
	e.relay = relay.New(relay.Options{
		GatewayURL: cfg.Agent.GatewayURL,
		Tokens:     e.creds,
		Affect:     e.affect,
		Speech:     e.speech,
	})

	// 5. Voice loop
	if !cfg.Voice.Enabled || e.recognizer == nil {
		e.log.Info("Voice loop disabled", "enabled", cfg.Voice.Enabled, "recognizer", e.recognizer != nil)
		return
	}
	pulse := protocol.Duration(cfg.Voice.PulseDuration, consts.DefaultPulseDuration)
	e.voice = voice.NewLoop(voice.Options{
		Recognizer:        e.recognizer,
		WakePhrase:        cfg.Voice.WakePhrase,
		RestartDelay:      protocol.Duration(cfg.Voice.RestartDelay, consts.DefaultRestartDelay),
		ErrorRestartDelay: protocol.Duration(cfg.Voice.ErrorRestartDelay, consts.DefaultErrorRestartDelay),
		OnWake:            func() { e.affect.Pulse(affect.Ecstatic, pulse) },
		OnCommand:         e.relay.Go,
		Clock:             e.clock,
	})
}

// Start brings up metrics, the bridge, the supervisor and the voice loop.
// Only a bridge bind failure is fatal.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.fsm.Fire("start"); err != nil {
		return err
	}
	logger.Log.Info("Booting Snowy engine", "bridge", e.cfg.Bridge.Addr, "agent", e.cfg.Agent.BinaryPath)

	// 1. Credential
	if _, err := e.creds.Ensure(); err != nil {
		e.log.Error("Could not provision app token; chat relay will drop commands", "err", err)
	}

	// 2. Metrics
	if addr := e.cfg.Observability.MetricsAddr; addr != "" {
		l, err := e.sockets.EnsureListener(addr)
		if err != nil {
			e.log.Warn("Metrics disabled", "err", err)
		} else {
			e.metrics = monitor.InitMetrics(l)
		}
	}

	// 3. Bridge
	if err := e.bridge.Start(); err != nil {
		return err
	}
	e.log.Info("Loopback listeners bound", "addrs", e.sockets.Addrs())

	// 4. Agent
	if err := e.supervisor.Start(); err != nil {
		return err
	}

	// 5. Voice
	if e.voice != nil {
		if err := e.voice.Start(ctx); err != nil {
			e.log.Warn("Voice loop failed to start", "err", err)
		}
	}
	return nil
}

// Run starts the engine and blocks until ctx is done or SIGINT/SIGTERM
// arrives, then stops it.
func (e *Engine) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		e.Stop(shutdownCtx)
		return err
	}

	<-ctx.Done()
	logger.Log.Info("Signal: Stop received. Shutting down.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return e.Stop(shutdownCtx)
}

// Stop shuts the supervisor, the voice loop and the bridge down in parallel
// and returns once all three have finished. It is safe to call more than once.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			e.supervisor.Stop()
		}()
		go func() {
			defer wg.Done()
			if e.voice != nil {
				e.voice.Stop()
			}
		}()
		go func() {
			defer wg.Done()
			if err := e.bridge.Stop(ctx); err != nil {
				e.log.Warn("Bridge shutdown incomplete", "err", err)
				e.stopErr = err
			}
		}()
		wg.Wait()

		// Leaf resources, once nothing can feed them any more
		e.relay.Close()
		e.speech.Close()
		e.affect.Close()
		if e.metrics != nil {
			e.metrics.Shutdown(ctx)
		}
		e.sockets.Close()

		e.fsm.Fire("stop")
		logger.Log.Info("Snowy engine stopped")
	})
	return e.stopErr
}

// State returns the engine lifecycle state.
func (e *Engine) State() fsm.State {
	return e.fsm.Current()
}

// AgentState returns the supervisor's run state.
func (e *Engine) AgentState() consts.ServiceRunState {
	return e.supervisor.State()
}

// injectToken mirrors the app token into the agent config before each launch.
func (e *Engine) injectToken() error {
	token, err := e.creds.Ensure()
	if err != nil {
		return err
	}
	path := e.cfg.AgentConfigPath()
	changed, err := credential.InjectToken(path, token)
	if errors.Is(err, os.ErrNotExist) {
		e.log.Warn("Agent config not found; token not injected", "path", path)
		return nil
	}
	if err != nil {
		return err
	}
	if changed {
		e.log.Info("App token paired with agent", "path", path)
	}
	return nil
}

func (e *Engine) observe(status string) {
	e.log.Info("Agent status", "status", status)
	if e.observer != nil {
		e.observer(status)
	}
}

// Personal.AI order the ending
