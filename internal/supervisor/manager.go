package supervisor

import (
	"bufio"
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/turtacn/Snowy/pkg/consts"
	snowyerr "github.com/turtacn/Snowy/pkg/errors"
	"github.com/turtacn/Snowy/pkg/logger"
)

// drainGrace bounds how long Wait lingers for output after the process exits.
const drainGrace = 2 * time.Second

// LineSink receives the agent's combined output, one line at a time.
type LineSink func(line string)

// LaunchSpec describes one agent launch.
type LaunchSpec struct {
	Binary  string
	Args    []string
	HomeDir string   // HOME and working directory of the child
	Env     []string // Extra KEY=VALUE pairs
}

// ProcessManager handles the lifecycle of one agent process.
// It manages starting, killing, and waiting for the process.
type ProcessManager struct {
	sink LineSink

	mu      sync.Mutex
	cmd     *exec.Cmd
	output  *os.File
	drained chan struct{}
}

// New creates a ProcessManager. A nil sink logs each line under component=agent.
func New(sink LineSink) *ProcessManager {
	if sink == nil {
		agentLog := logger.Component("agent")
		sink = func(line string) { agentLog.Info(line) }
	}
	return &ProcessManager{sink: sink}
}

// Start launches the agent in its own process group with HOME pointing at
// spec.HomeDir. Stdout and stderr share one pipe drained on a goroutine.
func (pm *ProcessManager) Start(spec LaunchSpec) error {
	if spec.Binary == "" {
		return snowyerr.New(snowyerr.ErrCodeProcessStartFail, "Start", "empty agent binary", nil)
	}

	// 1. Output pipe shared by stdout and stderr
	pr, pw, err := os.Pipe()
	if err != nil {
		return snowyerr.New(snowyerr.ErrCodeProcessStartFail, "Start", "creating output pipe", err)
	}

	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Dir = spec.HomeDir
	cmd.Env = append(os.Environ(), consts.EnvHome+"="+spec.HomeDir)
	cmd.Env = append(cmd.Env, spec.Env...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// 2. Fork & exec
	logger.Log.Info("Supervisor: Forking agent", "binary", spec.Binary, "args", spec.Args, "home", spec.HomeDir)
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return snowyerr.New(snowyerr.ErrCodeProcessStartFail, "Start", "launching "+spec.Binary, err)
	}
	pw.Close()

	// 3. Drain output
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			pm.sink(scanner.Text())
		}
	}()

	pm.mu.Lock()
	pm.cmd = cmd
	pm.output = pr
	pm.drained = drained
	pm.mu.Unlock()
	return nil
}

// Pid returns the child's pid, or 0 before Start.
func (pm *ProcessManager) Pid() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.cmd == nil || pm.cmd.Process == nil {
		return 0
	}
	return pm.cmd.Process.Pid
}

// Stop sends SIGTERM to the agent's process group.
func (pm *ProcessManager) Stop() error {
	return pm.signalGroup(unix.SIGTERM)
}

// Kill sends SIGKILL to the agent's process group, taking any helpers it
// spawned down with it.
func (pm *ProcessManager) Kill() error {
	return pm.signalGroup(unix.SIGKILL)
}

func (pm *ProcessManager) signalGroup(sig syscall.Signal) error {
	pid := pm.Pid()
	if pid == 0 {
		return nil
	}
	logger.Log.Info("Supervisor: Signalling agent group", "pid", pid, "signal", sig.String())
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

// Wait blocks until the agent exits and returns its exit code.
// A process killed by a signal reports -1 with a nil error.
func (pm *ProcessManager) Wait() (int, error) {
	pm.mu.Lock()
	cmd, output, drained := pm.cmd, pm.output, pm.drained
	pm.mu.Unlock()
	if cmd == nil {
		return 0, nil
	}

	err := cmd.Wait()

	// Helpers that inherited the pipe may keep it open; do not wait on them forever.
	select {
	case <-drained:
	case <-time.After(drainGrace):
		output.Close()
		<-drained
	}
	output.Close()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	default:
		return -1, err
	}
}

// Personal.AI order the ending
