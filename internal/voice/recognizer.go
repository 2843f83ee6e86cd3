package voice

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/turtacn/Snowy/pkg/consts"
	"github.com/turtacn/Snowy/pkg/logger"
)

// Sentinel errors a Recognizer reports when nobody spoke.
var (
	ErrNoMatch       = errors.New("no speech recognized")
	ErrSpeechTimeout = errors.New("speech timeout")
	ErrClosed        = errors.New("recognizer closed")
)

// Recognizer runs one recognition session per Listen call.
type Recognizer interface {
	// Listen blocks until a final transcript is available, the session
	// errors, or ctx is done.
	Listen(ctx context.Context) (string, error)
	// Close releases the underlying device.
	Close() error
}

// Opener is implemented by recognizers that can be reused after Close.
type Opener interface {
	Open() error
}

// ErrorClass decides how soon a failed session is retried.
type ErrorClass int

const (
	// Silence is expected noise: nobody spoke.
	Silence ErrorClass = iota
	// Failure is anything else.
	Failure
)

func (c ErrorClass) String() string {
	if c == Silence {
		return "silence"
	}
	return "failure"
}

// Classify maps a recognizer error onto its restart class.
func Classify(err error) ErrorClass {
	if errors.Is(err, ErrNoMatch) || errors.Is(err, ErrSpeechTimeout) {
		return Silence
	}
	return Failure
}

// CommandRecognizer runs an external speech-to-text program per session.
// The program prints one transcript per line, either as plain text or as a
// JSON event carrying text, transcript or utterance (optionally under payload).
type CommandRecognizer struct {
	Command        []string
	SessionTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

func (r *CommandRecognizer) Listen(ctx context.Context) (string, error) {
	if len(r.Command) == 0 {
		return "", errors.New("no recognizer command configured")
	}
	timeout := r.SessionTimeout
	if timeout <= 0 {
		timeout = consts.DefaultSessionTimeout
	}

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	r.cancel = cancel
	r.mu.Unlock()

	cmd := exec.CommandContext(sctx, r.Command[0], r.Command[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting recognizer: %w", err)
	}

	var text string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if t, final := parseLine(line); t != "" && final {
			text = t
			break
		}
	}
	// Got what we need; the session is over either way.
	cancel()
	waitErr := cmd.Wait()

	switch {
	case text != "":
		return text, nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(sctx.Err(), context.DeadlineExceeded):
		return "", ErrSpeechTimeout
	case waitErr != nil:
		return "", fmt.Errorf("recognizer exited: %w", waitErr)
	default:
		return "", ErrNoMatch
	}
}

// Open accepts sessions again after Close.
func (r *CommandRecognizer) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = false
	return nil
}

// Close aborts a running session and refuses new ones until Open.
func (r *CommandRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.cancel != nil {
		r.cancel()
	}
	logger.Component("voice").Debug("Recognizer closed")
	return nil
}

type recognizerEvent struct {
	Type       string          `json:"type"`
	Event      string          `json:"event"`
	Text       string          `json:"text"`
	Transcript string          `json:"transcript"`
	Utterance  string          `json:"utterance"`
	Final      *bool           `json:"final"`
	Payload    json.RawMessage `json:"payload"`
}

type recognizerPayload struct {
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
	Utterance  string `json:"utterance"`
}

// parseLine extracts a transcript from one output line and reports whether it is final.
func parseLine(line string) (string, bool) {
	if strings.HasPrefix(line, "{") {
		var ev recognizerEvent
		if err := json.Unmarshal([]byte(line), &ev); err == nil {
			text := firstNonEmpty(ev.Text, ev.Transcript, ev.Utterance)
			if text == "" && len(ev.Payload) > 0 {
				var p recognizerPayload
				if err := json.Unmarshal(ev.Payload, &p); err == nil {
					text = firstNonEmpty(p.Text, p.Transcript, p.Utterance)
				}
			}
			final := ev.Final == nil || *ev.Final
			if strings.Contains(strings.ToLower(ev.Type), "partial") || strings.Contains(strings.ToLower(ev.Event), "partial") {
				final = false
			}
			return text, final
		}
	}
	return line, true
}

func firstNonEmpty(parts ...string) string {
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			return s
		}
	}
	return ""
}

// Personal.AI order the ending
