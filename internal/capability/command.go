package capability

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"golang.org/x/sys/unix"
)

// killGrace bounds how long a cancelled device command may keep its output
// pipes open after its process group was killed.
const killGrace = 500 * time.Millisecond

// DefaultRecordCommand captures raw signed 16-bit little-endian mono PCM on stdout.
// {rate} and {seconds} are substituted per call.
var DefaultRecordCommand = []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", "{rate}", "-d", "{seconds}"}

// CommandCamera runs an external program that writes one image to stdout.
type CommandCamera struct {
	Front []string
	Rear  []string
}

func (c *CommandCamera) Capture(ctx context.Context, useFront bool) ([]byte, error) {
	argv := c.Rear
	if useFront {
		argv = c.Front
	}
	if len(argv) == 0 {
		return nil, errors.New("no camera command configured")
	}

	out, err := runOutput(ctx, argv)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("camera produced no image")
	}
	return out, nil
}

// CommandSpeaker drives an espeak-ng compatible synthesizer.
type CommandSpeaker struct {
	Command string
	Voice   string
}

func (s *CommandSpeaker) Speak(ctx context.Context, u Utterance) error {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return nil
	}
	command := s.Command
	if command == "" {
		command = "espeak-ng"
	}

	args := SpeakerArgs(s.Voice, u)
	cmd := deviceCommand(ctx, command, append(args, text)...)
	cmd.Stdout = io.Discard
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// SpeakerArgs maps pitch and speed multipliers onto espeak-ng's -p (0-99,
// neutral 50) and -s (words per minute, neutral 175) flags.
func SpeakerArgs(voice string, u Utterance) []string {
	var args []string
	if voice != "" {
		args = append(args, "-v", voice)
	}
	if u.Pitch > 0 {
		p := int(math.Round(50 * u.Pitch))
		if p > 99 {
			p = 99
		}
		args = append(args, "-p", strconv.Itoa(p))
	}
	if u.Speed > 0 {
		args = append(args, "-s", strconv.Itoa(int(math.Round(175*u.Speed))))
	}
	return args
}

// CommandRecorder records raw PCM with an external program and wraps it as WAV.
type CommandRecorder struct {
	Command    []string
	SampleRate int
}

func (r *CommandRecorder) Record(ctx context.Context, d time.Duration) (Clip, error) {
	rate := r.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	template := r.Command
	if len(template) == 0 {
		template = DefaultRecordCommand
	}

	seconds := int(math.Ceil(d.Seconds()))
	argv := make([]string, len(template))
	for i, a := range template {
		a = strings.ReplaceAll(a, "{rate}", strconv.Itoa(rate))
		argv[i] = strings.ReplaceAll(a, "{seconds}", strconv.Itoa(seconds))
	}

	pcm, err := runOutput(ctx, argv)
	if err != nil {
		return Clip{}, err
	}
	data, err := EncodeWAV(pcm, rate)
	if err != nil {
		return Clip{}, err
	}
	return Clip{Data: data, Format: "wav"}, nil
}

// EncodeWAV wraps signed 16-bit little-endian mono PCM in a WAV container.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}

	// The encoder seeks back to patch chunk sizes, so it needs a file.
	f, err := os.CreateTemp("", "snowy-*.wav")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}

// deviceCommand builds a command that runs in its own process group.
// Cancelling ctx kills the whole group, so a shell wrapper cannot leave a
// grandchild holding the output pipes open.
func deviceCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = killGrace
	return cmd
}

func runOutput(ctx context.Context, argv []string) ([]byte, error) {
	cmd := deviceCommand(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Personal.AI order the ending
