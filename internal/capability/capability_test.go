package capability

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/wav"
	snowyerr "github.com/turtacn/Snowy/pkg/errors"
)

// hangOnceCamera blocks until ctx is done on its first call and succeeds afterwards.
type hangOnceCamera struct {
	calls atomic.Int32
}

func (c *hangOnceCamera) Capture(ctx context.Context, useFront bool) ([]byte, error) {
	if c.calls.Add(1) == 1 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte("jpeg"), nil
}

func TestExclusiveCamera_TimeoutReleasesDevice(t *testing.T) {
	cam := NewExclusiveCamera(&hangOnceCamera{}, 50*time.Millisecond)

	_, err := cam.Capture(context.Background(), true)
	if snowyerr.CodeOf(err) != snowyerr.ErrCodeCapabilityTimeout {
		t.Fatalf("Expected timeout error, got %v", err)
	}

	// The second call gets its own 50ms budget, so success means the device was free.
	img, err := cam.Capture(context.Background(), true)
	if err != nil {
		t.Fatalf("Capture after timeout failed: %v", err)
	}
	if string(img) != "jpeg" {
		t.Errorf("Unexpected image %q", img)
	}
}

// stuckOnceCamera ignores ctx on its first call and only returns when the test ends.
type stuckOnceCamera struct {
	calls  atomic.Int32
	unlock chan struct{}
}

func (c *stuckOnceCamera) Capture(ctx context.Context, useFront bool) ([]byte, error) {
	if c.calls.Add(1) == 1 {
		<-c.unlock
		return nil, errors.New("too late")
	}
	return []byte("jpeg"), nil
}

func TestExclusiveCamera_TimeoutAbandonsStuckProvider(t *testing.T) {
	inner := &stuckOnceCamera{unlock: make(chan struct{})}
	t.Cleanup(func() { close(inner.unlock) })
	cam := NewExclusiveCamera(inner, 100*time.Millisecond)

	_, err := cam.Capture(context.Background(), true)
	if snowyerr.CodeOf(err) != snowyerr.ErrCodeCapabilityTimeout {
		t.Fatalf("Expected timeout error, got %v", err)
	}

	img, err := cam.Capture(context.Background(), true)
	if err != nil {
		t.Fatalf("Capture after a stuck provider failed: %v", err)
	}
	if string(img) != "jpeg" {
		t.Errorf("Unexpected image %q", img)
	}
}

func TestCommandCamera_TimeoutKillsShellGroup(t *testing.T) {
	cam := NewExclusiveCamera(&CommandCamera{
		Front: []string{"sh", "-c", "sleep 3; echo jpeg"},
		Rear:  []string{"printf", "jpeg"},
	}, 200*time.Millisecond)

	start := time.Now()
	_, err := cam.Capture(context.Background(), true)
	if snowyerr.CodeOf(err) != snowyerr.ErrCodeCapabilityTimeout {
		t.Fatalf("Expected timeout error, got %v", err)
	}

	img, err := cam.Capture(context.Background(), false)
	if err != nil {
		t.Fatalf("Capture after timeout failed: %v", err)
	}
	if string(img) != "jpeg" {
		t.Errorf("Unexpected image %q", img)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Timed out capture held the device for %v", elapsed)
	}
}

func TestRunOutput_CancelReturnsPromptly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := runOutput(ctx, []string{"sh", "-c", "sleep 5; echo late"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("runOutput blocked for %v after cancel", elapsed)
	}
}

// overlapCamera records the maximum number of concurrent captures.
type overlapCamera struct {
	active, peak atomic.Int32
}

func (c *overlapCamera) Capture(ctx context.Context, useFront bool) ([]byte, error) {
	n := c.active.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	c.active.Add(-1)
	return []byte{1}, nil
}

func TestExclusiveCamera_Serializes(t *testing.T) {
	inner := &overlapCamera{}
	cam := NewExclusiveCamera(inner, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cam.Capture(context.Background(), false); err != nil {
				t.Errorf("Capture failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if p := inner.peak.Load(); p != 1 {
		t.Errorf("Expected at most one capture at a time, saw %d", p)
	}
}

type failingRecorder struct{}

func (failingRecorder) Record(ctx context.Context, d time.Duration) (Clip, error) {
	return Clip{}, errors.New("mic unplugged")
}

func TestExclusiveRecorder_ProviderFailure(t *testing.T) {
	rec := NewExclusiveRecorder(failingRecorder{})
	_, err := rec.Record(context.Background(), time.Second)
	if snowyerr.CodeOf(err) != snowyerr.ErrCodeCapabilityFailed {
		t.Errorf("Expected capability failure, got %v", err)
	}
}

func TestClampRecordDuration(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		0:                1 * time.Second,
		5 * time.Second:  5 * time.Second,
		45 * time.Second: 30 * time.Second,
	}
	for in, want := range cases {
		if got := ClampRecordDuration(in); got != want {
			t.Errorf("ClampRecordDuration(%v) = %v, want %v", in, got, want)
		}
	}
}

// gateSpeaker blocks every Speak until released.
type gateSpeaker struct {
	started chan string
	release chan struct{}
}

func (s *gateSpeaker) Speak(ctx context.Context, u Utterance) error {
	s.started <- u.Text
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func TestSpeechQueue_DropsWhenFull(t *testing.T) {
	sp := &gateSpeaker{started: make(chan string, 64), release: make(chan struct{})}
	q := NewSpeechQueue(sp)

	if !q.Enqueue(Utterance{Text: "first"}) {
		t.Fatal("First utterance rejected")
	}
	<-sp.started // worker is now busy

	for i := 0; i < speechQueueSize; i++ {
		if !q.Enqueue(Utterance{Text: "queued"}) {
			t.Fatalf("Utterance %d rejected before queue was full", i)
		}
	}
	if q.Enqueue(Utterance{Text: "overflow"}) {
		t.Error("Expected overflow utterance to be dropped")
	}
	if q.Enqueue(Utterance{Text: "   "}) {
		t.Error("Blank utterance should be rejected")
	}

	close(sp.release)
	q.Close()

	if q.Enqueue(Utterance{Text: "late"}) {
		t.Error("Closed queue should reject utterances")
	}
}

func TestSpeakerArgs(t *testing.T) {
	got := SpeakerArgs("en-us", Utterance{Pitch: 1.5, Speed: 1.0})
	want := []string{"-v", "en-us", "-p", "75", "-s", "175"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("arg %d: got %q, want %q", i, got[i], want[i])
		}
	}

	if got := SpeakerArgs("", Utterance{Pitch: 3}); got[1] != "99" {
		t.Errorf("Pitch should clamp to 99, got %v", got)
	}
}

func TestEncodeWAV(t *testing.T) {
	pcm := make([]byte, 3200) // 100ms at 16kHz
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = byte(i)
	}

	data, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("Missing RIFF header")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		t.Fatal("Encoded WAV is not valid")
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Errorf("Unexpected format: rate=%d chans=%d depth=%d", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
}

func TestCommandCamera(t *testing.T) {
	cam := &CommandCamera{
		Front: []string{"sh", "-c", "printf front"},
		Rear:  []string{"sh", "-c", "printf rear"},
	}
	img, err := cam.Capture(context.Background(), false)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if string(img) != "rear" {
		t.Errorf("Expected rear camera output, got %q", img)
	}

	empty := &CommandCamera{Front: []string{"true"}}
	if _, err := empty.Capture(context.Background(), true); err == nil {
		t.Error("Expected error for empty image")
	}
}

func TestCommandRecorder_WrapsPCM(t *testing.T) {
	rec := &CommandRecorder{
		Command:    []string{"sh", "-c", "head -c $(( {rate} / 10 )) /dev/zero"},
		SampleRate: 8000,
	}
	clip, err := rec.Record(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if clip.Format != "wav" || !bytes.HasPrefix(clip.Data, []byte("RIFF")) {
		t.Errorf("Expected a WAV clip, got format %q", clip.Format)
	}
}
