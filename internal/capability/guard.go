package capability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/turtacn/Snowy/internal/monitor"
	"github.com/turtacn/Snowy/pkg/consts"
	snowyerr "github.com/turtacn/Snowy/pkg/errors"
)

// device serializes access to one exclusive hardware resource.
type device struct {
	name string
	sem  chan struct{}
}

func newDevice(name string) *device {
	return &device{name: name, sem: make(chan struct{}, 1)}
}

type result[T any] struct {
	val T
	err error
}

// guarded runs fn while holding the device, bounded by timeout (0 means no bound).
// If the deadline passes, guarded gives the device up before returning the
// timeout error. A provider that ignores ctx is abandoned, not waited for.
func guarded[T any](ctx context.Context, d *device, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// 1. Acquire
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return zero, snowyerr.New(snowyerr.ErrCodeCapabilityBusy, d.name, "device busy", ctx.Err())
	}

	// 2. Run. The device is released exactly once, by whichever of the
	// provider or the deadline comes first.
	var once sync.Once
	release := func() { once.Do(func() { <-d.sem }) }

	start := time.Now()
	done := make(chan result[T], 1)
	go func() {
		defer release()
		v, err := fn(ctx)
		monitor.CapabilityDuration.WithLabelValues(d.name).Observe(time.Since(start).Seconds())
		done <- result[T]{val: v, err: err}
	}()

	// 3. Wait for the provider or the deadline
	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return zero, snowyerr.New(snowyerr.ErrCodeCapabilityTimeout, d.name, "timed out", r.err)
			}
			return zero, snowyerr.New(snowyerr.ErrCodeCapabilityFailed, d.name, "provider failed", r.err)
		}
		return r.val, nil
	case <-ctx.Done():
		release()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, snowyerr.New(snowyerr.ErrCodeCapabilityTimeout, d.name, "timed out after "+timeout.String(), ctx.Err())
		}
		return zero, snowyerr.New(snowyerr.ErrCodeCapabilityFailed, d.name, "cancelled", ctx.Err())
	}
}

// ExclusiveCamera serializes captures and bounds each one by a timeout.
type ExclusiveCamera struct {
	inner   Camera
	dev     *device
	timeout time.Duration
}

// NewExclusiveCamera wraps c. A non-positive timeout means the default capture timeout.
func NewExclusiveCamera(c Camera, timeout time.Duration) *ExclusiveCamera {
	if timeout <= 0 {
		timeout = consts.DefaultCaptureTimeout
	}
	return &ExclusiveCamera{inner: c, dev: newDevice("camera"), timeout: timeout}
}

func (e *ExclusiveCamera) Capture(ctx context.Context, useFront bool) ([]byte, error) {
	return guarded(ctx, e.dev, e.timeout, func(ctx context.Context) ([]byte, error) {
		return e.inner.Capture(ctx, useFront)
	})
}

// ExclusiveSpeaker serializes speech. Utterances are not time bounded.
type ExclusiveSpeaker struct {
	inner Speaker
	dev   *device
}

func NewExclusiveSpeaker(s Speaker) *ExclusiveSpeaker {
	return &ExclusiveSpeaker{inner: s, dev: newDevice("speaker")}
}

func (e *ExclusiveSpeaker) Speak(ctx context.Context, u Utterance) error {
	_, err := guarded(ctx, e.dev, 0, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.inner.Speak(ctx, u)
	})
	return err
}

// ExclusiveRecorder serializes microphone access. Each recording may run for
// its duration plus a fixed grace period.
type ExclusiveRecorder struct {
	inner Recorder
	dev   *device
}

func NewExclusiveRecorder(r Recorder) *ExclusiveRecorder {
	return &ExclusiveRecorder{inner: r, dev: newDevice("microphone")}
}

func (e *ExclusiveRecorder) Record(ctx context.Context, d time.Duration) (Clip, error) {
	return guarded(ctx, e.dev, d+consts.RecordGrace, func(ctx context.Context) (Clip, error) {
		return e.inner.Record(ctx, d)
	})
}

// ClampRecordDuration bounds d to the supported recording range.
func ClampRecordDuration(d time.Duration) time.Duration {
	switch {
	case d < consts.MinRecordDuration:
		return consts.MinRecordDuration
	case d > consts.MaxRecordDuration:
		return consts.MaxRecordDuration
	default:
		return d
	}
}

// Personal.AI order the ending
