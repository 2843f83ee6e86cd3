// Package capability defines the narrow device contracts the bridge and the
// chat relay call into, together with serializing guards and command-backed
// default providers.
package capability

import (
	"context"
	"time"
)

// Camera captures a single still image.
type Camera interface {
	// Capture returns an encoded image (JPEG for the default provider).
	// It must return promptly once ctx is done.
	Capture(ctx context.Context, useFront bool) ([]byte, error)
}

// Utterance is one piece of text to synthesize.
type Utterance struct {
	Text  string
	Pitch float64 // 1.0 is the voice's natural pitch
	Speed float64 // 1.0 is the voice's natural rate
}

// Speaker synthesizes speech and blocks until playback ends.
type Speaker interface {
	Speak(ctx context.Context, u Utterance) error
}

// Clip is recorded audio.
type Clip struct {
	Data   []byte
	Format string
}

// Recorder records from the microphone for d.
type Recorder interface {
	Record(ctx context.Context, d time.Duration) (Clip, error)
}

// Personal.AI order the ending
