package capability

import (
	"context"
	"strings"
	"sync"

	"github.com/turtacn/Snowy/pkg/logger"
)

const speechQueueSize = 16

// SpeechQueue hands utterances to a Speaker on a single worker goroutine so
// callers never wait for playback.
type SpeechQueue struct {
	speaker Speaker
	queue   chan Utterance
	log     logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewSpeechQueue(s Speaker) *SpeechQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &SpeechQueue{
		speaker: s,
		queue:   make(chan Utterance, speechQueueSize),
		log:     logger.Component("speech"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *SpeechQueue) loop() {
	defer close(q.done)
	for u := range q.queue {
		if q.ctx.Err() != nil {
			continue
		}
		if err := q.speaker.Speak(q.ctx, u); err != nil {
			q.log.Warn("Speech failed", "err", err)
		}
	}
}

// Enqueue accepts u for playback. It reports false if the text is blank,
// the queue is full or the queue is closed.
func (q *SpeechQueue) Enqueue(u Utterance) bool {
	u.Text = strings.TrimSpace(u.Text)
	if u.Text == "" {
		return false
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.queue <- u:
		return true
	default:
		q.log.Warn("Speech queue full; dropping utterance", "len", len(u.Text))
		return false
	}
}

// Close stops accepting utterances, interrupts the one playing and waits for
// the worker to exit.
func (q *SpeechQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.queue)
	q.mu.Unlock()

	q.cancel()
	<-q.done
}

// Personal.AI order the ending
