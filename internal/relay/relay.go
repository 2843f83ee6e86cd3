// Package relay forwards spoken commands to the agent's webhook and turns
// the reply into an affect signal and an utterance.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/turtacn/Snowy/internal/affect"
	"github.com/turtacn/Snowy/internal/capability"
	"github.com/turtacn/Snowy/internal/monitor"
	"github.com/turtacn/Snowy/pkg/consts"
	"github.com/turtacn/Snowy/pkg/logger"
	"github.com/turtacn/Snowy/pkg/protocol"
)

const maxReplyBytes = 1 << 20

// TokenSource yields the bearer token, if one has been provisioned.
type TokenSource interface {
	Token() (string, bool)
}

// SpeechSink accepts utterances for asynchronous playback.
type SpeechSink interface {
	Enqueue(u capability.Utterance) bool
}

type Options struct {
	GatewayURL     string
	Tokens         TokenSource
	Affect         *affect.State
	Speech         SpeechSink
	Rules          *Rules
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Relay is safe for concurrent use. Every failure is logged and swallowed.
type Relay struct {
	opts   Options
	rules  Rules
	client *http.Client
	log    logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Relay {
	if opts.GatewayURL == "" {
		opts.GatewayURL = consts.DefaultGatewayURL
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = consts.DefaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = consts.DefaultReadTimeout
	}
	rules := DefaultRules()
	if opts.Rules != nil {
		rules = *opts.Rules
	}

	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	client := &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			ResponseHeaderTimeout: opts.ReadTimeout,
			MaxIdleConns:          2,
			IdleConnTimeout:       90 * time.Second,
		},
		Timeout: opts.ConnectTimeout + opts.ReadTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		opts:   opts,
		rules:  rules,
		client: client,
		log:    logger.Component("relay"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go relays command on its own goroutine.
func (r *Relay) Go(command string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Send(r.ctx, command)
	}()
}

// Close cancels in-flight relays and waits for them.
func (r *Relay) Close() {
	r.cancel()
	r.wg.Wait()
}

// Send posts command to the agent webhook and applies the reply. It never fails.
func (r *Relay) Send(ctx context.Context, command string) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("Relay panicked", "panic", p)
			monitor.RelayTotal.WithLabelValues("panic").Inc()
		}
	}()

	// 1. Credential
	token, ok := "", false
	if r.opts.Tokens != nil {
		token, ok = r.opts.Tokens.Token()
	}
	if !ok {
		r.log.Warn("No app token available; dropping command")
		monitor.RelayTotal.WithLabelValues("no_token").Inc()
		return
	}

	// 2. Webhook round trip
	reply, outcome, err := r.post(ctx, token, command)
	if err != nil {
		r.log.Warn("Webhook call failed", "outcome", outcome, "err", err)
		monitor.RelayTotal.WithLabelValues(outcome).Inc()
		return
	}
	if reply == "" {
		r.log.Debug("Agent returned an empty reply")
		monitor.RelayTotal.WithLabelValues("empty").Inc()
		return
	}
	monitor.RelayTotal.WithLabelValues("ok").Inc()

	// 3. Affect
	sig := r.rules.Infer(reply)
	if r.opts.Affect != nil {
		r.opts.Affect.Set(sig)
	}

	// 4. Speech
	spoken := CleanForSpeech(reply)
	r.log.Info("Agent replied", "affect", sig, "len", len(reply))
	if spoken != "" && r.opts.Speech != nil {
		r.opts.Speech.Enqueue(capability.Utterance{
			Text:  spoken,
			Pitch: consts.DefaultSpeechPitch,
			Speed: consts.DefaultSpeechSpeed,
		})
	}
}

func (r *Relay) post(ctx context.Context, token, command string) (string, string, error) {
	body, err := json.Marshal(protocol.WebhookRequest{Message: command})
	if err != nil {
		return "", "bad_request", err
	}

	url := strings.TrimRight(r.opts.GatewayURL, "/") + consts.DefaultWebhookPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", "bad_request", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", "transport_error", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", "transport_error", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "http_error", fmt.Errorf("webhook returned %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var out protocol.WebhookResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", "bad_body", fmt.Errorf("decoding webhook reply: %w", err)
	}
	return out.Response, "ok", nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Personal.AI order the ending
