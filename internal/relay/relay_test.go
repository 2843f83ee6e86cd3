package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/turtacn/Snowy/internal/affect"
	"github.com/turtacn/Snowy/internal/capability"
	"github.com/turtacn/Snowy/pkg/protocol"
)

type staticTokens string

func (s staticTokens) Token() (string, bool) { return string(s), s != "" }

type sink struct {
	mu    sync.Mutex
	items []capability.Utterance
}

func (s *sink) Enqueue(u capability.Utterance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, u)
	return true
}

func (s *sink) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, u := range s.items {
		out = append(out, u.Text)
	}
	return out
}

func TestInfer_Precedence(t *testing.T) {
	rules := DefaultRules()
	cases := []struct {
		text string
		want affect.Signal
	}{
		{"*jumping around* I'm a bit sleepy though", affect.Ecstatic},
		{"*wags tail fast*", affect.Ecstatic},
		{"*wags tail*", affect.Happy},
		{"Wanna play fetch?", affect.Playful},
		{"Hmm, what's that smell?", affect.Curious},
		{"Woof!", affect.Happy},
		{"*ears perk* what was that", affect.Alert},
		{"*yawns* time for a nap", affect.Sleepy},
		{"I missed you", affect.Lonely},
		{"Huh? I'm puzzled", affect.Confused},
		{"I love treats", affect.Happy},
		{"The weather is fine.", affect.Content},
		{"ZOOMIES", affect.Ecstatic},
	}
	for _, tc := range cases {
		if got := rules.Infer(tc.text); got != tc.want {
			t.Errorf("Infer(%q) = %s, want %s", tc.text, got, tc.want)
		}
		if again := rules.Infer(tc.text); again != rules.Infer(tc.text) {
			t.Errorf("Infer(%q) is not deterministic", tc.text)
		}
	}
}

func TestCleanForSpeech(t *testing.T) {
	cases := map[string]string{
		"*wags tail* Hi there! 🐾✨":  "Hi there!",
		"Good   morning\n\nfriend 😊": "Good morning friend",
		"*spins*":                    "",
		"I ❤️ you":                   "I you",
	}
	for in, want := range cases {
		if got := CleanForSpeech(in); got != want {
			t.Errorf("CleanForSpeech(%q) = %q, want %q", in, got, want)
		}
	}
}

func newGateway(t *testing.T, status int, reply string) (*httptest.Server, *http.Request, *protocol.WebhookRequest) {
	t.Helper()
	var gotReq http.Request
	var gotBody protocol.WebhookRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = *r
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
	t.Cleanup(ts.Close)
	return ts, &gotReq, &gotBody
}

func TestSend_AppliesReply(t *testing.T) {
	ts, req, body := newGateway(t, http.StatusOK, `{"response":"*jumping* Woof! Let's go 🎉"}`)
	state := affect.NewState(nil)
	defer state.Close()
	speech := &sink{}

	r := New(Options{GatewayURL: ts.URL, Tokens: staticTokens("tok-1"), Affect: state, Speech: speech})
	r.Send(context.Background(), "go outside")

	if req.URL.Path != "/webhook" || req.Method != http.MethodPost {
		t.Errorf("Unexpected request %s %s", req.Method, req.URL.Path)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tok-1" {
		t.Errorf("Unexpected auth header %q", got)
	}
	if body.Message != "go outside" {
		t.Errorf("Unexpected message %q", body.Message)
	}
	if got := state.Current(); got != affect.Ecstatic {
		t.Errorf("Expected ecstatic, got %s", got)
	}
	if texts := speech.texts(); len(texts) != 1 || texts[0] != "Woof! Let's go" {
		t.Errorf("Unexpected speech %v", texts)
	}
}

func TestSend_FailuresAreNoOps(t *testing.T) {
	cases := []struct {
		name   string
		status int
		reply  string
	}{
		{"server error", http.StatusInternalServerError, `{"response":"woof"}`},
		{"unauthorized", http.StatusUnauthorized, `nope`},
		{"malformed body", http.StatusOK, `{"response":`},
		{"empty reply", http.StatusOK, `{"response":""}`},
		{"action only", http.StatusOK, `{"response":"*curls up*"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts, _, _ := newGateway(t, tc.status, tc.reply)
			state := affect.NewState(nil)
			defer state.Close()
			state.Set(affect.Lonely)
			speech := &sink{}

			New(Options{GatewayURL: ts.URL, Tokens: staticTokens("t"), Affect: state, Speech: speech}).
				Send(context.Background(), "hi")

			if n := len(speech.texts()); n != 0 {
				t.Errorf("Expected no speech, got %d utterances", n)
			}
			if tc.name != "action only" && state.Current() != affect.Lonely {
				t.Errorf("Affect should be untouched, got %s", state.Current())
			}
		})
	}
}

func TestSend_ActionOnlyStillSetsAffect(t *testing.T) {
	ts, _, _ := newGateway(t, http.StatusOK, `{"response":"*curls up*"}`)
	state := affect.NewState(nil)
	defer state.Close()

	New(Options{GatewayURL: ts.URL, Tokens: staticTokens("t"), Affect: state, Speech: &sink{}}).
		Send(context.Background(), "bedtime")

	if got := state.Current(); got != affect.Sleepy {
		t.Errorf("Expected sleepy, got %s", got)
	}
}

func TestSend_NoTokenDrops(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer ts.Close()

	New(Options{GatewayURL: ts.URL, Tokens: staticTokens("")}).Send(context.Background(), "hi")
	if called {
		t.Error("Relay without a token must not call the webhook")
	}
}

func TestSend_UnreachableGateway(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	state := affect.NewState(nil)
	defer state.Close()
	r := New(Options{GatewayURL: url, Tokens: staticTokens("t"), Affect: state})
	r.Go("hello")
	r.Close()

	if state.Current() != affect.Default {
		t.Errorf("Affect should be untouched, got %s", state.Current())
	}
}

func TestSend_WhitespaceReplySetsContent(t *testing.T) {
	ts, _, _ := newGateway(t, http.StatusOK, `{"response":"   "}`)
	state := affect.NewState(nil)
	defer state.Close()
	state.Set(affect.Lonely)
	speech := &sink{}

	New(Options{GatewayURL: ts.URL, Tokens: staticTokens("t"), Affect: state, Speech: speech}).
		Send(context.Background(), "hi")

	if got := state.Current(); got != affect.Content {
		t.Errorf("Expected content, got %s", got)
	}
	if n := len(speech.texts()); n != 0 {
		t.Errorf("Expected no speech, got %d utterances", n)
	}
}
