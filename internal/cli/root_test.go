package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/turtacn/Snowy/internal/credential"
	"github.com/turtacn/Snowy/pkg/protocol"
)

func TestCommands(t *testing.T) {
	if rootCmd.Name() != "snowy" {
		t.Errorf("Expected root command name snowy, got %s", rootCmd.Name())
	}
	if len(rootCmd.Commands()) < 5 {
		t.Errorf("Expected at least 5 subcommands, got %d", len(rootCmd.Commands()))
	}
	for _, name := range []string{"config", "env"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("Missing persistent flag --%s", name)
		}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snowy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			json.NewEncoder(w).Encode(protocol.StatusResponse{Status: "ok", Port: 42618})
		case "/face":
			json.NewEncoder(w).Encode(protocol.FaceStateResponse{State: "happy", Previous: "default"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	addr := strings.TrimPrefix(ts.URL, "http://")
	cfg := writeConfig(t, "bridge:\n  addr: "+addr+"\n")

	out, err := run(t, "status", "-c", cfg, "--env", "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "port 42618") || !strings.Contains(out, "happy (was default)") {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestFaceCommand_ReportsBridgeError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "Missing 'state' field"})
	}))
	defer ts.Close()

	addr := strings.TrimPrefix(ts.URL, "http://")
	cfg := writeConfig(t, "bridge:\n  addr: "+addr+"\n")

	_, err := run(t, "face", "happy", "-c", cfg, "--env", "")
	if err == nil || !strings.Contains(err.Error(), "400 Missing 'state' field") {
		t.Errorf("Expected bridge error, got %v", err)
	}
}

func TestTokenCommand(t *testing.T) {
	home := t.TempDir()
	agentCfg := filepath.Join(home, ".zeroclaw", "config.toml")
	if err := os.MkdirAll(filepath.Dir(agentCfg), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(agentCfg, []byte("[gateway]\npaired_tokens = []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := writeConfig(t, "agent:\n  home_dir: "+home+"\n")

	out, err := run(t, "token", "-c", cfg, "--env", "")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	token := strings.TrimSpace(out)
	if token == "" {
		t.Fatal("Expected a token on stdout")
	}

	tokens, err := credential.PairedTokens(agentCfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 1 || tokens[0] != token {
		t.Errorf("Expected [%s], got %v", token, tokens)
	}

	// Second run reuses the stored token
	again, err := run(t, "token", "-c", cfg, "--env", "")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(again) != token {
		t.Errorf("Token changed between runs: %q vs %q", again, token)
	}
}
