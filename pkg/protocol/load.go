package protocol

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/turtacn/Snowy/pkg/consts"
	snowyerr "github.com/turtacn/Snowy/pkg/errors"
)

// Load reads the optional dotenv file, then the YAML config at path, then
// applies SNOWY_* overrides and defaults. A missing config file yields the
// default configuration; a missing env file is ignored.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, snowyerr.New(snowyerr.ErrCodeConfigInvalid, "LoadConfig", "reading env file "+envFile, err)
		}
	}

	cfg := &Config{Voice: VoiceConfig{Enabled: true}}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, snowyerr.New(snowyerr.ErrCodeConfigInvalid, "LoadConfig", "parsing "+path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	default:
		return nil, snowyerr.New(snowyerr.ErrCodeConfigInvalid, "LoadConfig", "reading "+path, err)
	}

	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides selected fields from SNOWY_* environment variables.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Agent.BinaryPath, consts.EnvAgentBinary)
	set(&c.Agent.HomeDir, consts.EnvHomeDir)
	set(&c.Agent.GatewayURL, consts.EnvGatewayURL)
	set(&c.Bridge.Addr, consts.EnvBridgeAddr)
	set(&c.Observability.LogLevel, consts.EnvLogLevel)
	set(&c.Voice.WakePhrase, consts.EnvWakePhrase)
}

// ApplyDefaults fills every empty field with its reference value.
func (c *Config) ApplyDefaults() {
	if c.Agent.BinaryPath == "" {
		c.Agent.BinaryPath = "zeroclaw"
	}
	if len(c.Agent.Args) == 0 {
		c.Agent.Args = []string{consts.DefaultAgentSubcommand}
	}
	if c.Agent.HomeDir == "" {
		c.Agent.HomeDir = defaultHomeDir()
	}
	if c.Agent.ConfigDir == "" {
		c.Agent.ConfigDir = consts.DefaultAgentConfigDir
	}
	if c.Agent.GatewayURL == "" {
		c.Agent.GatewayURL = consts.DefaultGatewayURL
	}
	if c.Supervisor.MaxRetries == 0 {
		c.Supervisor.MaxRetries = consts.DefaultMaxRetries
	}
	if c.Bridge.Addr == "" {
		c.Bridge.Addr = consts.DefaultBridgeAddr
	}
	if c.Voice.WakePhrase == "" {
		c.Voice.WakePhrase = consts.DefaultWakePhrase
	}
	if c.Providers.SpeechCommand == "" {
		c.Providers.SpeechCommand = "espeak-ng"
	}
	if c.Providers.RecordRate == 0 {
		c.Providers.RecordRate = 16000
	}
	if c.Credentials.StorePath == "" {
		c.Credentials.StorePath = filepath.Join(c.Agent.HomeDir, ".snowy", "prefs.yaml")
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.LogFormat == "" {
		c.Observability.LogFormat = "json"
	}
}

// Validate rejects configurations the daemon cannot run safely with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agent.BinaryPath) == "" {
		return snowyerr.New(snowyerr.ErrCodeConfigInvalid, "Validate", "agent.binary_path is empty", nil)
	}
	if c.Supervisor.MaxRetries < 0 {
		return snowyerr.New(snowyerr.ErrCodeConfigInvalid, "Validate", "supervisor.max_retries must be positive", nil)
	}
	if !IsLoopbackAddr(c.Bridge.Addr) {
		return snowyerr.New(snowyerr.ErrCodeConfigInvalid, "Validate", fmt.Sprintf("bridge.addr %q is not a loopback address", c.Bridge.Addr), nil)
	}
	if c.Observability.MetricsAddr != "" && !IsLoopbackAddr(c.Observability.MetricsAddr) {
		return snowyerr.New(snowyerr.ErrCodeConfigInvalid, "Validate", fmt.Sprintf("observability.metrics_addr %q is not a loopback address", c.Observability.MetricsAddr), nil)
	}
	return nil
}

// AgentConfigPath is the agent's config.toml under its home directory.
func (c *Config) AgentConfigPath() string {
	return filepath.Join(c.Agent.HomeDir, c.Agent.ConfigDir, consts.DefaultAgentConfigFile)
}

// IsLoopbackAddr reports whether addr is host:port with a loopback host.
// An empty host (all interfaces) is not loopback.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Duration parses s, falling back to def when s is empty, invalid or not positive.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./snowy-data"
	}
	return filepath.Join(home, ".local", "share", "snowy")
}

// Personal.AI order the ending
