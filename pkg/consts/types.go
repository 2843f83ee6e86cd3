package consts

import "time"

// ServiceRunState is the lifecycle state of the supervised agent process.
type ServiceRunState string

const (
	StateStopped    ServiceRunState = "STOPPED"
	StateStarting   ServiceRunState = "STARTING" // Fork & Exec
	StateRunning    ServiceRunState = "RUNNING"
	StateBackingOff ServiceRunState = "BACKING_OFF" // Waiting before relaunch
	StateFailed     ServiceRunState = "FAILED"      // Retry ceiling exceeded
)

// AllRunStates lists every ServiceRunState, used for gauges.
var AllRunStates = []ServiceRunState{StateStopped, StateStarting, StateRunning, StateBackingOff, StateFailed}

// Agent process defaults.
const (
	DefaultAgentSubcommand = "daemon"
	DefaultAgentConfigDir  = ".zeroclaw"
	DefaultAgentConfigFile = "config.toml"
	DefaultGatewayURL      = "http://127.0.0.1:42617"
	EnvHome                = "HOME"
)

// Supervisor retry defaults.
const (
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
	DefaultMaxRetries     = 10
)

// Bridge defaults.
const (
	DefaultBridgePort     = 42618
	DefaultBridgeAddr     = "127.0.0.1:42618"
	DefaultCaptureTimeout = 10 * time.Second
	DefaultSpeechPitch    = 1.5
	DefaultSpeechSpeed    = 1.0
	DefaultRecordDuration = 5 * time.Second
	MinRecordDuration     = 1 * time.Second
	MaxRecordDuration     = 30 * time.Second
	RecordGrace           = 2 * time.Second
)

// Voice loop defaults.
const (
	DefaultWakePhrase        = "snowy"
	DefaultRestartDelay      = 300 * time.Millisecond
	DefaultErrorRestartDelay = 1500 * time.Millisecond
	DefaultPulseDuration     = 3 * time.Second
	DefaultSessionTimeout    = 15 * time.Second
)

// Chat relay defaults.
const (
	DefaultWebhookPath    = "/webhook"
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 30 * time.Second
)

// Environment overrides applied on top of the YAML config.
const (
	EnvAgentBinary = "SNOWY_AGENT_BINARY"
	EnvHomeDir     = "SNOWY_HOME"
	EnvBridgeAddr  = "SNOWY_BRIDGE_ADDR"
	EnvGatewayURL  = "SNOWY_GATEWAY_URL"
	EnvLogLevel    = "SNOWY_LOG_LEVEL"
	EnvWakePhrase  = "SNOWY_WAKE_PHRASE"
)

// Personal.AI order the ending
