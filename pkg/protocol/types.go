package protocol

// Config represents the root configuration of the Snowy daemon.
type Config struct {
	Version       string              `yaml:"version"`
	Agent         AgentConfig         `yaml:"agent"`
	Supervisor    SupervisorConfig    `yaml:"supervisor"`
	Bridge        BridgeConfig        `yaml:"bridge"`
	Voice         VoiceConfig         `yaml:"voice"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Credentials   CredentialsConfig   `yaml:"credentials"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type AgentConfig struct {
	BinaryPath string   `yaml:"binary_path"`
	Args       []string `yaml:"args"`       // Defaults to ["daemon"]
	HomeDir    string   `yaml:"home_dir"`   // Exported as HOME to the agent
	ConfigDir  string   `yaml:"config_dir"` // Relative to HomeDir
	GatewayURL string   `yaml:"gateway_url"`
}

type SupervisorConfig struct {
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
	MaxRetries     int    `yaml:"max_retries"`
}

type BridgeConfig struct {
	Addr           string `yaml:"addr"` // Loopback only
	CaptureTimeout string `yaml:"capture_timeout"`
}

type VoiceConfig struct {
	Enabled           bool     `yaml:"enabled"`
	WakePhrase        string   `yaml:"wake_phrase"`
	RecognizerCommand []string `yaml:"recognizer_command"`
	SessionTimeout    string   `yaml:"session_timeout"`
	RestartDelay      string   `yaml:"restart_delay"`
	ErrorRestartDelay string   `yaml:"error_restart_delay"`
	PulseDuration     string   `yaml:"pulse_duration"`
}

type ProvidersConfig struct {
	CameraFront   []string `yaml:"camera_front"`
	CameraRear    []string `yaml:"camera_rear"`
	SpeechCommand string   `yaml:"speech_command"`
	SpeechVoice   string   `yaml:"speech_voice"`
	RecordCommand []string `yaml:"record_command"`
	RecordRate    int      `yaml:"record_rate"`
}

type CredentialsConfig struct {
	StorePath string `yaml:"store_path"` // Defaults to <home>/.snowy/prefs.yaml
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json | text
}

// FaceShowRequest is the body of POST /face/show.
type FaceShowRequest struct {
	State *string `json:"state"`
}

// FaceShowResponse acknowledges an affect update.
type FaceShowResponse struct {
	OK    bool   `json:"ok"`
	State string `json:"state"`
}

// FaceStateResponse is returned by GET /face.
type FaceStateResponse struct {
	State    string `json:"state"`
	Previous string `json:"previous"`
}

// CaptureRequest is the body of POST /camera/capture.
type CaptureRequest struct {
	Camera string `json:"camera,omitempty"`
}

// CaptureResponse carries a base64 JPEG.
type CaptureResponse struct {
	Image string `json:"image"`
}

// SpeakRequest is the body of POST /tts/speak.
type SpeakRequest struct {
	Text  *string  `json:"text"`
	Pitch *float64 `json:"pitch,omitempty"`
	Speed *float64 `json:"speed,omitempty"`
}

// RecordRequest is the body of POST /audio/record. Duration is in seconds.
type RecordRequest struct {
	Duration *int `json:"duration,omitempty"`
}

// RecordResponse carries a base64 audio clip.
type RecordResponse struct {
	Audio  string `json:"audio"`
	Format string `json:"format"`
}

// OKResponse is the generic acknowledgement.
type OKResponse struct {
	OK bool `json:"ok"`
}

// StatusResponse is the liveness probe payload.
type StatusResponse struct {
	Status string `json:"status"`
	Port   int    `json:"port"`
}

// ErrorResponse is returned with every non-2xx bridge status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AffectEvent is one frame on the /face/stream websocket.
type AffectEvent struct {
	State string `json:"state"`
}

// WebhookRequest is sent to the agent gateway.
type WebhookRequest struct {
	Message string `json:"message"`
}

// WebhookResponse is the agent gateway reply.
type WebhookResponse struct {
	Response string `json:"response"`
}

// Personal.AI order the ending
