// Package config provides the configuration schema, loader, environment
// overlay, provider registry and file watcher for FlowTalk.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// PlaybackMode selects where synthesized audio goes.
type PlaybackMode string

const (
	// PlaybackDiscard drops audio.
	PlaybackDiscard PlaybackMode = "discard"

	// PlaybackTimed produces no sound but tracks playback for the length of
	// the audio; used when a remote client plays it.
	PlaybackTimed PlaybackMode = "timed"

	// PlaybackWAV writes every reply to a WAV file in Playback.OutputDir.
	PlaybackWAV PlaybackMode = "wav"
)

// IsValid reports whether m is a recognised playback mode.
func (m PlaybackMode) IsValid() bool {
	switch m {
	case PlaybackDiscard, PlaybackTimed, PlaybackWAV:
		return true
	}
	return false
}

// Config is the root configuration, usually loaded with [Load].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Session    SessionConfig    `yaml:"session"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the HTTP address (e.g. ":8080"). Empty runs the
	// terminal front-end instead of the server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`

	// TraceSampleRatio is the share of new traces kept, in (0, 1]. Zero
	// keeps all of them.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists the origins accepted for WebSocket upgrades.
	// Empty accepts same-origin requests only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds PEM certificate and key paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the backend for each external capability. The
// fallback lists are tried in order when the primary fails.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
	STT          ProviderEntry   `yaml:"stt"`
}

// ProviderEntry configures one backend. Name selects the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "gemini", "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against the backend. Filled from the environment
	// by [ApplyEnv] when empty.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the backend.
	Model string `yaml:"model"`

	// Options holds backend-specific values.
	Options map[string]any `yaml:"options"`
}

// SessionConfig sets the defaults of every new learner session.
type SessionConfig struct {
	// DefaultPersona is the persona id selected at start. Empty picks the
	// first catalog persona.
	DefaultPersona string `yaml:"default_persona"`

	// DefaultMode is "L1".."L4". Empty means L1.
	DefaultMode string `yaml:"default_mode"`

	// TurnTimeout bounds one turn's model and speech calls. Zero means none.
	TurnTimeout time.Duration `yaml:"turn_timeout"`

	// Temperature for the conversation model; nil keeps the backend default.
	Temperature *float64 `yaml:"temperature"`

	// MaxTokens caps the reply length; zero keeps the backend default.
	MaxTokens int `yaml:"max_tokens"`

	// Language is the recognition language for voice input.
	Language string `yaml:"language"`

	// Initial seeds progression. Nil uses the built-in starting profile.
	Initial *ProgressConfig `yaml:"initial"`
}

// ProgressConfig is a starting progression profile.
type ProgressConfig struct {
	TotalXP       int                `yaml:"total_xp"`
	Streak        int                `yaml:"streak"`
	Relationships map[string]float64 `yaml:"relationships"`
	Mastery       map[string]float64 `yaml:"mastery"`
}

// CatalogConfig points at an optional catalog override.
type CatalogConfig struct {
	// Path is a YAML catalog file. Empty uses the built-in catalog.
	Path string `yaml:"path"`
}

// PlaybackConfig selects the audio output.
type PlaybackConfig struct {
	Mode      PlaybackMode `yaml:"mode"`
	OutputDir string       `yaml:"output_dir"`
}

// ResilienceConfig tunes the circuit breakers in front of every backend.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}
