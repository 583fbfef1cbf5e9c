package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/flowtalk/internal/progression"
	"github.com/MrWong99/flowtalk/internal/prompt"
)

// ValidProviderNames lists known backend names per capability. [Validate]
// warns about names outside this list.
var ValidProviderNames = map[string][]string{
	"llm": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"gemini", "openai", "elevenlabs"},
	"stt": {"whisper"},
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, applies defaults and validates.
// Unknown keys are an error.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Session.DefaultMode == "" {
		cfg.Session.DefaultMode = prompt.DefaultMode.String()
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = "en"
	}
	if cfg.Playback.Mode == "" {
		cfg.Playback.Mode = PlaybackDiscard
	}
}

// Validate returns every problem in cfg joined into one error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be between 0 and 1", r))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}
	for i, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; voice input will be unavailable")
	}

	s := cfg.Session
	if s.DefaultMode != "" {
		if _, err := prompt.ParseMode(s.DefaultMode); err != nil {
			errs = append(errs, fmt.Errorf("session.default_mode %q is invalid; valid values: L1, L2, L3, L4", s.DefaultMode))
		}
	}
	if s.TurnTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.turn_timeout %v must not be negative", s.TurnTimeout))
	}
	if s.Temperature != nil && (*s.Temperature < 0 || *s.Temperature > 2) {
		errs = append(errs, fmt.Errorf("session.temperature %.2f is out of range [0, 2]", *s.Temperature))
	}
	if s.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("session.max_tokens %d must not be negative", s.MaxTokens))
	}
	if p := s.Initial; p != nil {
		errs = append(errs, validateProgress(p)...)
	}

	if cfg.Playback.Mode != "" && !cfg.Playback.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("playback.mode %q is invalid; valid values: discard, timed, wav", cfg.Playback.Mode))
	}
	if cfg.Playback.Mode == PlaybackWAV && cfg.Playback.OutputDir == "" {
		errs = append(errs, errors.New("playback.output_dir is required when playback.mode is wav"))
	}

	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must not be negative", cfg.Resilience.MaxFailures))
	}
	if cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("resilience.reset_timeout %v must not be negative", cfg.Resilience.ResetTimeout))
	}

	return errors.Join(errs...)
}

func validateProgress(p *ProgressConfig) []error {
	var errs []error
	if p.TotalXP < 0 {
		errs = append(errs, fmt.Errorf("session.initial.total_xp %d must not be negative", p.TotalXP))
	}
	if p.Streak < 0 {
		errs = append(errs, fmt.Errorf("session.initial.streak %d must not be negative", p.Streak))
	}
	for id, v := range p.Relationships {
		if v < 0 || v > progression.RelationshipCap {
			errs = append(errs, fmt.Errorf("session.initial.relationships[%s] %.2f is out of range [0, %g]", id, v, progression.RelationshipCap))
		}
	}
	for id, v := range p.Mastery {
		if v < 0 || v > progression.MasteryCap {
			errs = append(errs, fmt.Errorf("session.initial.mastery[%s] %.2f is out of range [0, %g]", id, v, progression.MasteryCap))
		}
	}
	return errs
}

// InitialProgress returns the configured starting profile, or
// progression.Initial when none is set.
func (s SessionConfig) InitialProgress() progression.State {
	if s.Initial == nil {
		return progression.Initial()
	}
	st := progression.State{
		TotalXP:       s.Initial.TotalXP,
		Streak:        s.Initial.Streak,
		Relationships: make(map[string]float64, len(s.Initial.Relationships)),
		Mastery:       make(map[string]float64, len(s.Initial.Mastery)),
	}
	maps.Copy(st.Relationships, s.Initial.Relationships)
	maps.Copy(st.Mastery, s.Initial.Mastery)
	return st
}

// Mode returns the parsed default mode, falling back to L1.
func (s SessionConfig) Mode() prompt.Mode {
	m, err := prompt.ParseMode(s.DefaultMode)
	if err != nil {
		return prompt.DefaultMode
	}
	return m
}

func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party backend",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
