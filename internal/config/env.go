package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// apiKeyEnv lists, per backend name, the environment variables consulted for
// an API key in order of preference.
var apiKeyEnv = map[string][]string{
	"gemini":     {"GEMINI_API_KEY", "API_KEY"},
	"openai":     {"OPENAI_API_KEY"},
	"elevenlabs": {"ELEVENLABS_API_KEY"},
	"anthropic":  {"ANTHROPIC_API_KEY"},
	"deepseek":   {"DEEPSEEK_API_KEY"},
	"mistral":    {"MISTRAL_API_KEY"},
	"groq":       {"GROQ_API_KEY"},
}

// LoadEnvFiles loads KEY=value files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env file %q: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv fills empty API keys and the listen address from the
// environment. lookup is usually os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	fill := func(e *ProviderEntry) {
		if e.APIKey != "" {
			return
		}
		for _, name := range apiKeyEnv[e.Name] {
			if v, ok := lookup(name); ok && v != "" {
				e.APIKey = v
				return
			}
		}
	}
	fill(&cfg.Providers.LLM)
	fill(&cfg.Providers.TTS)
	fill(&cfg.Providers.STT)
	for i := range cfg.Providers.LLMFallbacks {
		fill(&cfg.Providers.LLMFallbacks[i])
	}
	for i := range cfg.Providers.TTSFallbacks {
		fill(&cfg.Providers.TTSFallbacks[i])
	}

	if v, ok := lookup("FLOWTALK_LISTEN_ADDR"); ok && v != "" {
		cfg.Server.ListenAddr = v
	}
}
