package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/flowtalk/internal/config"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			LLM:          config.ProviderEntry{Name: "gemini"},
			LLMFallbacks: []config.ProviderEntry{{Name: "openai"}},
			TTS:          config.ProviderEntry{Name: "elevenlabs", APIKey: "from-file"},
			STT:          config.ProviderEntry{Name: "whisper"},
		},
	}
	config.ApplyEnv(cfg, mapLookup(map[string]string{
		"API_KEY":              "generic",
		"OPENAI_API_KEY":       "sk-env",
		"ELEVENLABS_API_KEY":   "el-env",
		"FLOWTALK_LISTEN_ADDR": ":9090",
	}))

	if got := cfg.Providers.LLM.APIKey; got != "generic" {
		t.Errorf("llm api key: got %q, want fallback to API_KEY", got)
	}
	if got := cfg.Providers.LLMFallbacks[0].APIKey; got != "sk-env" {
		t.Errorf("llm fallback api key: got %q", got)
	}
	if got := cfg.Providers.TTS.APIKey; got != "from-file" {
		t.Errorf("tts api key: got %q, configured key must win", got)
	}
	if got := cfg.Providers.STT.APIKey; got != "" {
		t.Errorf("stt api key: got %q, want empty", got)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen addr: got %q", cfg.Server.ListenAddr)
	}
}

func TestApplyEnv_PrefersSpecificKey(t *testing.T) {
	cfg := &config.Config{Providers: config.ProvidersConfig{LLM: config.ProviderEntry{Name: "gemini"}}}
	config.ApplyEnv(cfg, mapLookup(map[string]string{
		"GEMINI_API_KEY": "specific",
		"API_KEY":        "generic",
	}))
	if cfg.Providers.LLM.APIKey != "specific" {
		t.Errorf("got %q, want GEMINI_API_KEY", cfg.Providers.LLM.APIKey)
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("FLOWTALK_TEST_KEY=from-dotenv\nFLOWTALK_TEST_SET=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FLOWTALK_TEST_SET", "from-shell")
	t.Setenv("FLOWTALK_TEST_KEY", "")
	os.Unsetenv("FLOWTALK_TEST_KEY")

	if err := config.LoadEnvFiles(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadEnvFiles: %v", err)
	}
	if got := os.Getenv("FLOWTALK_TEST_KEY"); got != "from-dotenv" {
		t.Errorf("FLOWTALK_TEST_KEY = %q", got)
	}
	if got := os.Getenv("FLOWTALK_TEST_SET"); got != "from-shell" {
		t.Errorf("FLOWTALK_TEST_SET = %q, existing variables must not be overridden", got)
	}
}
