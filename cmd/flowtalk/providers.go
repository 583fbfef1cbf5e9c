package main

import (
	"context"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/flowtalk/internal/config"
	"github.com/MrWong99/flowtalk/pkg/provider/llm"
	"github.com/MrWong99/flowtalk/pkg/provider/llm/anyllm"
	geminillm "github.com/MrWong99/flowtalk/pkg/provider/llm/gemini"
	openaillm "github.com/MrWong99/flowtalk/pkg/provider/llm/openai"
	"github.com/MrWong99/flowtalk/pkg/provider/stt"
	"github.com/MrWong99/flowtalk/pkg/provider/stt/whisper"
	"github.com/MrWong99/flowtalk/pkg/provider/tts"
	"github.com/MrWong99/flowtalk/pkg/provider/tts/elevenlabs"
	geminitts "github.com/MrWong99/flowtalk/pkg/provider/tts/gemini"
	openaitts "github.com/MrWong99/flowtalk/pkg/provider/tts/openai"
)

// registerBuiltinProviders wires every built-in backend constructor into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("gemini", func(ctx context.Context, e config.ProviderEntry) (llm.Provider, error) {
		var opts []geminillm.Option
		if e.BaseURL != "" {
			opts = append(opts, geminillm.WithBaseURL(e.BaseURL))
		}
		if d := optDuration(e.Options, "timeout"); d > 0 {
			opts = append(opts, geminillm.WithTimeout(d))
		}
		return geminillm.New(ctx, e.APIKey, e.Model, opts...)
	})

	reg.RegisterLLM("openai", func(_ context.Context, e config.ProviderEntry) (llm.Provider, error) {
		var opts []openaillm.Option
		if e.BaseURL != "" {
			opts = append(opts, openaillm.WithBaseURL(e.BaseURL))
		}
		if org := config.OptString(e.Options, "organization"); org != "" {
			opts = append(opts, openaillm.WithOrganization(org))
		}
		if d := optDuration(e.Options, "timeout"); d > 0 {
			opts = append(opts, openaillm.WithTimeout(d))
		}
		return openaillm.New(e.APIKey, e.Model, opts...)
	})

	// The remaining model backends share one shape: optional API key and
	// base URL passed through any-llm-go.
	for _, backend := range []string{"anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		reg.RegisterLLM(backend, func(_ context.Context, e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(backend, e.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("gemini", func(ctx context.Context, e config.ProviderEntry) (tts.Provider, error) {
		var opts []geminitts.Option
		if e.BaseURL != "" {
			opts = append(opts, geminitts.WithBaseURL(e.BaseURL))
		}
		if d := optDuration(e.Options, "timeout"); d > 0 {
			opts = append(opts, geminitts.WithTimeout(d))
		}
		return geminitts.New(ctx, e.APIKey, e.Model, opts...)
	})

	reg.RegisterTTS("openai", func(_ context.Context, e config.ProviderEntry) (tts.Provider, error) {
		var opts []openaitts.Option
		if e.BaseURL != "" {
			opts = append(opts, openaitts.WithBaseURL(e.BaseURL))
		}
		if d := optDuration(e.Options, "timeout"); d > 0 {
			opts = append(opts, openaitts.WithTimeout(d))
		}
		if m := config.OptStringMap(e.Options, "voices"); len(m) > 0 {
			opts = append(opts, openaitts.WithVoiceMap(m))
		}
		return openaitts.New(e.APIKey, e.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(_ context.Context, e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(e.BaseURL))
		}
		if m := config.OptStringMap(e.Options, "voices"); len(m) > 0 {
			opts = append(opts, elevenlabs.WithVoiceMap(m))
		}
		stability, hasStability := config.OptFloat(e.Options, "stability")
		similarity, hasSimilarity := config.OptFloat(e.Options, "similarity_boost")
		if hasStability || hasSimilarity {
			if !hasStability {
				stability = 0.5
			}
			if !hasSimilarity {
				similarity = 0.75
			}
			opts = append(opts, elevenlabs.WithVoiceSettings(stability, similarity))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(_ context.Context, e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if lang := config.OptString(e.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d := optDuration(e.Options, "silence"); d > 0 {
			opts = append(opts, whisper.WithSilence(d))
		}
		if d := optDuration(e.Options, "max_speech"); d > 0 {
			opts = append(opts, whisper.WithMaxSpeech(d))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// optDuration parses a Go duration string ("30s") from a provider Options
// map. Missing or malformed values yield zero.
func optDuration(opts map[string]any, key string) time.Duration {
	s := config.OptString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring malformed provider option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
