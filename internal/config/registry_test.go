package config_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/flowtalk/internal/config"
	"github.com/MrWong99/flowtalk/pkg/provider/llm"
	llmmock "github.com/MrWong99/flowtalk/pkg/provider/llm/mock"
	"github.com/MrWong99/flowtalk/pkg/provider/stt"
	sttmock "github.com/MrWong99/flowtalk/pkg/provider/stt/mock"
	"github.com/MrWong99/flowtalk/pkg/provider/tts"
	ttsmock "github.com/MrWong99/flowtalk/pkg/provider/tts/mock"
)

func TestRegistry_Create(t *testing.T) {
	reg := config.NewRegistry()
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("mock", func(_ context.Context, e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &llmmock.Provider{}, nil
	})
	reg.RegisterTTS("mock", func(context.Context, config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})
	reg.RegisterSTT("mock", func(context.Context, config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})

	ctx := context.Background()
	if _, err := reg.CreateLLM(ctx, config.ProviderEntry{Name: "mock", Model: "m1"}); err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory got entry %+v", gotEntry)
	}
	if _, err := reg.CreateTTS(ctx, config.ProviderEntry{Name: "mock"}); err != nil {
		t.Fatalf("CreateTTS: %v", err)
	}
	if _, err := reg.CreateSTT(ctx, config.ProviderEntry{Name: "mock"}); err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}

	names := reg.Names()
	for _, kind := range []string{"llm", "tts", "stt"} {
		if len(names[kind]) != 1 || names[kind][0] != "mock" {
			t.Errorf("Names()[%s] = %v", kind, names[kind])
		}
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	reg := config.NewRegistry()
	_, err := reg.CreateTTS(context.Background(), config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	boom := errors.New("missing api key")
	reg.RegisterLLM("broken", func(context.Context, config.ProviderEntry) (llm.Provider, error) {
		return nil, boom
	})
	_, err := reg.CreateLLM(context.Background(), config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped factory error", err)
	}
}

func TestOptHelpers(t *testing.T) {
	opts := map[string]any{
		"voice":     "alloy",
		"count":     3,
		"stability": 0.4,
		"voice_map": map[string]any{"Kore": "nova", "bad": 1},
	}
	if got := config.OptString(opts, "voice"); got != "alloy" {
		t.Errorf("OptString(voice) = %q", got)
	}
	if got := config.OptString(opts, "count"); got != "" {
		t.Errorf("OptString(count) = %q, want empty", got)
	}
	vm := config.OptStringMap(opts, "voice_map")
	if len(vm) != 1 || vm["Kore"] != "nova" {
		t.Errorf("OptStringMap = %v", vm)
	}
	if config.OptStringMap(nil, "voice_map") != nil {
		t.Error("OptStringMap(nil) should be nil")
	}
	if f, ok := config.OptFloat(opts, "stability"); !ok || f != 0.4 {
		t.Errorf("OptFloat(stability) = %v, %v", f, ok)
	}
	if f, ok := config.OptFloat(opts, "count"); !ok || f != 3 {
		t.Errorf("OptFloat(count) = %v, %v", f, ok)
	}
	if _, ok := config.OptFloat(opts, "voice"); ok {
		t.Error("OptFloat(voice) should not be numeric")
	}
}
