package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/flowtalk/pkg/provider/llm"
	"github.com/MrWong99/flowtalk/pkg/provider/stt"
	"github.com/MrWong99/flowtalk/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods for an unknown
// name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory constructs a backend from its config entry.
type Factory[T any] func(ctx context.Context, entry ProviderEntry) (T, error)

// Registry maps backend names to constructors per capability. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]Factory[llm.Provider]
	tts map[string]Factory[tts.Provider]
	stt map[string]Factory[stt.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]Factory[llm.Provider]),
		tts: make(map[string]Factory[tts.Provider]),
		stt: make(map[string]Factory[stt.Provider]),
	}
}

// RegisterLLM registers a model backend. A later registration under the same
// name wins.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = f
}

// RegisterTTS registers a speech synthesis backend.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = f
}

// RegisterSTT registers a speech recognition backend.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = f
}

// CreateLLM builds the model backend named by entry.Name.
func (r *Registry) CreateLLM(ctx context.Context, entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	return create(ctx, "llm", f, ok, entry)
}

// CreateTTS builds the synthesis backend named by entry.Name.
func (r *Registry) CreateTTS(ctx context.Context, entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	f, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	return create(ctx, "tts", f, ok, entry)
}

// CreateSTT builds the recognition backend named by entry.Name.
func (r *Registry) CreateSTT(ctx context.Context, entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	f, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	return create(ctx, "stt", f, ok, entry)
}

// Names returns the registered names per capability, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"llm": sortedKeys(r.llm),
		"tts": sortedKeys(r.tts),
		"stt": sortedKeys(r.stt),
	}
}

func create[T any](ctx context.Context, kind string, f Factory[T], ok bool, entry ProviderEntry) (T, error) {
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	p, err := f(ctx, entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s provider %q: %w", kind, entry.Name, err)
	}
	return p, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// OptString returns opts[key] when it is a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptStringMap returns opts[key] as a string map. YAML decodes nested maps
// as map[string]any; non-string values are skipped.
func OptStringMap(opts map[string]any, key string) map[string]string {
	raw, ok := opts[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// OptFloat returns opts[key] as a float64 and whether it was numeric. YAML
// decodes whole numbers as int.
func OptFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
