package resilience

import (
	"context"

	"github.com/MrWong99/flowtalk/pkg/provider/llm"
	"github.com/MrWong99/flowtalk/pkg/provider/stt"
	"github.com/MrWong99/flowtalk/pkg/provider/tts"
	"github.com/MrWong99/flowtalk/pkg/types"
)

// LLMFallback is an llm.Provider that fails over across model backends.
type LLMFallback struct {
	*Group[llm.Provider]
}

// NewLLMFallback returns an LLMFallback over backends in preference order.
func NewLLMFallback(cfg BreakerConfig, backends ...Backend[llm.Provider]) *LLMFallback {
	return &LLMFallback{NewGroup(cfg, backends...)}
}

// Complete sends req to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Do(ctx, f.Group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities reports the primary backend's capabilities.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	if p, ok := f.Primary(); ok {
		return p.Capabilities()
	}
	return types.ModelCapabilities{}
}

// TTSFallback is a tts.Provider that fails over across speech backends.
type TTSFallback struct {
	*Group[tts.Provider]
}

// NewTTSFallback returns a TTSFallback over backends in preference order.
func NewTTSFallback(cfg BreakerConfig, backends ...Backend[tts.Provider]) *TTSFallback {
	return &TTSFallback{NewGroup(cfg, backends...)}
}

// Synthesize asks the first healthy backend for audio. A backend that
// answers without audio counts as a success.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (*tts.Payload, error) {
	return Do(ctx, f.Group, func(ctx context.Context, p tts.Provider) (*tts.Payload, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices lists the voices of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return Do(ctx, f.Group, func(ctx context.Context, p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// STTFallback is an stt.Provider that fails over when a stream cannot be
// opened. Failures inside an open stream are not retried elsewhere.
type STTFallback struct {
	*Group[stt.Provider]
}

// NewSTTFallback returns an STTFallback over backends in preference order.
func NewSTTFallback(cfg BreakerConfig, backends ...Backend[stt.Provider]) *STTFallback {
	return &STTFallback{NewGroup(cfg, backends...)}
}

// StartStream opens a stream on the first healthy backend.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Do(ctx, f.Group, func(ctx context.Context, p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

var (
	_ llm.Provider = (*LLMFallback)(nil)
	_ tts.Provider = (*TTSFallback)(nil)
	_ stt.Provider = (*STTFallback)(nil)
)
