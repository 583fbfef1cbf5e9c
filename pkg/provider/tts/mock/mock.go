// Package mock is a tts.Provider for tests that returns a fixed payload and
// records which text and voice reached it.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/flowtalk/pkg/provider/tts"
	"github.com/MrWong99/flowtalk/pkg/types"
)

// SynthesizeCall records one Synthesize invocation.
type SynthesizeCall struct {
	Ctx context.Context
	Req tts.Request
}

// Provider implements tts.Provider. Set fields before the first call.
type Provider struct {
	// SynthesizeResult is returned by every successful Synthesize. Nil is
	// returned as is, which consumers treat as "no audio".
	SynthesizeResult *tts.Payload
	SynthesizeErr    error

	// Voices is returned by ListVoices.
	Voices []types.VoiceProfile

	mu    sync.Mutex
	calls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns SynthesizeResult or
// SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Payload, error) {
	p.mu.Lock()
	p.calls = append(p.calls, SynthesizeCall{Ctx: ctx, Req: req})
	p.mu.Unlock()
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	return p.SynthesizeResult, nil
}

// ListVoices returns Voices.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	return p.Voices, nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// VoicesUsed returns the voice id of every call in order.
func (p *Provider) VoicesUsed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, len(p.calls))
	for i, c := range p.calls {
		ids[i] = c.Req.Voice.ID
	}
	return ids
}
