// Package mock is a scripted llm.Provider for tests.
//
// A Provider answers from Replies in order, one raw model reply per call,
// then keeps returning CompleteResponse:
//
//	p := &mock.Provider{Replies: []string{openingJSON, followUpJSON}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/flowtalk/pkg/provider/llm"
	"github.com/MrWong99/flowtalk/pkg/types"
)

// CompleteCall records one Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider implements llm.Provider. Set fields before the first call.
type Provider struct {
	// Replies are returned as CompletionResponse.Content, one per call,
	// before CompleteResponse is used.
	Replies []string

	// CompleteResponse and CompleteErr answer calls once Replies is used up.
	// Both nil returns (nil, nil).
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// CompleteFunc overrides everything above when set. Use it to block,
	// inspect the request or fail selectively.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// Caps is returned by Capabilities.
	Caps types.ModelCapabilities

	mu    sync.Mutex
	next  int
	calls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and answers it.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	var scripted *llm.CompletionResponse
	if fn == nil && p.next < len(p.Replies) {
		scripted = &llm.CompletionResponse{Content: p.Replies[p.next]}
		p.next++
	}
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	switch {
	case fn != nil:
		return fn(ctx, req)
	case scripted != nil:
		return scripted, nil
	}
	return resp, err
}

// Capabilities returns Caps.
func (p *Provider) Capabilities() types.ModelCapabilities { return p.Caps }

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// LastRequest returns the most recent request, or false before any call.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.calls[len(p.calls)-1].Req, true
}
