// Package llm is the seam between the conversation orchestrator and chat
// model backends.
//
// Each learner turn is one Complete call: the persona instruction block as
// the system prompt, the rendered transcript as a single user message, and
// a [types.ResponseSchema] describing the reply object. Backends return the
// model's raw JSON and leave decoding to the caller. Implementations must be
// safe for concurrent use and perform exactly one upstream request per call.
package llm

import (
	"context"
	"errors"

	"github.com/MrWong99/flowtalk/pkg/types"
)

// ErrNoReply is wrapped by backends when the model answered without any
// usable text (no candidates, an empty message or a refusal).
var ErrNoReply = errors.New("llm: model returned no reply")

// Usage is token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// NewUsage builds a Usage, deriving the total when the backend leaves it
// out.
func NewUsage(prompt, completion, total int) Usage {
	if total == 0 {
		total = prompt + completion
	}
	return Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

// CompletionRequest is one turn's worth of model input.
type CompletionRequest struct {
	Messages     []types.Message
	SystemPrompt string

	// ResponseSchema constrains the reply to a JSON object. Backends with
	// native structured output enforce it; the rest describe it in the
	// system prompt via [CompletionRequest.SystemWithSchema].
	ResponseSchema *types.ResponseSchema

	// Temperature and MaxTokens fall back to the backend default when zero.
	Temperature float64
	MaxTokens   int
}

// SystemWithSchema returns the system prompt with the schema instructions
// appended, or the prompt alone when there is no schema.
func (r CompletionRequest) SystemWithSchema() string {
	if r.ResponseSchema == nil {
		return r.SystemPrompt
	}
	desc := DescribeSchema(*r.ResponseSchema)
	if r.SystemPrompt == "" {
		return desc
	}
	return r.SystemPrompt + "\n\n" + desc
}

// CompletionResponse carries the model's raw reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is a chat model backend.
type Provider interface {
	// Complete performs one request and waits for the whole reply. It
	// returns promptly once ctx is done.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities describes the configured model.
	Capabilities() types.ModelCapabilities
}
