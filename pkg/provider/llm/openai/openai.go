// Package openai is an llm.Provider for the OpenAI chat-completions API and
// compatible gateways. Reply schemas are sent as a json_schema response
// format so the object shape is enforced server-side.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/flowtalk/pkg/provider/llm"
	"github.com/MrWong99/flowtalk/pkg/types"
)

// families is ordered so that longer prefixes win.
var families = []llm.Family{
	{Prefix: "gpt-4.1", ContextWindow: 1_047_576, MaxOutputTokens: 32_768},
	{Prefix: "gpt-4o", MaxOutputTokens: 16_384},
	{Prefix: "gpt-4", ContextWindow: 8_192, NoSchema: true},
	{Prefix: "gpt-3.5", ContextWindow: 16_385, NoSchema: true},
	{Prefix: "o3", ContextWindow: 200_000, MaxOutputTokens: 100_000},
	{Prefix: "o4", ContextWindow: 200_000, MaxOutputTokens: 100_000},
}

var baseCapabilities = types.ModelCapabilities{
	ContextWindow:          128_000,
	MaxOutputTokens:        4_096,
	SupportsResponseSchema: true,
}

// Provider implements llm.Provider.
type Provider struct {
	client oai.Client
	model  string
	caps   types.ModelCapabilities
}

var _ llm.Provider = (*Provider)(nil)

// Option adjusts the underlying client.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at an OpenAI-compatible gateway.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithBaseURL(url)) }
}

// WithOrganization sends the organization header on every request.
func WithOrganization(org string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithOrganization(org)) }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// New returns a Provider for model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: api key is required")
	case model == "":
		return nil, errors.New("openai: model is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		caps:   llm.LookupCapabilities(model, baseCapabilities, families),
	}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %w", llm.ErrNoReply)
	}
	msg := resp.Choices[0].Message
	if msg.Content == "" {
		if msg.Refusal != "" {
			return nil, fmt.Errorf("openai: refused (%s): %w", msg.Refusal, llm.ErrNoReply)
		}
		return nil, fmt.Errorf("openai: finish reason %q: %w", resp.Choices[0].FinishReason, llm.ErrNoReply)
	}
	u := resp.Usage
	return &llm.CompletionResponse{
		Content: msg.Content,
		Usage:   llm.NewUsage(int(u.PromptTokens), int(u.CompletionTokens), int(u.TotalTokens)),
	}, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities { return p.caps }

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	// Models without json_schema support get the schema as prompt text.
	system := req.SystemPrompt
	if req.ResponseSchema != nil && !p.caps.SupportsResponseSchema {
		system = req.SystemWithSchema()
	}

	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if system != "" {
		msgs = append(msgs, oai.SystemMessage(system))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleSystem:
			msgs = append(msgs, oai.SystemMessage(m.Content))
		case types.RoleUser:
			msgs = append(msgs, oai.UserMessage(m.Content))
		case types.RoleAssistant:
			msgs = append(msgs, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.ResponseSchema != nil && p.caps.SupportsResponseSchema {
		params.ResponseFormat = jsonSchemaFormat(*req.ResponseSchema)
	}
	return params, nil
}

// jsonSchemaFormat leaves strict mode off; strict schemas cannot express
// optional properties.
func jsonSchemaFormat(s types.ResponseSchema) oai.ChatCompletionNewParamsResponseFormatUnion {
	name := s.Name
	if name == "" {
		name = "reply"
	}
	js := oai.ResponseFormatJSONSchemaJSONSchemaParam{Name: name, Schema: s.JSONSchema()}
	if s.Description != "" {
		js.Description = oai.String(s.Description)
	}
	return oai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &oai.ResponseFormatJSONSchemaParam{JSONSchema: js},
	}
}
