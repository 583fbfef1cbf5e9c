// Package conversation runs one structured round trip to the generative
// model per turn.
//
// The Orchestrator renders history and the new utterance into a transcript,
// sends it with the composed instruction block and reply schema, and
// validates the reply. Transport failures and schema violations are distinct
// error kinds (ErrTransport, ErrSchemaValidation); a partial reply is never
// returned. Exactly one request is made per call.
package conversation

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/flowtalk/internal/observe"
	"github.com/MrWong99/flowtalk/internal/prompt"
	"github.com/MrWong99/flowtalk/pkg/provider/llm"
	"github.com/MrWong99/flowtalk/pkg/types"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProviderName sets the name used in metrics and errors.
func WithProviderName(name string) Option {
	return func(o *Orchestrator) { o.providerName = name }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTemperature sets the sampling temperature. Zero keeps the provider
// default.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// WithMaxTokens caps completion tokens. Zero keeps the provider default.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// Orchestrator turns history plus instructions into a validated Reply.
// It is safe for concurrent use.
type Orchestrator struct {
	llm          llm.Provider
	providerName string
	metrics      *observe.Metrics
	temperature  float64
	maxTokens    int
}

// New returns an Orchestrator that talks to p.
func New(p llm.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{llm: p, providerName: "llm"}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Respond sends one request built from history, utterance and block and
// returns the validated reply. Errors match ErrTransport or
// ErrSchemaValidation.
func (o *Orchestrator) Respond(ctx context.Context, history []HistoryEntry, utterance string, block prompt.Block) (*Reply, error) {
	ctx, span := observe.StartSpan(ctx, "conversation.respond")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", o.providerName),
		attribute.Int("history.length", len(history)),
		attribute.Bool("master_mode", block.MasterMode),
	)

	schema := block.Schema
	req := llm.CompletionRequest{
		SystemPrompt:   block.Text,
		Messages:       []types.Message{{Role: types.RoleUser, Content: RenderTranscript(history, utterance)}},
		ResponseSchema: &schema,
		Temperature:    o.temperature,
		MaxTokens:      o.maxTokens,
	}

	start := time.Now()
	resp, err := o.llm.Complete(ctx, req)
	o.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", o.providerName)))
	if err == nil && resp == nil {
		err = errors.New("provider returned no response")
	}
	if err != nil {
		o.metrics.RecordProviderRequest(ctx, o.providerName, observe.KindLLM, observe.StatusError)
		o.metrics.RecordProviderError(ctx, o.providerName, observe.KindLLM)
		observe.Fail(span, "transport", err)
		return nil, &TransportError{Provider: o.providerName, Err: err}
	}
	o.metrics.RecordProviderRequest(ctx, o.providerName, observe.KindLLM, observe.StatusOK)
	span.SetAttributes(
		attribute.Int("usage.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("usage.completion_tokens", resp.Usage.CompletionTokens),
	)

	reply, err := ParseReply(trimJSON(resp.Content), schema)
	if err != nil {
		o.metrics.RecordSchemaFailure(ctx, o.providerName)
		observe.Fail(span, "schema", err)
		observe.Logger(ctx).Warn("conversation: rejected model reply",
			"provider", o.providerName, "err", err, "bytes", len(resp.Content))
		return nil, err
	}
	return reply, nil
}
