// Package types defines the shared types used across all FlowTalk packages.
//
// These types are the common vocabulary between providers, the conversation
// orchestrator, and the session controller. Each package still owns its own
// domain types; only data structures that cross package boundaries live here
// so that provider packages never import internal ones.
package types

import "time"

// Message roles understood by every LLM provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AudioFrame is a chunk of raw PCM audio captured from the user's microphone.
type AudioFrame struct {
	// Data holds 16-bit signed little-endian PCM samples.
	Data []byte

	// SampleRate in Hz (16000 for speech recognition input).
	SampleRate int

	// Channels is 1 for mono capture.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Transcript is a speech-to-text result. Both interim and final results use it.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// IsFinal reports whether the recogniser has committed to this text.
	IsFinal bool

	// Confidence is the overall score in [0, 1]. Zero when the provider does
	// not report one.
	Confidence float64

	// Duration is the length of the recognised utterance.
	Duration time.Duration
}

// Message is a single entry in an LLM conversation.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text of the message.
	Content string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsResponseSchema indicates the backend enforces a JSON schema on the
	// reply natively. When false the schema is only described in the prompt.
	SupportsResponseSchema bool
}

// SchemaField is one string property of a ResponseSchema.
type SchemaField struct {
	// Name is the JSON property name.
	Name string

	// Description tells the model what belongs in the field.
	Description string

	// Required marks the property as mandatory in every reply.
	Required bool
}

// ResponseSchema describes a flat JSON object whose properties are all strings.
// It is the provider-neutral form of a structured-output contract; each LLM
// backend translates it into its SDK's native schema type.
type ResponseSchema struct {
	// Name identifies the schema for backends that require one (OpenAI).
	Name string

	// Description is an optional summary of the object.
	Description string

	// Fields lists the properties in declaration order.
	Fields []SchemaField
}

// RequiredFields returns the names of all required fields in declaration order.
func (s ResponseSchema) RequiredFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// JSONSchema renders the schema as a JSON-Schema document suitable for SDKs
// that accept a generic map.
func (s ResponseSchema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		prop := map[string]any{"type": "string"}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		props[f.Name] = prop
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             s.RequiredFields(),
		"additionalProperties": false,
	}
	if s.Description != "" {
		doc["description"] = s.Description
	}
	return doc
}

// VoiceProfile describes a TTS voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g. "Kore").
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}
