package conversation

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/MrWong99/flowtalk/internal/prompt"
	"github.com/MrWong99/flowtalk/pkg/types"
)

// Reply is a validated model reply.
type Reply struct {
	Text              string `json:"ai_response_text"`
	Translation       string `json:"ai_response_translation"`
	SuggestedScript   string `json:"suggested_user_script"`
	ScriptTranslation string `json:"script_translation"`
	Feedback          string `json:"feedback,omitempty"`
}

// ParseReply decodes raw as one JSON object and checks it against schema.
// Every declared field must be a string when present, and every required
// field must be present and non-blank. Properties the schema does not
// declare are ignored.
func ParseReply(raw string, schema types.ResponseSchema) (*Reply, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, &SchemaError{Reason: "not a JSON object", Err: err}
	}
	if doc == nil {
		return nil, &SchemaError{Reason: "reply is null"}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &SchemaError{Reason: "trailing data after JSON object"}
	}

	values := make(map[string]string, len(schema.Fields))
	for _, f := range schema.Fields {
		v, ok := doc[f.Name]
		if !ok || v == nil {
			if f.Required {
				return nil, &SchemaError{Field: f.Name, Reason: "is missing"}
			}
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, &SchemaError{Field: f.Name, Reason: "is not a string"}
		}
		if f.Required && strings.TrimSpace(s) == "" {
			return nil, &SchemaError{Field: f.Name, Reason: "is empty"}
		}
		values[f.Name] = s
	}

	return &Reply{
		Text:              values[prompt.FieldResponseText],
		Translation:       values[prompt.FieldResponseTranslation],
		SuggestedScript:   values[prompt.FieldSuggestedScript],
		ScriptTranslation: values[prompt.FieldScriptTranslation],
		Feedback:          values[prompt.FieldFeedback],
	}, nil
}

// trimJSON strips whitespace and a byte-order mark some backends prepend.
func trimJSON(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
}
