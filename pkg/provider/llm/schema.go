package llm

import (
	"fmt"
	"strings"

	"github.com/MrWong99/flowtalk/pkg/types"
)

// DescribeSchema renders s as plain-text output instructions for backends
// without native structured output. The text is appended to the system prompt.
func DescribeSchema(s types.ResponseSchema) string {
	var b strings.Builder
	b.WriteString("Reply with a single JSON object and nothing else. No markdown fences.\n")
	b.WriteString("The object has these string properties:\n")
	for _, f := range s.Fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		fmt.Fprintf(&b, "- %q (%s)", f.Name, req)
		if f.Description != "" {
			b.WriteString(": ")
			b.WriteString(f.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// StripCodeFence removes a surrounding ```json fence that some models add
// despite being told not to.
func StripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
