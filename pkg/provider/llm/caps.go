package llm

import (
	"strings"

	"github.com/MrWong99/flowtalk/pkg/types"
)

// Family overrides capabilities for model names starting with Prefix.
// Zero fields keep the base value.
type Family struct {
	Prefix          string
	ContextWindow   int
	MaxOutputTokens int
	// NoSchema marks families that ignore native structured output.
	NoSchema bool
}

// LookupCapabilities applies the first family in table whose prefix matches
// model (case-insensitively) on top of base. Order table from most to least
// specific prefix.
func LookupCapabilities(model string, base types.ModelCapabilities, table []Family) types.ModelCapabilities {
	name := strings.ToLower(model)
	for _, f := range table {
		if !strings.HasPrefix(name, f.Prefix) {
			continue
		}
		if f.ContextWindow > 0 {
			base.ContextWindow = f.ContextWindow
		}
		if f.MaxOutputTokens > 0 {
			base.MaxOutputTokens = f.MaxOutputTokens
		}
		if f.NoSchema {
			base.SupportsResponseSchema = false
		}
		break
	}
	return base
}
