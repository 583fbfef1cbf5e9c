package conversation

import "strings"

// Role identifies who spoke a history entry.
type Role string

const (
	RoleUser Role = "user"
	RoleAI   Role = "ai"
)

// HistoryEntry is one prior line of the conversation. Only the role and the
// spoken text reach the model.
type HistoryEntry struct {
	Role Role
	Text string
}

// RenderTranscript renders history and the new utterance into the single
// user message sent with each turn.
func RenderTranscript(history []HistoryEntry, utterance string) string {
	var sb strings.Builder
	sb.WriteString("Context History:\n")
	for i, h := range history {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if h.Role == RoleUser {
			sb.WriteString("User: ")
		} else {
			sb.WriteString("AI: ")
		}
		sb.WriteString(h.Text)
	}
	sb.WriteString("\n\nUser: ")
	sb.WriteString(utterance)
	sb.WriteString("\n\nRespond in JSON.")
	return sb.String()
}
