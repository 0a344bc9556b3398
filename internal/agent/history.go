package agent

import (
	"sort"
	"strings"

	"harbor/internal/chatwoot"
	"harbor/internal/llm"
)

// HistoryToMessages converts Chatwoot history into model turns, oldest
// first. Visitor messages become user turns and public outgoing messages
// become assistant turns; private notes, activity and empty messages are
// dropped.
func HistoryToMessages(raw []chatwoot.Message) []llm.Message {
	sorted := make([]chatwoot.Message, len(raw))
	copy(sorted, raw)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt < sorted[j].CreatedAt })
	out := make([]llm.Message, 0, len(sorted))
	for _, m := range sorted {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch {
		case m.MessageType == chatwoot.Incoming:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case m.MessageType == chatwoot.Outgoing && !m.Private:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	return out
}
