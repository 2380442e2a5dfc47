package agent

import (
	"fmt"
	"log/slog"
)

// JSON and code run denser than prose; 3.5 chars/token keeps the estimate
// conservative enough that the real count stays under the API limit.
const charsPerToken = 3.5

// maxToolResultChars caps what one tool result feeds back to the model.
// The full text already went to the renderer; this is input-budget control.
const maxToolResultChars = 3000

// estimateTokens approximates the token footprint of a history.
func estimateTokens(messages []Message) int {
	chars := 0
	for _, m := range messages {
		chars += m.contentChars()
	}
	return int(float64(chars) / charsPerToken)
}

// trimHistory evicts messages from the front until the estimate fits the
// budget. Eviction goes in pairs (a user turn plus the assistant reply that
// follows it) so the role alternation never breaks, and the last two
// messages — the current turn — are never touched.
func trimHistory(messages []Message, maxTokens int, log *slog.Logger) []Message {
	if maxTokens <= 0 {
		return messages
	}
	removed := 0
	for estimateTokens(messages) > maxTokens && len(messages) > 2 {
		if len(messages) <= 3 {
			// Removing one more would eat into the current turn.
			if len(messages) == 3 {
				messages = messages[1:]
				removed++
			}
			break
		}
		messages = messages[1:]
		removed++
		if len(messages) > 2 && messages[0].Role == RoleAssistant {
			messages = messages[1:]
			removed++
		}
	}
	if removed > 0 {
		log.Info("history_trimmed",
			"removed", removed,
			"remaining", len(messages),
			"estimated_tokens", estimateTokens(messages))
	}
	return messages
}

// TruncateMiddle shortens s to roughly max characters by cutting the middle
// out, keeping the head and tail halves. Error summaries usually live at
// both ends of command output.
func TruncateMiddle(s string, max int) string {
	if len(s) <= max {
		return s
	}
	keep := max / 2
	cut := len(s) - 2*keep
	return s[:keep] + fmt.Sprintf("\n... (%d chars truncated) ...\n", cut) + s[len(s)-keep:]
}
