package session

import (
	"therapy-bot/internal/history"
	"therapy-bot/internal/llm"
)

// dialogue renders the transcript as chat turns: the bot's utterances become
// assistant messages, everything else user messages.
func dialogue(c *history.Context) []llm.Message {
	self := c.Labels().Self
	utterances := c.Utterances()
	out := make([]llm.Message, 0, len(utterances))
	for _, u := range utterances {
		role := llm.RoleUser
		if u.Speaker == self {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: u.Text})
	}
	return out
}
