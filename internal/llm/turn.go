package llm

import "github.com/unisoflta/chatbot-back/internal/domain"

// Role of a conversation turn in a completion request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one (role, content) entry of a completion payload. Turns are
// built fresh from persisted messages and never stored.
type Turn struct {
	Role    Role
	Content string
}

// TurnsFromMessages maps persisted messages, oldest first, to turns: user
// messages become user turns and bot messages assistant turns.
func TurnsFromMessages(msgs []domain.Message) []Turn {
	out := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		role := RoleUser
		if m.Sender == domain.SenderBot {
			role = RoleAssistant
		}
		out = append(out, Turn{Role: role, Content: m.Content})
	}
	return out
}
