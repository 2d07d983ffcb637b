package llm

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Prompt is the full input to a completion call. Messages are ordered
// oldest-first and end with the user turn that needs an answer.
type Prompt struct {
	Messages []Message `json:"messages"`
}

// System returns the content of the first system message, if any.
func (p *Prompt) System() (string, bool) {
	for _, m := range p.Messages {
		if m.Role == RoleSystem {
			return m.Content, true
		}
	}
	return "", false
}

// HasRole reports whether any message in msgs was authored by role.
func HasRole(msgs []Message, role Role) bool {
	for _, m := range msgs {
		if m.Role == role {
			return true
		}
	}
	return false
}
