package models

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a conversation.
type Message struct {
	Base
	ConversationID string `json:"conversationId"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	TokenCount     *int   `json:"tokenCount"`
}

type MessagePatch struct {
	Content    *string `json:"content,omitempty"`
	TokenCount *int    `json:"tokenCount,omitempty"`
	Clear      Clear   `json:"clear,omitempty"`
}

func (p *MessagePatch) Validate() error {
	return p.Clear.check(map[string]bool{FieldTokenCount: p.TokenCount != nil})
}

func (p *MessagePatch) ApplyTo(m *Message) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.TokenCount != nil {
		m.TokenCount = p.TokenCount
	}
	if p.Clear.Has(FieldTokenCount) {
		m.TokenCount = nil
	}
}

// ValidRole reports whether r is an accepted message role.
func ValidRole(r string) bool {
	return r == RoleUser || r == RoleAssistant
}
