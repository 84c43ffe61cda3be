package models

import "time"

// Conversation is a chat between an account and a persona.
type Conversation struct {
	Base
	AccountID     string    `json:"accountId"`
	PersonaID     string    `json:"personaId"`
	Title         *string   `json:"title"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	MessageCount  int       `json:"messageCount"`
}

type ConversationPatch struct {
	Title         *string    `json:"title,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	MessageCount  *int       `json:"messageCount,omitempty"`
	Clear         Clear      `json:"clear,omitempty"`
}

func (p *ConversationPatch) Validate() error {
	return p.Clear.check(map[string]bool{FieldTitle: p.Title != nil})
}

func (p *ConversationPatch) ApplyTo(c *Conversation) {
	if p.Title != nil {
		c.Title = p.Title
	}
	if p.LastMessageAt != nil {
		c.LastMessageAt = *p.LastMessageAt
	}
	if p.MessageCount != nil {
		c.MessageCount = *p.MessageCount
	}
	if p.Clear.Has(FieldTitle) {
		c.Title = nil
	}
}
