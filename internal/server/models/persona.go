package models

// Persona is a character owned by an account.
type Persona struct {
	Base
	AccountID    string  `json:"accountId"`
	Name         string  `json:"name"`
	AvatarURL    *string `json:"avatarUrl"`
	Description  *string `json:"description"`
	SystemPrompt string  `json:"systemPrompt"`
	IsPublic     bool    `json:"isPublic"`
}

type PersonaPatch struct {
	Name         *string `json:"name,omitempty"`
	AvatarURL    *string `json:"avatarUrl,omitempty"`
	Description  *string `json:"description,omitempty"`
	SystemPrompt *string `json:"systemPrompt,omitempty"`
	IsPublic     *bool   `json:"isPublic,omitempty"`
	Clear        Clear   `json:"clear,omitempty"`
}

func (p *PersonaPatch) Validate() error {
	return p.Clear.check(map[string]bool{
		FieldAvatarURL:   p.AvatarURL != nil,
		FieldDescription: p.Description != nil,
	})
}

func (p *PersonaPatch) ApplyTo(e *Persona) {
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.AvatarURL != nil {
		e.AvatarURL = p.AvatarURL
	}
	if p.Description != nil {
		e.Description = p.Description
	}
	if p.SystemPrompt != nil {
		e.SystemPrompt = *p.SystemPrompt
	}
	if p.IsPublic != nil {
		e.IsPublic = *p.IsPublic
	}
	if p.Clear.Has(FieldAvatarURL) {
		e.AvatarURL = nil
	}
	if p.Clear.Has(FieldDescription) {
		e.Description = nil
	}
}
