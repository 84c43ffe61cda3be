package models

// Account is a registered user. ExternalID is the identity-provider uid.
type Account struct {
	Base
	ExternalID  string  `json:"externalId"`
	Email       string  `json:"email"`
	Username    string  `json:"username"`
	DisplayName *string `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl"`
	Bio         *string `json:"bio"`
}

// AccountPatch is a partial account update. Nil fields are left unchanged;
// fields named in Clear are set to null.
type AccountPatch struct {
	Email       *string `json:"email,omitempty"`
	Username    *string `json:"username,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	Clear       Clear   `json:"clear,omitempty"`
}

func (p *AccountPatch) Validate() error {
	return p.Clear.check(map[string]bool{
		FieldDisplayName: p.DisplayName != nil,
		FieldAvatarURL:   p.AvatarURL != nil,
		FieldBio:         p.Bio != nil,
	})
}

// ApplyTo merges the supplied fields into a.
func (p *AccountPatch) ApplyTo(a *Account) {
	if p.Email != nil {
		a.Email = *p.Email
	}
	if p.Username != nil {
		a.Username = *p.Username
	}
	if p.DisplayName != nil {
		a.DisplayName = p.DisplayName
	}
	if p.AvatarURL != nil {
		a.AvatarURL = p.AvatarURL
	}
	if p.Bio != nil {
		a.Bio = p.Bio
	}
	if p.Clear.Has(FieldDisplayName) {
		a.DisplayName = nil
	}
	if p.Clear.Has(FieldAvatarURL) {
		a.AvatarURL = nil
	}
	if p.Clear.Has(FieldBio) {
		a.Bio = nil
	}
}
