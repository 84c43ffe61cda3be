package models

import (
	"fmt"
	"slices"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
)

// Nullable field names accepted in a patch's clear list.
const (
	FieldDisplayName = "displayName"
	FieldAvatarURL   = "avatarUrl"
	FieldBio         = "bio"
	FieldDescription = "description"
	FieldTitle       = "title"
	FieldTokenCount  = "tokenCount"
)

// Clear lists nullable fields a patch sets to null. A JSON null in a patch
// body reads the same as an absent field, so clearing is spelled out.
type Clear []string

// Has reports whether field is cleared.
func (c Clear) Has(field string) bool { return slices.Contains(c, field) }

// check rejects names outside nullable and fields that are both set and
// cleared. nullable maps each clearable field to whether the patch sets it.
func (c Clear) check(nullable map[string]bool) error {
	for _, f := range c {
		set, ok := nullable[f]
		if !ok {
			return fmt.Errorf("%w: field %q cannot be cleared", common.ErrorValidation, f)
		}
		if set {
			return fmt.Errorf("%w: field %q is both set and cleared", common.ErrorValidation, f)
		}
	}
	return nil
}
