package services

import (
	"context"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

// IdentityProvider mirrors account changes into the external identity
// service. Its failures never fail the primary operation.
type IdentityProvider interface {
	UpdateProfile(ctx context.Context, externalID string, p *models.AccountPatch) error
	DeleteUser(ctx context.Context, externalID string) error
}

// NoopIdentityProvider is used when no identity service is configured.
type NoopIdentityProvider struct{}

func (NoopIdentityProvider) UpdateProfile(context.Context, string, *models.AccountPatch) error {
	return nil
}

func (NoopIdentityProvider) DeleteUser(context.Context, string) error { return nil }
