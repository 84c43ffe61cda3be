package accounts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, a *models.Account) error
	Update(ctx context.Context, id string, p *models.AccountPatch, at time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Account, error)
}
