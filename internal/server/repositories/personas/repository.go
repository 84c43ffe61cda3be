package personas

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, p *models.Persona) error
	Update(ctx context.Context, id string, patch *models.PersonaPatch, at time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Persona, error)
}
