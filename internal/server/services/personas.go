package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/entitycache"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/repomanager"
)

type PersonaService struct {
	personas *entitycache.PersonaLayer
	rt       readThrough[*models.Persona, *models.PersonaPatch]
	accounts *AccountService
	log      logging.Logger
}

func NewPersonaService(db *sql.DB, rm repomanager.RepositoryManager, layer *entitycache.PersonaLayer, accounts *AccountService, log logging.Logger) *PersonaService {
	log = log.With("module", "personas")
	return &PersonaService{
		personas: layer,
		rt: readThrough[*models.Persona, *models.PersonaPatch]{
			layer: layer,
			load: func(ctx context.Context, id string) (*models.Persona, error) {
				return rm.Personas(db).GetByID(ctx, id)
			},
			log: log,
		},
		accounts: accounts,
		log:      log,
	}
}

// Create stores a new persona owned by an existing account.
func (s *PersonaService) Create(ctx context.Context, p *models.Persona) (*models.Persona, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", common.ErrorValidation)
	}
	if _, err := requireExists(ctx, s.accounts.rt, p.AccountID); err != nil {
		return nil, err
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}
	p.ID = id
	p.CreatedAt, p.UpdatedAt, p.DeletedAt = zeroTime, zeroTime, nil

	return s.personas.Create(ctx, p)
}

func (s *PersonaService) Get(ctx context.Context, id string) (*models.Persona, error) {
	return s.rt.get(ctx, id)
}

func (s *PersonaService) Update(ctx context.Context, id string, p *models.PersonaPatch) (*models.Persona, error) {
	return s.rt.update(ctx, id, p)
}

func (s *PersonaService) Delete(ctx context.Context, id string) error {
	return s.rt.delete(ctx, id)
}
