package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/entitycache"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/repomanager"
)

// UpdateResult is a successful mutation plus any non-fatal side-effect
// failures the caller should surface.
type UpdateResult struct {
	Account  *models.Account `json:"account,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

// RegisterInput is the data required to create an account.
type RegisterInput struct {
	ExternalID  string  `json:"externalId"`
	Email       string  `json:"email"`
	Username    string  `json:"username"`
	DisplayName *string `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl"`
	Bio         *string `json:"bio"`
}

// AccountService manages accounts:
// - Register: create with email/username uniqueness checks
// - Get/GetByEmail/GetByUsername/GetByExternalID: read-through lookups
// - UpdateProfile/Delete: cache-first mutations mirrored to the identity provider
type AccountService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	accounts    *entitycache.AccountLayer
	rt          readThrough[*models.Account, *models.AccountPatch]
	idp         IdentityProvider
	log         logging.Logger
}

func NewAccountService(db *sql.DB, rm repomanager.RepositoryManager, layer *entitycache.AccountLayer, idp IdentityProvider, log logging.Logger) *AccountService {
	if idp == nil {
		idp = NoopIdentityProvider{}
	}
	log = log.With("module", "accounts")
	return &AccountService{
		db:          db,
		repomanager: rm,
		accounts:    layer,
		rt: readThrough[*models.Account, *models.AccountPatch]{
			layer: layer,
			load: func(ctx context.Context, id string) (*models.Account, error) {
				return rm.Accounts(db).GetByID(ctx, id)
			},
			log: log,
		},
		idp: idp,
		log: log,
	}
}

// Register creates a new account. Email and username must not be taken by
// a cached or stored account.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*models.Account, error) {
	if in.ExternalID == "" || in.Email == "" || in.Username == "" {
		return nil, fmt.Errorf("%w: externalId, email and username are required", common.ErrorValidation)
	}
	if err := s.ensureFree(ctx, "", map[string]string{
		entitycache.FieldEmail:      in.Email,
		entitycache.FieldUsername:   in.Username,
		entitycache.FieldExternalID: in.ExternalID,
	}); err != nil {
		return nil, err
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}
	a := &models.Account{
		Base:        models.Base{ID: id},
		ExternalID:  in.ExternalID,
		Email:       in.Email,
		Username:    in.Username,
		DisplayName: in.DisplayName,
		AvatarURL:   in.AvatarURL,
		Bio:         in.Bio,
	}
	a, err = s.accounts.Create(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("error creating account: %w", err)
	}
	s.log.Info(ctx, "account registered", "id", a.ID)
	return a, nil
}

// ensureFree fails with ErrorAlreadyExists when any field value belongs to
// an account other than self.
func (s *AccountService) ensureFree(ctx context.Context, self string, fields map[string]string) error {
	for field, value := range fields {
		a, err := s.getBy(ctx, field, value)
		if errors.Is(err, common.ErrorNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if a.ID != self {
			return fmt.Errorf("%w: %s %q is taken", common.ErrorAlreadyExists, field, value)
		}
	}
	return nil
}

func (s *AccountService) Get(ctx context.Context, id string) (*models.Account, error) {
	return s.rt.get(ctx, id)
}

func (s *AccountService) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.getBy(ctx, entitycache.FieldEmail, email)
}

func (s *AccountService) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	return s.getBy(ctx, entitycache.FieldUsername, username)
}

func (s *AccountService) GetByExternalID(ctx context.Context, externalID string) (*models.Account, error) {
	return s.getBy(ctx, entitycache.FieldExternalID, externalID)
}

// GetBy resolves one of the indexed fields: email, username or external_id.
func (s *AccountService) GetBy(ctx context.Context, field, value string) (*models.Account, error) {
	switch field {
	case entitycache.FieldEmail, entitycache.FieldUsername, entitycache.FieldExternalID:
		return s.getBy(ctx, field, value)
	}
	return nil, fmt.Errorf("%w: unknown lookup field %q", common.ErrorValidation, field)
}

func (s *AccountService) getBy(ctx context.Context, field, value string) (*models.Account, error) {
	a, ok, err := s.accounts.GetBy(ctx, field, value)
	if err != nil {
		return nil, err
	}
	if ok {
		return a, nil
	}

	repo := s.repomanager.Accounts(s.db)
	switch field {
	case entitycache.FieldEmail:
		a, err = repo.GetByEmail(ctx, value)
	case entitycache.FieldUsername:
		a, err = repo.GetByUsername(ctx, value)
	default:
		a, err = repo.GetByExternalID(ctx, value)
	}
	if err != nil {
		return nil, err
	}
	if err := fill(ctx, s.accounts, a, s.log); err != nil {
		return nil, err
	}
	return a, nil
}

// UpdateProfile applies p and mirrors it to the identity provider. A
// provider failure is reported as a warning; the update stands.
func (s *AccountService) UpdateProfile(ctx context.Context, id string, p *models.AccountPatch) (*UpdateResult, error) {
	fields := map[string]string{}
	if p.Email != nil {
		fields[entitycache.FieldEmail] = *p.Email
	}
	if p.Username != nil {
		fields[entitycache.FieldUsername] = *p.Username
	}
	if err := s.ensureFree(ctx, id, fields); err != nil {
		return nil, err
	}

	a, err := s.rt.update(ctx, id, p)
	if err != nil {
		return nil, err
	}

	res := &UpdateResult{Account: a}
	if err := s.idp.UpdateProfile(ctx, a.ExternalID, p); err != nil {
		s.log.Warn(ctx, "identity provider profile sync failed", "id", id, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("identity provider profile sync failed: %v", err))
	}
	return res, nil
}

// Delete soft-deletes the account and removes it from the identity
// provider. A provider failure is reported as a warning.
func (s *AccountService) Delete(ctx context.Context, id string) (*UpdateResult, error) {
	a, err := s.rt.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.rt.delete(ctx, id); err != nil {
		return nil, err
	}

	res := &UpdateResult{}
	if err := s.idp.DeleteUser(ctx, a.ExternalID); err != nil {
		s.log.Warn(ctx, "identity provider delete failed", "id", id, "error", err)
		res.Warnings = append(res.Warnings, fmt.Sprintf("identity provider delete failed: %v", err))
	}
	return res, nil
}

// Invalidate drops the account from the cache; the next read reloads it.
func (s *AccountService) Invalidate(ctx context.Context, id string) error {
	return s.accounts.Invalidate(ctx, id)
}
