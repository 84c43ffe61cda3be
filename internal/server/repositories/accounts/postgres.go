// Package accounts is the PostgreSQL repository for accounts.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

const (
	table   = "accounts"
	columns = `id, external_id, email, username, display_name, avatar_url, bio, created_at, updated_at, deleted_at`
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, a *models.Account) error {
	query :=
		`INSERT INTO accounts (` + columns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.ExternalID, a.Email, a.Username, a.DisplayName, a.AvatarURL, a.Bio,
		a.CreatedAt, a.UpdatedAt, a.DeletedAt)
	if err != nil {
		return dbx.InsertError(table, err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, id string, p *models.AccountPatch, at time.Time) error {
	var a dbx.Assignments
	dbx.SetIf(&a, "email", p.Email)
	dbx.SetIf(&a, "username", p.Username)
	dbx.SetOrNull(&a, "display_name", p.DisplayName, p.Clear.Has(models.FieldDisplayName))
	dbx.SetOrNull(&a, "avatar_url", p.AvatarURL, p.Clear.Has(models.FieldAvatarURL))
	dbx.SetOrNull(&a, "bio", p.Bio, p.Clear.Has(models.FieldBio))
	a.Set("updated_at", at)

	return dbx.ExecUpdate(ctx, r.db, &a, table, id)
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, id string, at time.Time) (bool, error) {
	return dbx.SoftDelete(ctx, r.db, table, id, at)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.getBy(ctx, "id", id)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.getBy(ctx, "email", email)
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	return r.getBy(ctx, "username", username)
}

func (r *PostgresRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Account, error) {
	return r.getBy(ctx, "external_id", externalID)
}

func (r *PostgresRepository) getBy(ctx context.Context, col, value string) (*models.Account, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM accounts
		 WHERE %s = $1 AND deleted_at IS NULL`, columns, col)

	a := &models.Account{}
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&a.ID, &a.ExternalID, &a.Email, &a.Username, &a.DisplayName, &a.AvatarURL, &a.Bio,
		&a.CreatedAt, &a.UpdatedAt, &a.DeletedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}
