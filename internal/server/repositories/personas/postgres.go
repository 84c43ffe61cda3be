// Package personas is the PostgreSQL repository for personas.
package personas

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
	table   = "personas"
	columns = `id, account_id, name, avatar_url, description, system_prompt, is_public, created_at, updated_at, deleted_at`
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, p *models.Persona) error {
	query :=
		`INSERT INTO personas (` + columns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.AccountID, p.Name, p.AvatarURL, p.Description, p.SystemPrompt, p.IsPublic,
		p.CreatedAt, p.UpdatedAt, p.DeletedAt)
	if err != nil {
		return dbx.InsertError(table, err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, id string, patch *models.PersonaPatch, at time.Time) error {
	var a dbx.Assignments
	dbx.SetIf(&a, "name", patch.Name)
	dbx.SetOrNull(&a, "avatar_url", patch.AvatarURL, patch.Clear.Has(models.FieldAvatarURL))
	dbx.SetOrNull(&a, "description", patch.Description, patch.Clear.Has(models.FieldDescription))
	dbx.SetIf(&a, "system_prompt", patch.SystemPrompt)
	dbx.SetIf(&a, "is_public", patch.IsPublic)
	a.Set("updated_at", at)

	return dbx.ExecUpdate(ctx, r.db, &a, table, id)
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, id string, at time.Time) (bool, error) {
	return dbx.SoftDelete(ctx, r.db, table, id, at)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Persona, error) {
	query :=
		`SELECT ` + columns + ` FROM personas
		 WHERE id = $1 AND deleted_at IS NULL`

	p := &models.Persona{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.AccountID, &p.Name, &p.AvatarURL, &p.Description, &p.SystemPrompt, &p.IsPublic,
		&p.CreatedAt, &p.UpdatedAt, &p.DeletedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}
