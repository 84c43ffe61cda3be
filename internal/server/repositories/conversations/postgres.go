// Package conversations is the PostgreSQL repository for conversations.
package conversations

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
	table   = "conversations"
	columns = `id, account_id, persona_id, title, last_message_at, message_count, created_at, updated_at, deleted_at`
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, c *models.Conversation) error {
	query :=
		`INSERT INTO conversations (` + columns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.AccountID, c.PersonaID, c.Title, c.LastMessageAt, c.MessageCount,
		c.CreatedAt, c.UpdatedAt, c.DeletedAt)
	if err != nil {
		return dbx.InsertError(table, err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, id string, patch *models.ConversationPatch, at time.Time) error {
	var a dbx.Assignments
	dbx.SetOrNull(&a, "title", patch.Title, patch.Clear.Has(models.FieldTitle))
	dbx.SetIf(&a, "last_message_at", patch.LastMessageAt)
	dbx.SetIf(&a, "message_count", patch.MessageCount)
	a.Set("updated_at", at)

	return dbx.ExecUpdate(ctx, r.db, &a, table, id)
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, id string, at time.Time) (bool, error) {
	return dbx.SoftDelete(ctx, r.db, table, id, at)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	query :=
		`SELECT ` + columns + ` FROM conversations
		 WHERE id = $1 AND deleted_at IS NULL`

	c := &models.Conversation{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.AccountID, &c.PersonaID, &c.Title, &c.LastMessageAt, &c.MessageCount,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}
