// Package messages is the PostgreSQL repository for messages.
package messages

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
	table   = "messages"
	columns = `id, conversation_id, role, content, token_count, created_at, updated_at, deleted_at`
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, m *models.Message) error {
	query :=
		`INSERT INTO messages (` + columns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.ConversationID, m.Role, m.Content, m.TokenCount,
		m.CreatedAt, m.UpdatedAt, m.DeletedAt)
	if err != nil {
		return dbx.InsertError(table, err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, id string, patch *models.MessagePatch, at time.Time) error {
	var a dbx.Assignments
	dbx.SetIf(&a, "content", patch.Content)
	dbx.SetOrNull(&a, "token_count", patch.TokenCount, patch.Clear.Has(models.FieldTokenCount))
	a.Set("updated_at", at)

	return dbx.ExecUpdate(ctx, r.db, &a, table, id)
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, id string, at time.Time) (bool, error) {
	return dbx.SoftDelete(ctx, r.db, table, id, at)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	query :=
		`SELECT ` + columns + ` FROM messages
		 WHERE id = $1 AND deleted_at IS NULL`

	m := &models.Message{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.TokenCount,
		&m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}
