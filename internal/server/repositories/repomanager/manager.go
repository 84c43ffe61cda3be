package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/conversations"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/messages"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/personas"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	Personas(db dbx.DBTX) personas.Repository
	Conversations(db dbx.DBTX) conversations.Repository
	Messages(db dbx.DBTX) messages.Repository
}
