// Package memrepo is an in-memory RepositoryManager with the same error
// contract as the PostgreSQL repositories. It backs tests of the sync
// engine and services.
package memrepo

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/conversations"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/messages"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/personas"
)

type entity interface {
	*models.Account | *models.Persona | *models.Conversation | *models.Message
	GetID() string
}

type patch[E entity] interface {
	ApplyTo(E)
}

// Table holds the rows of one entity kind. Err, when set, is returned by
// every operation.
type Table[E entity, P patch[E]] struct {
	mu   sync.Mutex
	name string
	rows map[string]E
	base func(E) *models.Base
	Err  error
}

func newTable[E entity, P patch[E]](name string, base func(E) *models.Base) *Table[E, P] {
	return &Table[E, P]{name: name, rows: map[string]E{}, base: base}
}

func (t *Table[E, P]) Insert(_ context.Context, e E) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	if _, ok := t.rows[e.GetID()]; ok {
		return fmt.Errorf("%s: %w", t.name, common.ErrorAlreadyExists)
	}
	t.rows[e.GetID()] = e
	return nil
}

func (t *Table[E, P]) Update(_ context.Context, id string, p P, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	e, ok := t.rows[id]
	if !ok || t.base(e).DeletedAt != nil {
		return common.ErrorNotFound
	}
	p.ApplyTo(e)
	t.base(e).UpdatedAt = at
	return nil
}

func (t *Table[E, P]) SoftDelete(_ context.Context, id string, at time.Time) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return false, t.Err
	}
	e, ok := t.rows[id]
	if !ok {
		return false, common.ErrorNotFound
	}
	b := t.base(e)
	if b.DeletedAt != nil {
		return false, nil
	}
	b.DeletedAt = &at
	b.UpdatedAt = at
	return true, nil
}

func (t *Table[E, P]) GetByID(_ context.Context, id string) (E, error) {
	return t.find(func(e E) bool { return e.GetID() == id })
}

func (t *Table[E, P]) find(match func(E) bool) (E, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero E
	if t.Err != nil {
		return zero, t.Err
	}
	for _, e := range t.rows {
		if t.base(e).DeletedAt == nil && match(e) {
			return e, nil
		}
	}
	return zero, common.ErrorNotFound
}

// Row returns the stored row including soft-deleted ones.
func (t *Table[E, P]) Row(id string) (E, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.rows[id]
	return e, ok
}

// Len counts stored rows including soft-deleted ones.
func (t *Table[E, P]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

type AccountTable struct {
	*Table[*models.Account, *models.AccountPatch]
}

func (t AccountTable) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	return t.find(func(a *models.Account) bool { return a.Email == email })
}

func (t AccountTable) GetByUsername(_ context.Context, username string) (*models.Account, error) {
	return t.find(func(a *models.Account) bool { return a.Username == username })
}

func (t AccountTable) GetByExternalID(_ context.Context, externalID string) (*models.Account, error) {
	return t.find(func(a *models.Account) bool { return a.ExternalID == externalID })
}

// Manager implements repomanager.RepositoryManager in memory. Every DBTX
// sees the same tables.
type Manager struct {
	AccountRows      AccountTable
	PersonaRows      *Table[*models.Persona, *models.PersonaPatch]
	ConversationRows *Table[*models.Conversation, *models.ConversationPatch]
	MessageRows      *Table[*models.Message, *models.MessagePatch]
}

func New() *Manager {
	return &Manager{
		AccountRows: AccountTable{newTable[*models.Account, *models.AccountPatch]("accounts",
			func(a *models.Account) *models.Base { return &a.Base })},
		PersonaRows: newTable[*models.Persona, *models.PersonaPatch]("personas",
			func(p *models.Persona) *models.Base { return &p.Base }),
		ConversationRows: newTable[*models.Conversation, *models.ConversationPatch]("conversations",
			func(c *models.Conversation) *models.Base { return &c.Base }),
		MessageRows: newTable[*models.Message, *models.MessagePatch]("messages",
			func(m *models.Message) *models.Base { return &m.Base }),
	}
}

func (m *Manager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *Manager) Accounts(dbx.DBTX) accounts.Repository { return m.AccountRows }

func (m *Manager) Personas(dbx.DBTX) personas.Repository { return m.PersonaRows }

func (m *Manager) Conversations(dbx.DBTX) conversations.Repository { return m.ConversationRows }

func (m *Manager) Messages(dbx.DBTX) messages.Repository { return m.MessageRows }
