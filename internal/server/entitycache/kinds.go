package entitycache

import (
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/server/cachestore"
	"github.com/dmitrijs2005/chatkeeper/internal/server/jobs"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

// Account index fields.
const (
	FieldEmail      = "email"
	FieldUsername   = "username"
	FieldExternalID = "external_id"
)

var AccountKind = Kind[*models.Account]{
	Name:  "account",
	Table: jobs.TableAccounts,
	TTL:   time.Hour,
	New:   func() *models.Account { return &models.Account{} },
	Indexes: []Index[*models.Account]{
		{Field: FieldEmail, Value: func(a *models.Account) string { return a.Email }},
		{Field: FieldUsername, Value: func(a *models.Account) string { return a.Username }},
		{Field: FieldExternalID, Value: func(a *models.Account) string { return a.ExternalID }},
	},
}

var PersonaKind = Kind[*models.Persona]{
	Name:  "persona",
	Table: jobs.TablePersonas,
	TTL:   30 * time.Minute,
	New:   func() *models.Persona { return &models.Persona{} },
}

var ConversationKind = Kind[*models.Conversation]{
	Name:  "conversation",
	Table: jobs.TableConversations,
	TTL:   15 * time.Minute,
	New:   func() *models.Conversation { return &models.Conversation{} },
}

var MessageKind = Kind[*models.Message]{
	Name:  "message",
	Table: jobs.TableMessages,
	TTL:   10 * time.Minute,
	New:   func() *models.Message { return &models.Message{} },
}

type (
	AccountLayer      = Layer[*models.Account, *models.AccountPatch]
	PersonaLayer      = Layer[*models.Persona, *models.PersonaPatch]
	ConversationLayer = Layer[*models.Conversation, *models.ConversationPatch]
	MessageLayer      = Layer[*models.Message, *models.MessagePatch]
)

func NewAccounts(store cachestore.Store, d Dispatcher, opts ...Option) *AccountLayer {
	return New[*models.Account, *models.AccountPatch](AccountKind, store, d, opts...)
}

func NewPersonas(store cachestore.Store, d Dispatcher, opts ...Option) *PersonaLayer {
	return New[*models.Persona, *models.PersonaPatch](PersonaKind, store, d, opts...)
}

func NewConversations(store cachestore.Store, d Dispatcher, opts ...Option) *ConversationLayer {
	return New[*models.Conversation, *models.ConversationPatch](ConversationKind, store, d, opts...)
}

func NewMessages(store cachestore.Store, d Dispatcher, opts ...Option) *MessageLayer {
	return New[*models.Message, *models.MessagePatch](MessageKind, store, d, opts...)
}
