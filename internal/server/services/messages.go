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

type MessageService struct {
	messages      *entitycache.MessageLayer
	rt            readThrough[*models.Message, *models.MessagePatch]
	conversations *ConversationService
	log           logging.Logger
}

func NewMessageService(db *sql.DB, rm repomanager.RepositoryManager, layer *entitycache.MessageLayer, conversations *ConversationService, log logging.Logger) *MessageService {
	log = log.With("module", "messages")
	return &MessageService{
		messages: layer,
		rt: readThrough[*models.Message, *models.MessagePatch]{
			layer: layer,
			load: func(ctx context.Context, id string) (*models.Message, error) {
				return rm.Messages(db).GetByID(ctx, id)
			},
			log: log,
		},
		conversations: conversations,
		log:           log,
	}
}

// Append adds m to the conversation and bumps the conversation's
// lastMessageAt and messageCount. The message is kept if the counter
// update fails; the error is logged.
func (s *MessageService) Append(ctx context.Context, conversationID string, m *models.Message) (*models.Message, error) {
	if !models.ValidRole(m.Role) {
		return nil, fmt.Errorf("%w: role must be %q or %q", common.ErrorValidation, models.RoleUser, models.RoleAssistant)
	}
	conv, err := requireExists(ctx, s.conversations.rt, conversationID)
	if err != nil {
		return nil, err
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}
	m.ID = id
	m.ConversationID = conversationID
	m.CreatedAt, m.UpdatedAt, m.DeletedAt = zeroTime, zeroTime, nil

	m, err = s.messages.Create(ctx, m)
	if err != nil {
		return nil, err
	}

	if _, err := s.conversations.recordMessage(ctx, conv, m.CreatedAt); err != nil {
		s.log.Error(ctx, "conversation activity update failed", "conversation_id", conversationID, "id", m.ID, "error", err)
	}
	return m, nil
}

// Create appends m to m.ConversationID.
func (s *MessageService) Create(ctx context.Context, m *models.Message) (*models.Message, error) {
	return s.Append(ctx, m.ConversationID, m)
}

func (s *MessageService) Get(ctx context.Context, id string) (*models.Message, error) {
	return s.rt.get(ctx, id)
}

func (s *MessageService) Update(ctx context.Context, id string, p *models.MessagePatch) (*models.Message, error) {
	return s.rt.update(ctx, id, p)
}

func (s *MessageService) Delete(ctx context.Context, id string) error {
	return s.rt.delete(ctx, id)
}
