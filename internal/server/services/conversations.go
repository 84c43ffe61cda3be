package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/dmitrijs2005/chatkeeper/internal/server/entitycache"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/dmitrijs2005/chatkeeper/internal/server/repositories/repomanager"
)

var zeroTime time.Time

type ConversationService struct {
	conversations *entitycache.ConversationLayer
	rt            readThrough[*models.Conversation, *models.ConversationPatch]
	accounts      *AccountService
	personas      *PersonaService
	log           logging.Logger
}

func NewConversationService(db *sql.DB, rm repomanager.RepositoryManager, layer *entitycache.ConversationLayer, accounts *AccountService, personas *PersonaService, log logging.Logger) *ConversationService {
	log = log.With("module", "conversations")
	return &ConversationService{
		conversations: layer,
		rt: readThrough[*models.Conversation, *models.ConversationPatch]{
			layer: layer,
			load: func(ctx context.Context, id string) (*models.Conversation, error) {
				return rm.Conversations(db).GetByID(ctx, id)
			},
			log: log,
		},
		accounts: accounts,
		personas: personas,
		log:      log,
	}
}

// Create starts a conversation between an account and a persona. The
// message counter starts at zero.
func (s *ConversationService) Create(ctx context.Context, c *models.Conversation) (*models.Conversation, error) {
	if _, err := requireExists(ctx, s.accounts.rt, c.AccountID); err != nil {
		return nil, err
	}
	if _, err := requireExists(ctx, s.personas.rt, c.PersonaID); err != nil {
		return nil, err
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}
	c.ID = id
	c.CreatedAt, c.UpdatedAt, c.DeletedAt = zeroTime, zeroTime, nil
	c.MessageCount = 0
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = time.Now().UTC().Truncate(models.Precision)
	}

	return s.conversations.Create(ctx, c)
}

func (s *ConversationService) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return s.rt.get(ctx, id)
}

// Update changes the title. Counters are maintained by MessageService.
func (s *ConversationService) Update(ctx context.Context, id string, p *models.ConversationPatch) (*models.Conversation, error) {
	if p.LastMessageAt != nil || p.MessageCount != nil {
		return nil, fmt.Errorf("%w: lastMessageAt and messageCount are read-only", common.ErrorValidation)
	}
	return s.rt.update(ctx, id, p)
}

func (s *ConversationService) Delete(ctx context.Context, id string) error {
	return s.rt.delete(ctx, id)
}

// recordMessage bumps the activity fields after a message was appended.
func (s *ConversationService) recordMessage(ctx context.Context, c *models.Conversation, at time.Time) (*models.Conversation, error) {
	count := c.MessageCount + 1
	return s.rt.update(ctx, c.ID, &models.ConversationPatch{LastMessageAt: &at, MessageCount: &count})
}
