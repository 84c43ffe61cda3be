package conversations

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, c *models.Conversation) error
	Update(ctx context.Context, id string, patch *models.ConversationPatch, at time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) (bool, error)
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
}
