package engine

import (
	"context"

	"gig-chat/internal/database"
	"gig-chat/internal/models"

	"github.com/rs/zerolog"
)

// ConversationIndex derives a user's conversations from the store on every
// call. Nothing is cached.
type ConversationIndex struct {
	db     database.DBAdapter
	logger zerolog.Logger
}

func NewConversationIndex(db database.DBAdapter, logger zerolog.Logger) *ConversationIndex {
	return &ConversationIndex{db: db, logger: logger}
}

// ConversationsFor returns one entry per counterpart, newest first.
// Counterparts that no longer resolve to a user are left out.
func (c *ConversationIndex) ConversationsFor(ctx context.Context, userID string) ([]*models.Conversation, error) {
	summaries, err := c.db.GetConversationSummaries(ctx, userID)
	if err != nil {
		return nil, err
	}
	models.SortSummaries(summaries)

	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.CounterpartID)
	}
	users, err := c.db.GetUsers(ctx, ids)
	if err != nil {
		return nil, err
	}

	conversations := make([]*models.Conversation, 0, len(summaries))
	for _, s := range summaries {
		other, ok := users[s.CounterpartID]
		if !ok {
			c.logger.Warn().
				Str("user_id", userID).
				Str("counterpart_id", s.CounterpartID).
				Int("unread", s.UnreadCount).
				Msg("conversation counterpart not found, skipping")
			continue
		}
		conversations = append(conversations, &models.Conversation{
			OtherUser:   other,
			LastMessage: s.LastMessage,
			UnreadCount: s.UnreadCount,
		})
	}
	return conversations, nil
}
