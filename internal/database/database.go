package database

import (
	"context"

	"gig-chat/internal/models"
)

// DBAdapter defines the common interface for database operations.
// MongoDB, PostgreSQL and an in-memory store implement it.
//
// Lookups that miss return a *utils.AppError with a not-found code; every
// other failure is wrapped as utils.ErrStoreUnavailable.
type DBAdapter interface {
	// Connection
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	// User methods. Users belong to the identity subsystem and are never written here.
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error)

	// Job methods, read-only
	GetJob(ctx context.Context, id string) (*models.Job, error)

	// Message methods
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetConversation(ctx context.Context, userA, userB string) ([]*models.Message, error)
	MarkConversationRead(ctx context.Context, receiverID, senderID string) (int64, error)
	// MarkMessagesRead flags only the listed messages, and only those
	// addressed to receiverID.
	MarkMessagesRead(ctx context.Context, receiverID string, ids []string) (int64, error)
	CountUnread(ctx context.Context, receiverID string) (int64, error)
	GetConversationSummaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
