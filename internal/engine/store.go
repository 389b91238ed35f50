package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gig-chat/internal/database"
	"gig-chat/internal/models"
	"gig-chat/internal/utils"

	"github.com/google/uuid"
)

// AppendParams describes a message before the store accepts it.
type AppendParams struct {
	SenderID   string
	ReceiverID string
	Content    string
	ContextID  string
}

// MessageStore is the only writer of messages. It validates input, resolves
// the receiver, checks the optional job context and assigns id and createdAt
// from the server clock.
type MessageStore struct {
	db        database.DBAdapter
	maxLength int
	clock     func() time.Time
	newID     func() string
}

func NewMessageStore(db database.DBAdapter, maxLength int) *MessageStore {
	return &MessageStore{
		db:        db,
		maxLength: maxLength,
		clock:     defaultClock,
		newID:     newMessageID,
	}
}

// Mongo keeps milliseconds, so every backend gets millisecond timestamps
// and the returned message equals the stored one.
func defaultClock() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// UUIDv7 ids sort by creation time, which makes them a stable tiebreak.
func newMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Validate checks everything that needs no lookup.
func (s *MessageStore) Validate(p AppendParams) error {
	if p.SenderID == "" {
		return utils.NewUnauthorizedError("sender is not authenticated")
	}
	if p.ReceiverID == "" {
		return utils.NewValidationError("receiverId is required")
	}
	if p.SenderID == p.ReceiverID {
		return utils.NewValidationError("cannot send a message to yourself")
	}
	if strings.TrimSpace(p.Content) == "" {
		return utils.NewValidationError("message content is required")
	}
	if utf8.RuneCountInString(p.Content) > s.maxLength {
		return utils.NewValidationError(fmt.Sprintf("message content exceeds %d characters", s.maxLength))
	}
	return nil
}

// Append persists a new message. Nothing is written unless every check passes.
func (s *MessageStore) Append(ctx context.Context, p AppendParams) (*models.Message, error) {
	if err := s.Validate(p); err != nil {
		return nil, err
	}
	if _, err := s.db.GetUser(ctx, p.ReceiverID); err != nil {
		return nil, err
	}
	if p.ContextID != "" {
		if err := s.checkContext(ctx, p); err != nil {
			return nil, err
		}
	}

	msg := &models.Message{
		ID:         s.newID(),
		SenderID:   p.SenderID,
		ReceiverID: p.ReceiverID,
		Content:    p.Content,
		ContextID:  p.ContextID,
		CreatedAt:  s.clock(),
		IsRead:     false,
	}
	if err := s.db.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// checkContext requires the job to exist and to be posted by one of the two
// participants.
func (s *MessageStore) checkContext(ctx context.Context, p AppendParams) error {
	job, err := s.db.GetJob(ctx, p.ContextID)
	if err != nil {
		return err
	}
	if job.EmployerID != p.SenderID && job.EmployerID != p.ReceiverID {
		return utils.NewForbiddenError("neither participant posted job " + p.ContextID)
	}
	return nil
}

// ListBetween returns the thread of a and b in thread order. It is symmetric.
func (s *MessageStore) ListBetween(ctx context.Context, a, b string) ([]*models.Message, error) {
	msgs, err := s.db.GetConversation(ctx, a, b)
	if err != nil {
		return nil, err
	}
	models.SortThread(msgs)
	return msgs, nil
}

// MarkRead flags the unread messages from senderID to receiverID and returns
// how many changed. A second call with nothing new returns 0.
func (s *MessageStore) MarkRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	if receiverID == "" || senderID == "" {
		return 0, utils.NewValidationError("both participants are required")
	}
	return s.db.MarkConversationRead(ctx, receiverID, senderID)
}

// MarkListedRead flags the given messages addressed to receiverID. Messages
// that arrived after the caller listed the thread stay unread.
func (s *MessageStore) MarkListedRead(ctx context.Context, receiverID string, ids []string) (int64, error) {
	if receiverID == "" {
		return 0, utils.NewValidationError("receiver is required")
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return s.db.MarkMessagesRead(ctx, receiverID, ids)
}

// UnreadCountFor totals unread messages addressed to receiverID.
func (s *MessageStore) UnreadCountFor(ctx context.Context, receiverID string) (int64, error) {
	return s.db.CountUnread(ctx, receiverID)
}
