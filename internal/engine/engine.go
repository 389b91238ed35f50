package engine

import (
	"context"
	"time"

	"gig-chat/internal/database"
	"gig-chat/internal/models"
	"gig-chat/internal/utils"

	"github.com/rs/zerolog"
)

// Fanout is the live side of delivery. It is implemented by the websocket
// hub; publishing never blocks on a slow session.
type Fanout interface {
	PublishToUser(ctx context.Context, userID string, evt *models.Event) (int, error)
	PublishToRoom(ctx context.Context, roomID, excludeUserID string, evt *models.Event) (int, error)
	PublishToSession(ctx context.Context, sessionID string, evt *models.Event) (bool, error)
	ResolveSession(ctx context.Context, sessionID string) (string, error)
}

// RateLimiter caps sends per user over a window. Refund gives back one
// allowed event that did not end up happening.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Refund(ctx context.Context, key string, window time.Duration) error
}

// Options tune the engine. Zero values fall back to defaults.
type Options struct {
	MaxMessageLength int
	SendRateLimit    int
	SendRateWindow   time.Duration
	// Limiter may be nil, which disables rate limiting.
	Limiter RateLimiter
}

// Engine ties the message store, the conversation index and the live
// fan-out together. Both send paths go through it.
type Engine struct {
	db            database.DBAdapter
	store         *MessageStore
	conversations *ConversationIndex
	pipeline      *Pipeline
	fanout        Fanout
	metrics       *utils.MetricsCollector
	logger        zerolog.Logger
}

func NewEngine(db database.DBAdapter, fanout Fanout, metrics *utils.MetricsCollector, logger zerolog.Logger, opts Options) *Engine {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 2000
	}
	if opts.SendRateWindow <= 0 {
		opts.SendRateWindow = time.Minute
	}
	logger = logger.With().Str("component", "engine").Logger()
	store := NewMessageStore(db, opts.MaxMessageLength)

	return &Engine{
		db:            db,
		store:         store,
		conversations: NewConversationIndex(db, logger),
		pipeline: &Pipeline{
			db:         db,
			store:      store,
			fanout:     fanout,
			limiter:    opts.Limiter,
			rateLimit:  opts.SendRateLimit,
			rateWindow: opts.SendRateWindow,
			metrics:    metrics,
			logger:     logger,
		},
		fanout:  fanout,
		metrics: metrics,
		logger:  logger,
	}
}

// MaxMessageLength is the longest content, in characters, a send accepts.
func (e *Engine) MaxMessageLength() int {
	return e.store.maxLength
}

// Store exposes the message store for read-side callers and tests.
func (e *Engine) Store() *MessageStore {
	return e.store
}

// SendViaRequest is the request/response send path.
func (e *Engine) SendViaRequest(ctx context.Context, senderID, receiverID, content, contextID string) (*Delivery, error) {
	return e.pipeline.send(ctx, PathRequest, AppendParams{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		ContextID:  contextID,
	})
}

// SendViaChannel is the live-channel send path. The sender is the user bound
// to sessionID, and only that session receives the acknowledgment.
func (e *Engine) SendViaChannel(ctx context.Context, sessionID, receiverID, content, contextID, clientID string) (*Delivery, error) {
	senderID, err := e.fanout.ResolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if senderID == "" {
		return nil, utils.NewUnauthorizedError("session is not authenticated")
	}

	delivery, err := e.pipeline.send(ctx, PathChannel, AppendParams{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		ContextID:  contextID,
	})
	if err != nil {
		return nil, err
	}

	ack, err := models.NewEvent(models.EventMessageAck, &models.MessageAck{ClientID: clientID, Message: delivery.View})
	if err == nil {
		_, err = e.fanout.PublishToSession(ctx, sessionID, ack)
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("session_id", sessionID).Str("message_id", delivery.Message.ID).Msg("failed to acknowledge message")
	}
	return delivery, nil
}

// StartConversation opens a thread from a worker to the employer of a job.
// The first message carries the job as its context.
func (e *Engine) StartConversation(ctx context.Context, workerID, employerID, jobID, initialMessage string) (*Delivery, error) {
	if employerID == "" || jobID == "" {
		return nil, utils.NewValidationError("employerId and jobId are required")
	}
	job, err := e.db.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.EmployerID != employerID {
		return nil, utils.NewValidationError("Invalid employer for this job")
	}
	if initialMessage == "" {
		initialMessage = "Hi! I'm interested in your job posting: " + job.Title
	}
	return e.SendViaRequest(ctx, workerID, employerID, initialMessage, jobID)
}

// Conversations returns the caller's conversation list, ready for the wire.
func (e *Engine) Conversations(ctx context.Context, userID string) ([]*models.ConversationView, error) {
	start := time.Now()
	defer func() { e.metrics.AddOperationLatency("list_conversations", time.Since(start)) }()

	conversations, err := e.conversations.ConversationsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	self, err := e.resolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]*models.ConversationView, 0, len(conversations))
	for _, c := range conversations {
		views = append(views, c.View(self))
	}
	return views, nil
}

// Thread returns the messages between userID and otherUserID in thread
// order. With markRead the listed messages addressed to userID are flagged
// read and the counterpart is told about it.
func (e *Engine) Thread(ctx context.Context, userID, otherUserID string, markRead bool) ([]*models.MessageView, error) {
	if otherUserID == "" {
		return nil, utils.NewValidationError("otherUserId is required")
	}
	msgs, err := e.store.ListBetween(ctx, userID, otherUserID)
	if err != nil {
		return nil, err
	}
	users, err := e.db.GetUsers(ctx, []string{userID, otherUserID})
	if err != nil {
		return nil, err
	}

	// only what the caller is about to see gets marked
	var unread []string
	for _, m := range msgs {
		if m.ReceiverID == userID && !m.IsRead {
			unread = append(unread, m.ID)
		}
	}
	if markRead && len(unread) > 0 {
		n, err := e.store.MarkListedRead(ctx, userID, unread)
		if err != nil {
			return nil, err
		}
		e.sendReceipt(ctx, userID, otherUserID, n)
		for _, m := range msgs {
			if m.ReceiverID == userID {
				m.IsRead = true
			}
		}
	}

	views := make([]*models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, m.View(users[m.SenderID], users[m.ReceiverID]))
	}
	return views, nil
}

// MarkRead flags everything otherUserID sent to readerID as read. When
// anything changed, the counterpart gets a messages_read event.
func (e *Engine) MarkRead(ctx context.Context, readerID, otherUserID string) (int64, error) {
	n, err := e.store.MarkRead(ctx, readerID, otherUserID)
	if err != nil {
		return 0, err
	}
	e.sendReceipt(ctx, readerID, otherUserID, n)
	return n, nil
}

func (e *Engine) sendReceipt(ctx context.Context, readerID, senderID string, n int64) {
	if n == 0 {
		return
	}
	evt, err := models.NewEvent(models.EventMessagesRead, &models.ReadReceipt{ReaderID: readerID, Count: n})
	if err == nil {
		_, err = e.fanout.PublishToUser(ctx, senderID, evt)
	}
	if err != nil {
		e.logger.Warn().Err(err).Str("reader_id", readerID).Str("sender_id", senderID).Msg("failed to publish read receipt")
	}
}

// UnreadCount totals the caller's unread messages across all conversations.
func (e *Engine) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return e.store.UnreadCountFor(ctx, userID)
}

// SetTyping tells the other members of the room shared by userID and
// counterpartID that userID started or stopped typing. Nothing is stored.
func (e *Engine) SetTyping(ctx context.Context, userID, counterpartID string, isTyping bool) error {
	if counterpartID == "" {
		return utils.NewValidationError("receiverId is required")
	}
	evt, err := models.NewEvent(models.EventUserTyping, &models.TypingSignal{UserID: userID, IsTyping: isTyping})
	if err != nil {
		return err
	}
	n, err := e.fanout.PublishToRoom(ctx, models.RoomID(userID, counterpartID), userID, evt)
	if err != nil {
		return err
	}
	e.metrics.TypingSignal()
	e.metrics.FanoutDelivered(models.EventUserTyping, n)
	return nil
}

func (e *Engine) resolveUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := e.db.GetUser(ctx, userID)
	if err != nil {
		if utils.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}
