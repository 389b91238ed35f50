package database

import (
	"context"
	"sync"

	"gig-chat/internal/models"
	"gig-chat/internal/utils"
)

// MemoryDB keeps everything in process. It backs tests and DB_TYPE=memory.
type MemoryDB struct {
	mu           sync.RWMutex
	users        map[string]*models.User
	jobs         map[string]*models.Job
	messages     map[string]*models.Message              // MessageID -> Message
	userMessages map[string]map[string][]*models.Message // UserID -> OtherUserID -> Messages
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:        make(map[string]*models.User),
		jobs:         make(map[string]*models.Job),
		messages:     make(map[string]*models.Message),
		userMessages: make(map[string]map[string][]*models.Message),
	}
}

// AddUser registers a user as if the identity subsystem had created it.
func (m *MemoryDB) AddUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

// AddJob registers a job listing.
func (m *MemoryDB) AddJob(j *models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
}

func (m *MemoryDB) Close(ctx context.Context) error { return nil }

func (m *MemoryDB) Ping(ctx context.Context) error { return nil }

func (m *MemoryDB) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, utils.NewUserNotFoundError(id)
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryDB) GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]*models.User, len(ids))
	for _, id := range uniqueIDs(ids) {
		if u, ok := m.users[id]; ok {
			cp := *u
			result[id] = &cp
		}
	}
	return result, nil
}

func (m *MemoryDB) GetJob(ctx context.Context, id string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, utils.NewJobNotFoundError(id)
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryDB) SaveMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.messages[msg.ID]; exists {
		return utils.NewStoreError("save message", utils.NewAppError(utils.ErrInvalidInput, "duplicate message id "+msg.ID, nil))
	}
	stored := *msg
	m.messages[stored.ID] = &stored

	// Store in both users' message lists
	m.threadFor(msg.SenderID)[msg.ReceiverID] = append(m.threadFor(msg.SenderID)[msg.ReceiverID], &stored)
	if msg.SenderID != msg.ReceiverID {
		m.threadFor(msg.ReceiverID)[msg.SenderID] = append(m.threadFor(msg.ReceiverID)[msg.SenderID], &stored)
	}
	return nil
}

func (m *MemoryDB) threadFor(userID string) map[string][]*models.Message {
	threads, exists := m.userMessages[userID]
	if !exists {
		threads = make(map[string][]*models.Message)
		m.userMessages[userID] = threads
	}
	return threads
}

func (m *MemoryDB) GetConversation(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread := m.userMessages[userA][userB]
	out := make([]*models.Message, 0, len(thread))
	for _, msg := range thread {
		cp := *msg
		out = append(out, &cp)
	}
	models.SortThread(out)
	return out, nil
}

func (m *MemoryDB) MarkConversationRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var updated int64
	for _, msg := range m.userMessages[receiverID][senderID] {
		if msg.ReceiverID == receiverID && msg.SenderID == senderID && !msg.IsRead {
			msg.IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (m *MemoryDB) MarkMessagesRead(ctx context.Context, receiverID string, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var updated int64
	for _, id := range uniqueIDs(ids) {
		msg, ok := m.messages[id]
		if ok && msg.ReceiverID == receiverID && !msg.IsRead {
			msg.IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (m *MemoryDB) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, thread := range m.userMessages[receiverID] {
		for _, msg := range thread {
			if msg.ReceiverID == receiverID && !msg.IsRead {
				n++
			}
		}
	}
	return n, nil
}

func (m *MemoryDB) GetConversationSummaries(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summaries := make([]*models.ConversationSummary, 0, len(m.userMessages[userID]))
	for otherID, thread := range m.userMessages[userID] {
		if len(thread) == 0 {
			continue
		}
		summary := &models.ConversationSummary{CounterpartID: otherID}
		for _, msg := range thread {
			if summary.LastMessage == nil || summary.LastMessage.Before(msg) {
				summary.LastMessage = msg
			}
			if msg.ReceiverID == userID && !msg.IsRead {
				summary.UnreadCount++
			}
		}
		cp := *summary.LastMessage
		summary.LastMessage = &cp
		summaries = append(summaries, summary)
	}
	models.SortSummaries(summaries)
	return summaries, nil
}
