package models

import (
	"sort"
	"time"
)

// Message is a single direct message. Every field except IsRead is fixed
// once the store has accepted it.
type Message struct {
	ID         string    `json:"id" db:"id"`
	SenderID   string    `json:"senderId" db:"sender_id"`
	ReceiverID string    `json:"receiverId" db:"receiver_id"`
	Content    string    `json:"content" db:"content"`
	ContextID  string    `json:"contextId,omitempty" db:"context_id"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	IsRead     bool      `json:"isRead" db:"is_read"`
}

// Involves reports whether the message belongs to the thread between a and b.
func (m *Message) Involves(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Counterpart returns the other participant from userID's point of view.
func (m *Message) Counterpart(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Before is the thread order: createdAt, then id.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// SortThread sorts messages into thread order in place.
func SortThread(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
}

// MessageView is the external representation of a Message.
type MessageView struct {
	ID        string      `json:"id"`
	Sender    Participant `json:"sender"`
	Receiver  Participant `json:"receiver"`
	Content   string      `json:"content"`
	ContextID string      `json:"contextId,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	IsRead    bool        `json:"isRead"`
}

// View projects m using the resolved users. Either user may be nil.
func (m *Message) View(sender, receiver *User) *MessageView {
	return &MessageView{
		ID:        m.ID,
		Sender:    ParticipantFor(m.SenderID, sender),
		Receiver:  ParticipantFor(m.ReceiverID, receiver),
		Content:   m.Content,
		ContextID: m.ContextID,
		CreatedAt: m.CreatedAt,
		IsRead:    m.IsRead,
	}
}
