package models

import (
	"sort"
	"strings"
)

// ConversationSummary is what a store computes for one counterpart of a
// user: the latest message in the pair and the unread count addressed to
// the user.
type ConversationSummary struct {
	CounterpartID string
	LastMessage   *Message
	UnreadCount   int
}

// Conversation is a summary with the counterpart resolved.
type Conversation struct {
	OtherUser   *User
	LastMessage *Message
	UnreadCount int
}

// ConversationView is the external representation of a Conversation.
type ConversationView struct {
	OtherUser   Participant  `json:"otherUser"`
	LastMessage *MessageView `json:"lastMessage"`
	UnreadCount int          `json:"unreadCount"`
}

// View projects c from self's point of view.
func (c *Conversation) View(self *User) *ConversationView {
	var sender, receiver *User
	if c.LastMessage.SenderID == c.OtherUser.ID {
		sender, receiver = c.OtherUser, self
	} else {
		sender, receiver = self, c.OtherUser
	}
	return &ConversationView{
		OtherUser:   ParticipantFor(c.OtherUser.ID, c.OtherUser),
		LastMessage: c.LastMessage.View(sender, receiver),
		UnreadCount: c.UnreadCount,
	}
}

// SortSummaries orders summaries newest last message first.
func SortSummaries(summaries []*ConversationSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[j].LastMessage.Before(summaries[i].LastMessage)
	})
}

// RoomID is the shared room of a and b. Both participants compute the same
// id without a lookup.
func RoomID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return strings.Join([]string{a, b}, "_")
}
