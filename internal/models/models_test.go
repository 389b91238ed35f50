package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomIDIsSymmetric(t *testing.T) {
	assert.Equal(t, RoomID("u1", "u2"), RoomID("u2", "u1"))
	assert.Equal(t, "u1_u2", RoomID("u2", "u1"))
	assert.NotEqual(t, RoomID("u1", "u2"), RoomID("u1", "u3"))
}

func TestSortThreadBreaksTiesByID(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := []*Message{
		{ID: "c", CreatedAt: base.Add(time.Second)},
		{ID: "b", CreatedAt: base},
		{ID: "a", CreatedAt: base},
	}

	SortThread(msgs)

	assert.Equal(t, []string{"a", "b", "c"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestMessageHelpers(t *testing.T) {
	m := &Message{SenderID: "u1", ReceiverID: "u2"}

	assert.True(t, m.Involves("u1", "u2"))
	assert.True(t, m.Involves("u2", "u1"))
	assert.False(t, m.Involves("u1", "u3"))
	assert.Equal(t, "u2", m.Counterpart("u1"))
	assert.Equal(t, "u1", m.Counterpart("u2"))
}

func TestMessageViewWithUnresolvedUser(t *testing.T) {
	m := &Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Content: "hi", ContextID: "j1"}
	sender := &User{ID: "u1", Name: "Ada", Email: "ada@example.com", Role: "employer"}

	view := m.View(sender, nil)

	assert.Equal(t, Participant{ID: "u1", Name: "Ada", Email: "ada@example.com", Role: "employer"}, view.Sender)
	assert.Equal(t, Participant{ID: "u2"}, view.Receiver)
	assert.Equal(t, "hi", view.Content)
	assert.Equal(t, "j1", view.ContextID)
}

func TestConversationViewFromEitherSide(t *testing.T) {
	self := &User{ID: "u1", Name: "Ada"}
	other := &User{ID: "u2", Name: "Bo"}
	conv := &Conversation{
		OtherUser:   other,
		LastMessage: &Message{ID: "m1", SenderID: "u2", ReceiverID: "u1"},
		UnreadCount: 3,
	}

	view := conv.View(self)

	assert.Equal(t, "u2", view.OtherUser.ID)
	assert.Equal(t, "Bo", view.LastMessage.Sender.Name)
	assert.Equal(t, "Ada", view.LastMessage.Receiver.Name)
	assert.Equal(t, 3, view.UnreadCount)
}

func TestSortSummariesNewestFirst(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	summaries := []*ConversationSummary{
		{CounterpartID: "old", LastMessage: &Message{ID: "1", CreatedAt: base}},
		{CounterpartID: "new", LastMessage: &Message{ID: "2", CreatedAt: base.Add(time.Minute)}},
	}

	SortSummaries(summaries)

	assert.Equal(t, "new", summaries[0].CounterpartID)
	assert.Equal(t, "old", summaries[1].CounterpartID)
}

func TestEventEnvelope(t *testing.T) {
	evt, err := NewEvent(EventUserTyping, &TypingSignal{UserID: "u1", IsTyping: true})
	require.NoError(t, err)

	raw, err := json.Marshal(evt)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"user_typing","data":{"userId":"u1","isTyping":true}}`, string(raw))
}
