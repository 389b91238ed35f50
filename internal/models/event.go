package models

import "encoding/json"

// Live-channel event names.
const (
	// client -> server
	EventJoinChat    = "join_chat"
	EventLeaveChat   = "leave_chat"
	EventTyping      = "typing"
	EventSendMessage = "send_message"

	// server -> client
	EventNewMessage   = "new_message"
	EventMessageSent  = "message_sent"
	EventMessageAck   = "message_ack"
	EventMessagesRead = "messages_read"
	EventUserTyping   = "user_typing"
	EventError        = "error"
	EventAuthError    = "auth_error"
)

// Event is the envelope of every frame on the live channel.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an envelope.
func NewEvent(name string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{Event: name, Data: raw}, nil
}

// TypingSignal is the payload of user_typing.
type TypingSignal struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// MessageAck is the payload of message_ack, sent only to the session that
// used send_message.
type MessageAck struct {
	ClientID string       `json:"clientId,omitempty"`
	Message  *MessageView `json:"message"`
}

// ReadReceipt is the payload of messages_read.
type ReadReceipt struct {
	ReaderID string `json:"readerId"`
	Count    int64  `json:"count"`
}

// ErrorPayload is the payload of error and auth_error.
type ErrorPayload struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	ClientID string `json:"clientId,omitempty"`
}
