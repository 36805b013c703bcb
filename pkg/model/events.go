package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

// Server -> client events.
const (
	EventNewMessage         EventType = "new_message"
	EventMessageUpdated     EventType = "message_updated"
	EventMessageDeleted     EventType = "message_deleted"
	EventNewChannel         EventType = "new_channel"
	EventUserTyping         EventType = "user_typing"
	EventMessageReadReceipt EventType = "message_read_receipt"
	EventUserStatusChanged  EventType = "user_status_changed"
)

// Client -> server events.
const (
	EventJoinChannel  EventType = "join_channel"
	EventLeaveChannel EventType = "leave_channel"
	EventTypingStart  EventType = "typing_start"
	EventTypingStop   EventType = "typing_stop"
	EventMessageRead  EventType = "message_read"
	EventAck          EventType = "ack"
)

// Event is the fan-out envelope published to the event bus. Routing
// fields decide delivery: ChannelID targets a channel's subscribers,
// TargetUserID targets every connection of one user. ExcludeUserID
// keeps an event away from the originator's own connections.
type Event struct {
	Type          EventType       `json:"event"`
	ChannelID     string          `json:"channelId,omitempty"`
	TargetUserID  string          `json:"targetUserId,omitempty"`
	ExcludeUserID string          `json:"excludeUserId,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent marshals the payload into an envelope. Marshal failures
// cannot happen for the payload types below, so they are swallowed.
func NewEvent(t EventType, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{Type: t, Data: data}
}

// Frame is the wire shape delivered to websocket clients.
type Frame struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type UserTypingPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	UserID    uuid.UUID `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	IsTyping  bool      `json:"isTyping"`
}

type ReadReceiptPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	MessageID int64     `json:"messageId,string"`
	UserID    uuid.UUID `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

type UserStatusPayload struct {
	UserID    uuid.UUID `json:"userId"`
	IsOnline  bool      `json:"isOnline"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageDeletedPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	MessageID int64     `json:"messageId,string"`
}

// Ack is the explicit reply to every client -> server frame.
type Ack struct {
	Event     EventType `json:"event"`
	Success   bool      `json:"success"`
	ChannelID string    `json:"channelId,omitempty"`
	Error     string    `json:"error,omitempty"`
}
