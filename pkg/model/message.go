package model

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	KindText   MessageKind = "text"
	KindImage  MessageKind = "image"
	KindVideo  MessageKind = "video"
	KindAudio  MessageKind = "audio"
	KindFile   MessageKind = "file"
	KindSystem MessageKind = "system"
)

// Message is the document-store record for a single chat message.
// Order within a channel is total under the snowflake ID, which also
// encodes creation time. SenderName and SenderAvatar are denormalized
// for convenience but are refreshed from the profile source on every
// read path, never trusted from storage.
type Message struct {
	ID         int64     `json:"id,string"`
	ChannelKey string    `json:"-"`
	ChannelID  uuid.UUID `json:"channelId"`
	SenderID   uuid.UUID `json:"senderId"`

	SenderName   string `json:"senderName"`
	SenderAvatar string `json:"senderAvatar,omitempty"`

	Kind    MessageKind `json:"type"`
	Content string      `json:"content"`

	MediaURL     string            `json:"mediaUrl,omitempty"`
	ThumbnailURL string            `json:"thumbnailUrl,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`

	ReplyTo int64 `json:"replyTo,string,omitempty"`

	// ReplyCount lives in the counter table, not on the message row;
	// it is attached on the history read path.
	ReplyCount int64 `json:"replyCount,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	IsDeleted bool     `json:"isDeleted"`
	ReadBy    []string `json:"readBy,omitempty"`
}
