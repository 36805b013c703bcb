package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/TrTueTah/ventidole-core/pkg/model"
)

type CreateChannelRequest struct {
	Name           string            `json:"name,omitempty"`
	Description    string            `json:"description,omitempty"`
	Type           model.ChannelType `json:"type"`
	GroupID        *uuid.UUID        `json:"groupId,omitempty"`
	OwnerID        *uuid.UUID        `json:"ownerId,omitempty"`
	IsAnnouncement bool              `json:"isAnnouncement,omitempty"`
	ParticipantIDs []uuid.UUID       `json:"participantIds,omitempty"`
}

type SendMessageRequest struct {
	ChannelID    uuid.UUID         `json:"channelId"`
	Kind         model.MessageKind `json:"type"`
	Content      string            `json:"content"`
	MediaURL     string            `json:"mediaUrl,omitempty"`
	ThumbnailURL string            `json:"thumbnailUrl,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ReplyTo      int64             `json:"replyTo,string,omitempty"`
}

type AddParticipantsRequest struct {
	ChannelID uuid.UUID   `json:"channelId"`
	UserIDs   []uuid.UUID `json:"userIds"`
}

type MarkAsReadRequest struct {
	ChannelID uuid.UUID `json:"channelId"`
}

type UpdateMessageRequest struct {
	ChannelID uuid.UUID `json:"channelId"`
	Content   string    `json:"content"`
}

// ChannelView decorates a channel with the viewer's own read state.
type ChannelView struct {
	*model.Channel
	UnreadCount int64      `json:"unreadCount"`
	LastReadAt  *time.Time `json:"lastReadAt,omitempty"`
	IsMuted     bool       `json:"isMuted"`
}

// MessagePage is one page of history plus the cursor for the next one.
type MessagePage struct {
	Messages   []*model.Message `json:"messages"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

type AddParticipantsResult struct {
	Added int64 `json:"added"`
}
