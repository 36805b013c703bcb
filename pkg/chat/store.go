package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/TrTueTah/ventidole-core/pkg/model"
)

// MembershipStore is the relational source of truth for channels,
// participants, roles and read state.
type MembershipStore interface {
	CreateChannel(ctx context.Context, channel *model.Channel, participants []*model.Participant) error
	GetChannelByID(ctx context.Context, channelID uuid.UUID) (*model.Channel, error)
	GetParticipant(ctx context.Context, channelID, userID uuid.UUID) (*model.Participant, error)
	GetUserChannels(ctx context.Context, userID uuid.UUID) ([]*model.Participant, error)
	AddParticipants(ctx context.Context, channelID uuid.UUID, userIDs []uuid.UUID, role model.ChatRole) ([]uuid.UUID, error)
	IncrementUnread(ctx context.Context, channelID, senderID uuid.UUID) error
	MarkAsRead(ctx context.Context, channelID, userID uuid.UUID) error
	DeactivateParticipant(ctx context.Context, channelID, userID uuid.UUID) error
	BumpChannelActivity(ctx context.Context, channelID uuid.UUID, at time.Time) error
	GetUserByID(ctx context.Context, userID uuid.UUID) (*model.User, error)
	GetNotifiableTokens(ctx context.Context, channelID, senderID uuid.UUID) (map[uuid.UUID]string, error)
}

// MessageStore is the append-only document store for message bodies.
type MessageStore interface {
	Insert(ctx context.Context, msg *model.Message) error
	Get(ctx context.Context, channelKey string, id int64) (*model.Message, error)
	List(ctx context.Context, channelKey string, limit int, beforeID int64) ([]*model.Message, int64, error)
	UpdateContent(ctx context.Context, channelKey string, id int64, content string, at time.Time) error
	SoftDelete(ctx context.Context, channelKey string, id int64, at time.Time) error
	AddReader(ctx context.Context, channelKey string, id int64, userID uuid.UUID) error
	IncrementReplies(ctx context.Context, channelKey string, parentID int64) error
	DecrementReplies(ctx context.Context, channelKey string, parentID int64) error
	ReplyCount(ctx context.Context, channelKey string, parentID int64) (int64, error)
}

// Broadcaster publishes fan-out events to the event bus. Delivery to
// live connections is at-most-once and best-effort.
type Broadcaster interface {
	Publish(ctx context.Context, event model.Event) error
}

// Presence reports whether a user currently has any live connection.
type Presence interface {
	IsOnline(userID uuid.UUID) bool
}
