package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Participant ties a user to a channel. Exactly one row exists per
// (channel, user) pair; leaving a channel flips IsActive instead of
// deleting the row.
type Participant struct {
	bun.BaseModel `bun:"table:chat_participants,alias:p"`

	ChannelID uuid.UUID `bun:",pk,type:uuid" json:"channelId"`
	UserID    uuid.UUID `bun:",pk,type:uuid" json:"userId"`

	Role ChatRole `bun:",notnull,default:'member'" json:"role"`

	LastReadAt  *time.Time `bun:",nullzero" json:"lastReadAt,omitempty"`
	UnreadCount int64      `bun:",default:0" json:"unreadCount"`
	IsMuted     bool       `bun:",default:false" json:"isMuted"`
	IsActive    bool       `bun:",default:true" json:"isActive"`

	JoinedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"joinedAt"`

	Channel *Channel `bun:"rel:belongs-to,join:channel_id=id" json:"channel,omitempty"`
	User    *User    `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
}
