package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ChannelType string

const (
	ChannelDirect       ChannelType = "direct"
	ChannelGroup        ChannelType = "group"
	ChannelAnnouncement ChannelType = "announcement"
)

type ChatRole string

const (
	RoleAdmin  ChatRole = "admin"
	RoleMember ChatRole = "member"
)

// Channel is the relational record for a chat channel. Message bodies
// live in the message store under MessageKey; this row owns membership,
// type policy and activity metadata.
type Channel struct {
	bun.BaseModel `bun:"table:chat_channels,alias:c"`

	ID          uuid.UUID   `bun:",pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Name        string      `bun:",nullzero" json:"name,omitempty"`
	Description string      `bun:",nullzero" json:"description,omitempty"`
	Type        ChannelType `bun:",notnull" json:"type"`

	GroupID *uuid.UUID `bun:",nullzero,type:uuid" json:"groupId,omitempty"`
	OwnerID *uuid.UUID `bun:",nullzero,type:uuid" json:"ownerId,omitempty"`

	IsAnnouncement bool `bun:",default:false" json:"isAnnouncement"`

	// MessageKey is the partition key of this channel in the message
	// store. It never changes once assigned.
	MessageKey string `bun:",notnull" json:"messageKey"`

	LastMessageAt *time.Time `bun:",nullzero" json:"lastMessageAt,omitempty"`
	IsActive      bool       `bun:",default:true" json:"isActive"`
	Version       int64      `bun:",default:0" json:"version"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"updatedAt"`

	Participants []*Participant `bun:"rel:has-many,join:id=channel_id" json:"participants,omitempty"`
}
