package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the profile source of truth. Sender display fields on
// messages are refreshed from here on every read and write path.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID          uuid.UUID `bun:",pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Email       string    `bun:",notnull,unique" json:"email"`
	DisplayName string    `bun:",nullzero" json:"displayName,omitempty"`
	AvatarURL   string    `bun:",nullzero" json:"avatarUrl,omitempty"`
	Role        string    `bun:",notnull,default:'fan'" json:"role"`

	IsOnline    bool   `bun:",default:false" json:"isOnline"`
	DeviceToken string `bun:",nullzero" json:"-"`

	IsActive  bool      `bun:",default:true" json:"isActive"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"createdAt"`
}
