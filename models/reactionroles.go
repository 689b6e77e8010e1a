package models

import (
	"time"

	"github.com/globalsign/mgo/bson"
)

const (
	ReactionRolesTable MongoDbCollection = "reaction_roles"
)

// ReactionRolesEntry binds one (message, emoji) pair to a role.
// Several bindings may point at the same message.
type ReactionRolesEntry struct {
	ID              bson.ObjectId `bson:"_id,omitempty"`
	GuildID         string
	ChannelID       string
	MessageID       string
	EmojiName       string
	RoleID          string
	CreatedByUserID string
	CreatedAt       time.Time
}
