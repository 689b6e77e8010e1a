package models

import (
	"time"

	"github.com/globalsign/mgo/bson"
)

const (
	EventlogTable MongoDbCollection = "eventlog"
)

const (
	EventlogTypeMemberJoin    = "Member_Join"
	EventlogTypeMemberLeave   = "Member_Leave"
	EventlogTypeMessageCreate = "Message_Create"
	EventlogTypeMessageUpdate = "Message_Update"
	EventlogTypeMessageDelete = "Message_Delete"
	EventlogTypeVoiceJoin     = "Voice_Join"
	EventlogTypeVoiceLeave    = "Voice_Leave"
	EventlogTypeVoiceMove     = "Voice_Move"
	EventlogTypeChannelCreate = "Channel_Create"
	EventlogTypeChannelDelete = "Channel_Delete"
	EventlogTypeChannelUpdate = "Channel_Update"
	EventlogTypeRoleCreate    = "Role_Create"
	EventlogTypeRoleDelete    = "Role_Delete"
	EventlogTypeRoleUpdate    = "Role_Update"
	EventlogTypeBanAdd        = "Ban_Add"
	EventlogTypeBanRemove     = "Ban_Remove"
	EventlogTypeGuildUpdate   = "Guild_Update"
	EventlogTypeLevelUp       = "Keeper_Level_Up"
	EventlogTypeRaidDetected  = "Keeper_Raid_Detected"

	EventlogTargetTypeUser    = "user"
	EventlogTargetTypeChannel = "channel"
	EventlogTargetTypeRole    = "role"
	EventlogTargetTypeGuild   = "guild"
	EventlogTargetTypeMessage = "message"
)

type EventlogChange struct {
	Key      string
	OldValue string
	NewValue string
}

type EventlogOption struct {
	Key   string
	Value string
}

// EventlogEntry is one structured entry for the logging router. Entries are
// built from typed fields, never from free-text concatenation.
type EventlogEntry struct {
	ID         bson.ObjectId `bson:"_id,omitempty"`
	GuildID    string
	Category   string // LogCategory*
	Type       string // EventlogType*
	ActorID    string
	TargetID   string
	TargetType string // EventlogTargetType*
	Reason     string
	Changes    []EventlogChange
	Options    []EventlogOption
	CreatedAt  time.Time
}
