// Package events defines the normalized platform event that every
// handler consumes. bot.go translates raw gateway payloads into these;
// no ordering is guaranteed across guilds, only within one.
package events

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

type Category string

const (
	CategoryMember     Category = "member"
	CategoryMessage    Category = "message"
	CategoryVoice      Category = "voice"
	CategoryReaction   Category = "reaction"
	CategoryRole       Category = "role"
	CategoryChannel    Category = "channel"
	CategoryModeration Category = "moderation"
	CategoryServer     Category = "server"
)

type Type string

const (
	TypeMemberJoin       Type = "member-join"
	TypeMemberLeave      Type = "member-leave"
	TypeMessageCreate    Type = "message-create"
	TypeMessageUpdate    Type = "message-update"
	TypeMessageDelete    Type = "message-delete"
	TypeReactionAdd      Type = "reaction-add"
	TypeReactionRemove   Type = "reaction-remove"
	TypeVoiceStateUpdate Type = "voice-state-update"
	TypeRoleCreate       Type = "role-create"
	TypeRoleDelete       Type = "role-delete"
	TypeRoleUpdate       Type = "role-update"
	TypeChannelCreate    Type = "channel-create"
	TypeChannelDelete    Type = "channel-delete"
	TypeChannelUpdate    Type = "channel-update"
	TypeBanAdd           Type = "ban-add"
	TypeBanRemove        Type = "ban-remove"
	TypeGuildUpdate      Type = "guild-update"
)

// Event is one normalized platform event. Only the payload fields
// matching the type are set.
type Event struct {
	GuildID   string
	Category  Category
	Type      Type
	CreatedAt time.Time

	Member        *discordgo.Member
	User          *discordgo.User
	Message       *discordgo.Message
	MessageBefore *discordgo.Message
	Reaction      *discordgo.MessageReaction
	VoiceState    *discordgo.VoiceState
	Channel       *discordgo.Channel
	Role          *discordgo.Role
	Guild         *discordgo.Guild
}
