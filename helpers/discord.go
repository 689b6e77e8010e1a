package helpers

import (
	"time"

	"github.com/arkanite/keeper/cache"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

// Discord is the outbound command surface of the platform. Handlers talk
// to it instead of the raw session so their behavior can be exercised
// against a fake platform. The session-backed implementation retries
// transient failures with exponential backoff; permission rejections are
// terminal.
type Discord interface {
	SendMessage(channelID string, content string) (messageID string, err error)
	RoleAdd(guildID string, userID string, roleID string) error
	RoleRemove(guildID string, userID string, roleID string) error
	KickMember(guildID string, userID string, reason string) error
	BanMember(guildID string, userID string, reason string) error
	CreateVoiceChannel(guildID string, name string, parentID string) (channelID string, err error)
	DeleteChannel(channelID string) error
	MoveMember(guildID string, userID string, channelID string) error
	GrantChannelOwner(channelID string, userID string) error
	CreateDMChannel(userID string) (channelID string, err error)
	EditChannelName(channelID string, name string) error
	MessageExists(channelID string, messageID string) error
	RoleExists(guildID string, roleID string) error
	ChannelMessages(channelID string, limit int, beforeID string) ([]*discordgo.Message, error)
	BulkDeleteMessages(channelID string, messageIDs []string) error
	GuildMemberCount(guildID string) (int, error)
	VoiceChannelOccupancy(guildID string, channelID string) (int, error)
	MemberUsername(guildID string, userID string) (string, error)
}

const (
	outboundAttempts       = 4
	outboundInitialBackoff = 250 * time.Millisecond
)

// NewDiscord returns the session-backed outbound implementation.
func NewDiscord() Discord {
	return &sessionDiscord{}
}

type sessionDiscord struct{}

// withRetry runs $call with bounded exponential backoff. Only transient
// failures are retried; the last error is returned classified.
func withRetry(call func() error) error {
	var err error
	backoffDuration := outboundInitialBackoff

	for attempt := 0; attempt < outboundAttempts; attempt++ {
		err = call()
		if err == nil {
			return nil
		}
		if IsDiscordPermission(err) {
			return errors.Wrap(ErrPermissionDenied, err.Error())
		}
		if !IsDiscordTransient(err) {
			return err
		}

		time.Sleep(backoffDuration)
		backoffDuration *= 2
	}

	return err
}

func (d *sessionDiscord) SendMessage(channelID string, content string) (string, error) {
	var messageID string
	err := withRetry(func() error {
		message, err := cache.GetSession().ChannelMessageSend(channelID, content)
		if err == nil {
			messageID = message.ID
		}
		return err
	})
	return messageID, err
}

func (d *sessionDiscord) RoleAdd(guildID string, userID string, roleID string) error {
	return withRetry(func() error {
		return cache.GetSession().GuildMemberRoleAdd(guildID, userID, roleID)
	})
}

func (d *sessionDiscord) RoleRemove(guildID string, userID string, roleID string) error {
	return withRetry(func() error {
		return cache.GetSession().GuildMemberRoleRemove(guildID, userID, roleID)
	})
}

func (d *sessionDiscord) KickMember(guildID string, userID string, reason string) error {
	return withRetry(func() error {
		return cache.GetSession().GuildMemberDeleteWithReason(guildID, userID, reason)
	})
}

func (d *sessionDiscord) BanMember(guildID string, userID string, reason string) error {
	return withRetry(func() error {
		return cache.GetSession().GuildBanCreateWithReason(guildID, userID, reason, 0)
	})
}

func (d *sessionDiscord) CreateVoiceChannel(guildID string, name string, parentID string) (string, error) {
	var channelID string
	err := withRetry(func() error {
		channel, err := cache.GetSession().GuildChannelCreate(guildID, name, discordgo.ChannelTypeGuildVoice)
		if err != nil {
			return err
		}
		channelID = channel.ID

		if parentID != "" {
			_, err = cache.GetSession().ChannelEditComplex(channel.ID, &discordgo.ChannelEdit{
				ParentID: parentID,
			})
		}
		return err
	})
	return channelID, err
}

func (d *sessionDiscord) DeleteChannel(channelID string) error {
	return withRetry(func() error {
		_, err := cache.GetSession().ChannelDelete(channelID)
		return err
	})
}

func (d *sessionDiscord) MoveMember(guildID string, userID string, channelID string) error {
	return withRetry(func() error {
		return cache.GetSession().GuildMemberMove(guildID, userID, channelID)
	})
}

func (d *sessionDiscord) GrantChannelOwner(channelID string, userID string) error {
	return withRetry(func() error {
		return cache.GetSession().ChannelPermissionSet(
			channelID, userID, "member",
			discordgo.PermissionManageChannels|discordgo.PermissionVoiceMoveMembers, 0,
		)
	})
}

func (d *sessionDiscord) CreateDMChannel(userID string) (string, error) {
	var channelID string
	err := withRetry(func() error {
		channel, err := cache.GetSession().UserChannelCreate(userID)
		if err == nil {
			channelID = channel.ID
		}
		return err
	})
	return channelID, err
}

func (d *sessionDiscord) EditChannelName(channelID string, name string) error {
	return withRetry(func() error {
		_, err := cache.GetSession().ChannelEdit(channelID, name)
		return err
	})
}

func (d *sessionDiscord) MessageExists(channelID string, messageID string) error {
	_, err := cache.GetSession().ChannelMessage(channelID, messageID)
	return err
}

func (d *sessionDiscord) RoleExists(guildID string, roleID string) error {
	guild, err := cache.GetSession().State.Guild(guildID)
	if err == nil {
		for _, role := range guild.Roles {
			if role.ID == roleID {
				return nil
			}
		}
	}

	roles, err := cache.GetSession().GuildRoles(guildID)
	if err != nil {
		return err
	}
	for _, role := range roles {
		if role.ID == roleID {
			return nil
		}
	}
	return errors.Wrapf(ErrStaleBinding, "role %s not found in guild %s", roleID, guildID)
}

func (d *sessionDiscord) ChannelMessages(channelID string, limit int, beforeID string) ([]*discordgo.Message, error) {
	var messages []*discordgo.Message
	err := withRetry(func() error {
		var err error
		messages, err = cache.GetSession().ChannelMessages(channelID, limit, beforeID, "", "")
		return err
	})
	return messages, err
}

func (d *sessionDiscord) BulkDeleteMessages(channelID string, messageIDs []string) error {
	return withRetry(func() error {
		return cache.GetSession().ChannelMessagesBulkDelete(channelID, messageIDs)
	})
}

// VoiceChannelOccupancy counts the members connected to one voice
// channel, from the gateway state.
func (d *sessionDiscord) VoiceChannelOccupancy(guildID string, channelID string) (int, error) {
	guild, err := cache.GetSession().State.Guild(guildID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, state := range guild.VoiceStates {
		if state.ChannelID == channelID {
			count++
		}
	}
	return count, nil
}

func (d *sessionDiscord) MemberUsername(guildID string, userID string) (string, error) {
	member, err := cache.GetSession().State.Member(guildID, userID)
	if err != nil {
		member, err = cache.GetSession().GuildMember(guildID, userID)
		if err != nil {
			return "", err
		}
	}
	if member.User == nil {
		return "", errors.New("member has no user")
	}
	return member.User.Username, nil
}

func (d *sessionDiscord) GuildMemberCount(guildID string) (int, error) {
	guild, err := cache.GetSession().State.Guild(guildID)
	if err != nil {
		guild, err = cache.GetSession().Guild(guildID)
		if err != nil {
			return 0, err
		}
	}
	return guild.MemberCount, nil
}
