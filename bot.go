package main

import (
	"sync"
	"time"

	"github.com/arkanite/keeper/cache"
	"github.com/arkanite/keeper/events"
	"github.com/arkanite/keeper/helpers"
	"github.com/arkanite/keeper/modules"
	"github.com/bwmarrin/discordgo"
)

var botReadyOnce sync.Once

// BotOnReady finishes the boot sequence once the gateway confirmed the
// session: prime the settings cache, initialize the handlers, start the
// scheduler. Reconnects fire Ready again, the work only runs once.
func BotOnReady(session *discordgo.Session, event *discordgo.Ready) {
	botReadyOnce.Do(func() {
		log := cache.GetLogger()
		log.WithField("module", "bot").Info("connected as " + event.User.Username)

		cache.SetSession(session)

		err := helpers.GuildSettingsPrime()
		if err != nil {
			log.WithField("module", "bot").Error("priming guild settings failed: " + err.Error())
		}

		modules.Init(session)

		if taskScheduler != nil {
			helpers.RelaxLog(taskScheduler.Start())
		}

		log.WithField("module", "bot").Info("keeper is ready")
	})
}

// BotDestroy flushes the handlers on shutdown.
func BotDestroy() {
	if cache.HasSession() {
		modules.Uninit(cache.GetSession())
	}
	if taskScheduler != nil {
		taskScheduler.Stop()
	}
}

// BotOnGuildCreate makes sure every guild the bot can see has a config,
// new guilds get the default one. Events for guilds without a config are
// dropped by the dispatcher.
func BotOnGuildCreate(session *discordgo.Session, guild *discordgo.GuildCreate) {
	defer helpers.Recover()

	helpers.Relax(helpers.GuildSettingsEnsure(guild.ID))
}

func BotOnGuildUpdate(session *discordgo.Session, guild *discordgo.GuildUpdate) {
	defer helpers.Recover()

	modules.Dispatch(events.Event{
		GuildID:   guild.ID,
		Category:  events.CategoryServer,
		Type:      events.TypeGuildUpdate,
		CreatedAt: time.Now(),
		Guild:     guild.Guild,
	})
}

func BotOnGuildMemberAdd(session *discordgo.Session, member *discordgo.GuildMemberAdd) {
	defer helpers.Recover()

	modules.Dispatch(events.Event{
		GuildID:   member.GuildID,
		Category:  events.CategoryMember,
		Type:      events.TypeMemberJoin,
		CreatedAt: time.Now(),
		Member:    member.Member,
	})
}

func BotOnGuildMemberRemove(session *discordgo.Session, member *discordgo.GuildMemberRemove) {
	defer helpers.Recover()

	modules.Dispatch(events.Event{
		GuildID:   member.GuildID,
		Category:  events.CategoryMember,
		Type:      events.TypeMemberLeave,
		CreatedAt: time.Now(),
		User:      member.User,
	})
}

func BotOnMessageCreate(session *discordgo.Session, message *discordgo.MessageCreate) {
	defer helpers.Recover()

	if message.Author == nil || message.Author.ID == session.State.User.ID {
		return
	}

	guildID := guildIDForChannel(message.ChannelID)
	if guildID == "" {
		// direct messages carry no automation
		return
	}

	cache.AddMessage(message.Message)

	modules.Dispatch(events.Event{
		GuildID:   guildID,
		Category:  events.CategoryMessage,
		Type:      events.TypeMessageCreate,
		CreatedAt: time.Now(),
		Message:   message.Message,
	})
}

func BotOnMessageUpdate(session *discordgo.Session, message *discordgo.MessageUpdate) {
	defer helpers.Recover()

	if message.Author != nil && message.Author.ID == session.State.User.ID {
		return
	}

	guildID := guildIDForChannel(message.ChannelID)
	if guildID == "" {
		return
	}

	before := cache.GetMessage(message.ChannelID, message.ID)
	cache.AddMessage(message.Message)

	modules.Dispatch(events.Event{
		GuildID:       guildID,
		Category:      events.CategoryMessage,
		Type:          events.TypeMessageUpdate,
		CreatedAt:     time.Now(),
		Message:       message.Message,
		MessageBefore: before,
	})
}

func BotOnMessageDelete(session *discordgo.Session, message *discordgo.MessageDelete) {
	defer helpers.Recover()

	guildID := guildIDForChannel(message.ChannelID)
	if guildID == "" {
		return
	}

	deleted := cache.GetMessage(message.ChannelID, message.ID)
	if deleted == nil {
		deleted = message.Message
	}

	modules.Dispatch(events.Event{
		GuildID:   guildID,
		Category:  events.CategoryMessage,
		Type:      events.TypeMessageDelete,
		CreatedAt: time.Now(),
		Message:   deleted,
	})
}

func BotOnReactionAdd(session *discordgo.Session, reaction *discordgo.MessageReactionAdd) {
	defer helpers.Recover()

	if reaction.UserID == session.State.User.ID {
		return
	}

	guildID := guildIDForChannel(reaction.ChannelID)
	if guildID == "" {
		return
	}

	modules.Dispatch(events.Event{
		GuildID:   guildID,
		Category:  events.CategoryReaction,
		Type:      events.TypeReactionAdd,
		CreatedAt: time.Now(),
		Reaction:  reaction.MessageReaction,
	})
}

func BotOnReactionRemove(session *discordgo.Session, reaction *discordgo.MessageReactionRemove) {
	defer helpers.Recover()

	if reaction.UserID == session.State.User.ID {
		return
	}

	guildID := guildIDForChannel(reaction.ChannelID)
	if guildID == "" {
		return
	}

	modules.Dispatch(events.Event{
		GuildID:   guildID,
		Category:  events.CategoryReaction,
		Type:      events.TypeReactionRemove,
		CreatedAt: time.Now(),
		Reaction:  reaction.MessageReaction,
	})
}

func BotOnVoiceStateUpdate(session *discordgo.Session, voiceState *discordgo.VoiceStateUpdate) {
	defer helpers.Recover()

	modules.Dispatch(events.Event{
		GuildID:    voiceState.GuildID,
		Category:   events.CategoryVoice,
		Type:       events.TypeVoiceStateUpdate,
		CreatedAt:  time.Now(),
		VoiceState: voiceState.VoiceState,
	})
}

func BotOnGuildRoleCreate(session *discordgo.Session, role *discordgo.GuildRoleCreate) {
	defer helpers.Recover()

	modules.Dispatch(events.Event{
		GuildID:   role.GuildID,
		Category:  events.CategoryRole,
		Type:      events.TypeRoleCreate,
		CreatedAt: time.Now(),
		Role:      role.Role,
	})
}

func BotOnGuildRoleUpdate(session *discordgo.Session, role *discordgo.GuildRoleUpdate) {
	defer helpers.Recover()

	modules.Dispatch(events.Event{
		GuildID:   role.GuildID,
		Category:  events.CategoryRole,
		Type:      events.TypeRoleUpdate,
		CreatedAt: time.Now(),
		Role:      role.Role,
	})
}

func BotOnGuildRoleDelete(session *discordgo.Session, role *discordgo.GuildRoleDelete) {
	defer helpers.Recover()

	modules.Dispatch(events.Event{
		GuildID:   role.GuildID,
		Category:  events.CategoryRole,
		Type:      events.TypeRoleDelete,
		CreatedAt: time.Now(),
		Role:      &discordgo.Role{ID: role.RoleID},
	})
}

func BotOnChannelCreate(session *discordgo.Session, channel *discordgo.ChannelCreate) {
	defer helpers.Recover()

	if channel.GuildID == "" {
		return
	}

	modules.Dispatch(events.Event{
		GuildID:   channel.GuildID,
		Category:  events.CategoryChannel,
		Type:      events.TypeChannelCreate,
		CreatedAt: time.Now(),
		Channel:   channel.Channel,
	})
}

func BotOnChannelUpdate(session *discordgo.Session, channel *discordgo.ChannelUpdate) {
	defer helpers.Recover()

	if channel.GuildID == "" {
		return
	}

	modules.Dispatch(events.Event{
		GuildID:   channel.GuildID,
		Category:  events.CategoryChannel,
		Type:      events.TypeChannelUpdate,
		CreatedAt: time.Now(),
		Channel:   channel.Channel,
	})
}

func BotOnChannelDelete(session *discordgo.Session, channel *discordgo.ChannelDelete) {
	defer helpers.Recover()

	if channel.GuildID == "" {
		return
	}

	modules.Dispatch(events.Event{
		GuildID:   channel.GuildID,
		Category:  events.CategoryChannel,
		Type:      events.TypeChannelDelete,
		CreatedAt: time.Now(),
		Channel:   channel.Channel,
	})
}

func BotOnGuildBanAdd(session *discordgo.Session, ban *discordgo.GuildBanAdd) {
	defer helpers.Recover()

	modules.Dispatch(events.Event{
		GuildID:   ban.GuildID,
		Category:  events.CategoryModeration,
		Type:      events.TypeBanAdd,
		CreatedAt: time.Now(),
		User:      ban.User,
	})
}

func BotOnGuildBanRemove(session *discordgo.Session, ban *discordgo.GuildBanRemove) {
	defer helpers.Recover()

	modules.Dispatch(events.Event{
		GuildID:   ban.GuildID,
		Category:  events.CategoryModeration,
		Type:      events.TypeBanRemove,
		CreatedAt: time.Now(),
		User:      ban.User,
	})
}

// guildIDForChannel resolves the owning guild of a channel, empty for
// direct messages.
func guildIDForChannel(channelID string) string {
	channel, err := cache.Channel(channelID)
	if err != nil {
		return ""
	}
	return channel.GuildID
}
