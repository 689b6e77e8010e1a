package eventlog

import (
	"github.com/arkanite/keeper/events"
	"github.com/arkanite/keeper/models"
	"github.com/bwmarrin/discordgo"
)

func (h *Handler) Name() string {
	return "eventlog"
}

func (h *Handler) Categories() []events.Category {
	return []events.Category{
		events.CategoryMember,
		events.CategoryMessage,
		events.CategoryVoice,
		events.CategoryRole,
		events.CategoryChannel,
		events.CategoryModeration,
		events.CategoryServer,
	}
}

func (h *Handler) Init(session *discordgo.Session) {
	go h.deliveryLoop()
}

func (h *Handler) Uninit(session *discordgo.Session) {
	close(h.stop)
}

// OnEvent turns platform events into structured entries. Everything is
// built from typed fields, renderEntry owns the presentation.
func (h *Handler) OnEvent(event events.Event) {
	entry := models.EventlogEntry{
		GuildID:   event.GuildID,
		Category:  string(event.Category),
		CreatedAt: event.CreatedAt,
	}

	switch event.Type {
	case events.TypeMemberJoin:
		if event.Member == nil || event.Member.User == nil {
			return
		}
		entry.Type = models.EventlogTypeMemberJoin
		entry.TargetID = event.Member.User.ID
		entry.TargetType = models.EventlogTargetTypeUser
		entry.Options = append(entry.Options, models.EventlogOption{
			Key: "username", Value: event.Member.User.Username,
		})

	case events.TypeMemberLeave:
		if event.User == nil {
			return
		}
		entry.Type = models.EventlogTypeMemberLeave
		entry.TargetID = event.User.ID
		entry.TargetType = models.EventlogTargetTypeUser
		entry.Options = append(entry.Options, models.EventlogOption{
			Key: "username", Value: event.User.Username,
		})

	case events.TypeMessageUpdate:
		if event.Message == nil {
			return
		}
		entry.Type = models.EventlogTypeMessageUpdate
		entry.TargetID = event.Message.ID
		entry.TargetType = models.EventlogTargetTypeMessage
		if event.Message.Author != nil {
			entry.ActorID = event.Message.Author.ID
		}
		change := models.EventlogChange{Key: "content", NewValue: event.Message.Content}
		if event.MessageBefore != nil {
			change.OldValue = event.MessageBefore.Content
		}
		entry.Changes = append(entry.Changes, change)
		entry.Options = append(entry.Options, models.EventlogOption{
			Key: "channel", Value: event.Message.ChannelID,
		})

	case events.TypeMessageDelete:
		if event.Message == nil {
			return
		}
		entry.Type = models.EventlogTypeMessageDelete
		entry.TargetID = event.Message.ID
		entry.TargetType = models.EventlogTargetTypeMessage
		if event.Message.Author != nil {
			entry.ActorID = event.Message.Author.ID
		}
		if event.Message.Content != "" {
			entry.Options = append(entry.Options, models.EventlogOption{
				Key: "content", Value: event.Message.Content,
			})
		}
		entry.Options = append(entry.Options, models.EventlogOption{
			Key: "channel", Value: event.Message.ChannelID,
		})

	case events.TypeVoiceStateUpdate:
		if event.VoiceState == nil {
			return
		}
		var ok bool
		entry, ok = h.voiceEntry(event)
		if !ok {
			return
		}

	case events.TypeRoleCreate:
		if event.Role == nil {
			return
		}
		entry.Type = models.EventlogTypeRoleCreate
		entry.TargetID = event.Role.ID
		entry.TargetType = models.EventlogTargetTypeRole
		entry.Options = append(entry.Options, models.EventlogOption{
			Key: "name", Value: event.Role.Name,
		})

	case events.TypeRoleDelete:
		if event.Role == nil {
			return
		}
		entry.Type = models.EventlogTypeRoleDelete
		entry.TargetID = event.Role.ID
		entry.TargetType = models.EventlogTargetTypeRole

	case events.TypeRoleUpdate:
		if event.Role == nil {
			return
		}
		entry.Type = models.EventlogTypeRoleUpdate
		entry.TargetID = event.Role.ID
		entry.TargetType = models.EventlogTargetTypeRole
		entry.Options = append(entry.Options, models.EventlogOption{
			Key: "name", Value: event.Role.Name,
		})

	case events.TypeChannelCreate:
		if event.Channel == nil {
			return
		}
		entry.Type = models.EventlogTypeChannelCreate
		entry.TargetID = event.Channel.ID
		entry.TargetType = models.EventlogTargetTypeChannel
		entry.Options = append(entry.Options, models.EventlogOption{
			Key: "name", Value: event.Channel.Name,
		})

	case events.TypeChannelDelete:
		if event.Channel == nil {
			return
		}
		entry.Type = models.EventlogTypeChannelDelete
		entry.TargetID = event.Channel.ID
		entry.TargetType = models.EventlogTargetTypeChannel
		entry.Options = append(entry.Options, models.EventlogOption{
			Key: "name", Value: event.Channel.Name,
		})

	case events.TypeChannelUpdate:
		if event.Channel == nil {
			return
		}
		entry.Type = models.EventlogTypeChannelUpdate
		entry.TargetID = event.Channel.ID
		entry.TargetType = models.EventlogTargetTypeChannel
		entry.Options = append(entry.Options, models.EventlogOption{
			Key: "name", Value: event.Channel.Name,
		})

	case events.TypeBanAdd:
		if event.User == nil {
			return
		}
		entry.Type = models.EventlogTypeBanAdd
		entry.TargetID = event.User.ID
		entry.TargetType = models.EventlogTargetTypeUser
		entry.Options = append(entry.Options, models.EventlogOption{
			Key: "username", Value: event.User.Username,
		})

	case events.TypeBanRemove:
		if event.User == nil {
			return
		}
		entry.Type = models.EventlogTypeBanRemove
		entry.TargetID = event.User.ID
		entry.TargetType = models.EventlogTargetTypeUser

	case events.TypeGuildUpdate:
		if event.Guild == nil {
			return
		}
		entry.Type = models.EventlogTypeGuildUpdate
		entry.TargetID = event.Guild.ID
		entry.TargetType = models.EventlogTargetTypeGuild
		entry.Options = append(entry.Options, models.EventlogOption{
			Key: "name", Value: event.Guild.Name,
		})

	default:
		return
	}

	h.Log(entry)
}

// voiceEntry derives join, leave or move from the last known channel of
// the member.
func (h *Handler) voiceEntry(event events.Event) (models.EventlogEntry, bool) {
	state := event.VoiceState
	key := event.GuildID + ":" + state.UserID

	h.mutex.Lock()
	previous := h.voiceChannels[key]
	if state.ChannelID == "" {
		delete(h.voiceChannels, key)
	} else {
		h.voiceChannels[key] = state.ChannelID
	}
	h.mutex.Unlock()

	entry := models.EventlogEntry{
		GuildID:    event.GuildID,
		Category:   string(event.Category),
		TargetID:   state.UserID,
		TargetType: models.EventlogTargetTypeUser,
		CreatedAt:  event.CreatedAt,
	}

	switch {
	case previous == "" && state.ChannelID != "":
		entry.Type = models.EventlogTypeVoiceJoin
		entry.Options = append(entry.Options, models.EventlogOption{
			Key: "channel", Value: state.ChannelID,
		})
	case previous != "" && state.ChannelID == "":
		entry.Type = models.EventlogTypeVoiceLeave
		entry.Options = append(entry.Options, models.EventlogOption{
			Key: "channel", Value: previous,
		})
	case previous != "" && state.ChannelID != "" && previous != state.ChannelID:
		entry.Type = models.EventlogTypeVoiceMove
		entry.Changes = append(entry.Changes, models.EventlogChange{
			Key: "channel", OldValue: previous, NewValue: state.ChannelID,
		})
	default:
		// mute or deafen toggles keep the channel, not logged
		return entry, false
	}

	return entry, true
}
