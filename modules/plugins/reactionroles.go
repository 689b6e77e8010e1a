package plugins

import (
	"time"

	"github.com/arkanite/keeper/events"
	"github.com/arkanite/keeper/helpers"
	"github.com/arkanite/keeper/models"
	"github.com/bwmarrin/discordgo"
	"github.com/globalsign/mgo/bson"
	"github.com/pkg/errors"
)

// BindingStore persists reaction role bindings.
type BindingStore interface {
	BindingsFor(guildID string, channelID string, messageID string, emojiName string) ([]models.ReactionRolesEntry, error)
	AllBindings(guildID string) ([]models.ReactionRolesEntry, error)
	Insert(entry models.ReactionRolesEntry) error
	Delete(id bson.ObjectId) error
	DeleteForMessage(guildID string, channelID string, messageID string) error
}

// ReactionRoles grants and revokes roles when members react on bound
// messages. Grant and revoke go through the platform's idempotent role
// endpoints, so duplicate deliveries cannot double-apply.
type ReactionRoles struct {
	store   BindingStore
	discord helpers.Discord
	now     func() time.Time
}

func NewReactionRoles() *ReactionRoles {
	return &ReactionRoles{
		store:   &mdbBindingStore{},
		discord: helpers.NewDiscord(),
		now:     time.Now,
	}
}

func (r *ReactionRoles) Name() string {
	return "reactionroles"
}

func (r *ReactionRoles) Categories() []events.Category {
	return []events.Category{events.CategoryReaction, events.CategoryMessage}
}

func (r *ReactionRoles) Init(session *discordgo.Session) {
}

func (r *ReactionRoles) OnEvent(event events.Event) {
	switch event.Type {
	case events.TypeReactionAdd:
		if event.Reaction != nil {
			r.apply(event, true)
		}
	case events.TypeReactionRemove:
		if event.Reaction != nil {
			r.apply(event, false)
		}
	case events.TypeMessageDelete:
		// bindings on a deleted message are stale
		if event.Message != nil {
			helpers.RelaxLog(r.dropMessageBindings(event.GuildID, event.Message.ChannelID, event.Message.ID))
		}
	}
}

func (r *ReactionRoles) dropMessageBindings(guildID string, channelID string, messageID string) error {
	return r.store.DeleteForMessage(guildID, channelID, messageID)
}

func (r *ReactionRoles) apply(event events.Event, grant bool) {
	reaction := event.Reaction

	bindings, err := r.store.BindingsFor(event.GuildID, reaction.ChannelID, reaction.MessageID, reaction.Emoji.Name)
	helpers.Relax(err)

	for _, binding := range bindings {
		// a binding whose role vanished is stale and gets dropped
		if err = r.discord.RoleExists(binding.GuildID, binding.RoleID); err != nil {
			if errors.Cause(err) == helpers.ErrStaleBinding {
				helpers.RelaxLog(r.store.Delete(binding.ID))
				continue
			}
			helpers.RelaxLog(err)
			continue
		}

		if grant {
			err = r.discord.RoleAdd(binding.GuildID, reaction.UserID, binding.RoleID)
		} else {
			err = r.discord.RoleRemove(binding.GuildID, reaction.UserID, binding.RoleID)
		}
		helpers.RelaxLog(err)
	}
}

// BindReactionRole creates a binding after verifying both the message
// and the role exist.
func (r *ReactionRoles) BindReactionRole(guildID string, channelID string, messageID string, emojiName string, roleID string, createdByUserID string) error {
	if emojiName == "" || roleID == "" {
		return errors.Wrap(helpers.ErrInvalidAmount, "emoji and role are required")
	}

	if err := r.discord.MessageExists(channelID, messageID); err != nil {
		return errors.Wrap(err, "message not found")
	}
	if err := r.discord.RoleExists(guildID, roleID); err != nil {
		return err
	}

	existing, err := r.store.BindingsFor(guildID, channelID, messageID, emojiName)
	if err != nil {
		return err
	}
	for _, binding := range existing {
		if binding.RoleID == roleID {
			// binding already exists, nothing to do
			return nil
		}
	}

	return r.store.Insert(models.ReactionRolesEntry{
		GuildID:         guildID,
		ChannelID:       channelID,
		MessageID:       messageID,
		EmojiName:       emojiName,
		RoleID:          roleID,
		CreatedByUserID: createdByUserID,
		CreatedAt:       r.now(),
	})
}

// UnbindReactionRole removes every binding of the (message, emoji) pair,
// or only the one for $roleID if given.
func (r *ReactionRoles) UnbindReactionRole(guildID string, channelID string, messageID string, emojiName string, roleID string) error {
	bindings, err := r.store.BindingsFor(guildID, channelID, messageID, emojiName)
	if err != nil {
		return err
	}

	for _, binding := range bindings {
		if roleID != "" && binding.RoleID != roleID {
			continue
		}
		if err = r.store.Delete(binding.ID); err != nil {
			return err
		}
	}
	return nil
}

// Bindings lists every binding of one guild.
func (r *ReactionRoles) Bindings(guildID string) ([]models.ReactionRolesEntry, error) {
	return r.store.AllBindings(guildID)
}

type mdbBindingStore struct{}

func (s *mdbBindingStore) BindingsFor(guildID string, channelID string, messageID string, emojiName string) ([]models.ReactionRolesEntry, error) {
	var entries []models.ReactionRolesEntry
	err := helpers.MdbAll(
		helpers.MdbCollection(models.ReactionRolesTable).Find(bson.M{
			"guildid":   guildID,
			"channelid": channelID,
			"messageid": messageID,
			"emojiname": emojiName,
		}),
		&entries,
	)
	return entries, err
}

func (s *mdbBindingStore) AllBindings(guildID string) ([]models.ReactionRolesEntry, error) {
	var entries []models.ReactionRolesEntry
	err := helpers.MdbAll(
		helpers.MdbCollection(models.ReactionRolesTable).Find(bson.M{"guildid": guildID}),
		&entries,
	)
	return entries, err
}

func (s *mdbBindingStore) Insert(entry models.ReactionRolesEntry) error {
	_, err := helpers.MDbInsert(models.ReactionRolesTable, entry)
	return err
}

func (s *mdbBindingStore) Delete(id bson.ObjectId) error {
	return helpers.MDbDelete(models.ReactionRolesTable, id)
}

func (s *mdbBindingStore) DeleteForMessage(guildID string, channelID string, messageID string) error {
	return helpers.MdbDeleteQuery(models.ReactionRolesTable, bson.M{
		"guildid":   guildID,
		"channelid": channelID,
		"messageid": messageID,
	})
}
