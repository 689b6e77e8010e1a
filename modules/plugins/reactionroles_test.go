package plugins

import (
	"testing"
	"time"

	"github.com/arkanite/keeper/events"
	"github.com/arkanite/keeper/models"
	"github.com/bwmarrin/discordgo"
	"github.com/globalsign/mgo/bson"
)

type memoryBindingStore struct {
	bindings []models.ReactionRolesEntry
	nextID   int
}

func (s *memoryBindingStore) BindingsFor(guildID string, channelID string, messageID string, emojiName string) ([]models.ReactionRolesEntry, error) {
	var matches []models.ReactionRolesEntry
	for _, binding := range s.bindings {
		if binding.GuildID == guildID && binding.ChannelID == channelID &&
			binding.MessageID == messageID && binding.EmojiName == emojiName {
			matches = append(matches, binding)
		}
	}
	return matches, nil
}

func (s *memoryBindingStore) AllBindings(guildID string) ([]models.ReactionRolesEntry, error) {
	var matches []models.ReactionRolesEntry
	for _, binding := range s.bindings {
		if binding.GuildID == guildID {
			matches = append(matches, binding)
		}
	}
	return matches, nil
}

func (s *memoryBindingStore) Insert(entry models.ReactionRolesEntry) error {
	s.nextID++
	entry.ID = bson.NewObjectId()
	s.bindings = append(s.bindings, entry)
	return nil
}

func (s *memoryBindingStore) Delete(id bson.ObjectId) error {
	kept := s.bindings[:0]
	for _, binding := range s.bindings {
		if binding.ID != id {
			kept = append(kept, binding)
		}
	}
	s.bindings = kept
	return nil
}

func (s *memoryBindingStore) DeleteForMessage(guildID string, channelID string, messageID string) error {
	kept := s.bindings[:0]
	for _, binding := range s.bindings {
		if binding.GuildID != guildID || binding.ChannelID != channelID || binding.MessageID != messageID {
			kept = append(kept, binding)
		}
	}
	s.bindings = kept
	return nil
}

func testReactionRoles() (*ReactionRoles, *memoryBindingStore, *fakeDiscord) {
	store := &memoryBindingStore{}
	discord := newFakeDiscord()
	return &ReactionRoles{
		store:   store,
		discord: discord,
		now:     time.Now,
	}, store, discord
}

func reactionEvent(eventType events.Type, guildID string, userID string, messageID string, emojiName string) events.Event {
	return events.Event{
		GuildID:  guildID,
		Category: events.CategoryReaction,
		Type:     eventType,
		Reaction: &discordgo.MessageReaction{
			UserID:    userID,
			ChannelID: "channel-1",
			MessageID: messageID,
			Emoji:     discordgo.Emoji{Name: emojiName},
		},
	}
}

func TestReactionRolesGrantAndRevoke(t *testing.T) {
	plugin, store, discord := testReactionRoles()
	discord.existingRoles["guild-1:role-1"] = true

	store.Insert(models.ReactionRolesEntry{
		GuildID: "guild-1", ChannelID: "channel-1", MessageID: "message-1",
		EmojiName: "⭐", RoleID: "role-1",
	})

	plugin.OnEvent(reactionEvent(events.TypeReactionAdd, "guild-1", "user-1", "message-1", "⭐"))
	if len(discord.rolesAdded) != 1 || discord.rolesAdded[0] != "guild-1:user-1:role-1" {
		t.Fatalf("expected one grant, got %v", discord.rolesAdded)
	}

	plugin.OnEvent(reactionEvent(events.TypeReactionRemove, "guild-1", "user-1", "message-1", "⭐"))
	if len(discord.rolesRemoved) != 1 || discord.rolesRemoved[0] != "guild-1:user-1:role-1" {
		t.Fatalf("expected one revoke, got %v", discord.rolesRemoved)
	}
}

func TestReactionRolesDuplicateDeliveryIsIdempotent(t *testing.T) {
	plugin, store, discord := testReactionRoles()
	discord.existingRoles["guild-1:role-1"] = true

	store.Insert(models.ReactionRolesEntry{
		GuildID: "guild-1", ChannelID: "channel-1", MessageID: "message-1",
		EmojiName: "⭐", RoleID: "role-1",
	})

	event := reactionEvent(events.TypeReactionAdd, "guild-1", "user-1", "message-1", "⭐")
	plugin.OnEvent(event)
	plugin.OnEvent(event)

	// the grant endpoint is idempotent, issuing it twice leaves the
	// member with the role exactly once; both calls go through
	if len(discord.rolesAdded) != 2 {
		t.Fatalf("expected both deliveries to issue the idempotent grant, got %d", len(discord.rolesAdded))
	}
}

func TestReactionRolesUnboundEmojiIgnored(t *testing.T) {
	plugin, store, discord := testReactionRoles()
	discord.existingRoles["guild-1:role-1"] = true

	store.Insert(models.ReactionRolesEntry{
		GuildID: "guild-1", ChannelID: "channel-1", MessageID: "message-1",
		EmojiName: "⭐", RoleID: "role-1",
	})

	plugin.OnEvent(reactionEvent(events.TypeReactionAdd, "guild-1", "user-1", "message-1", "🔥"))
	if len(discord.rolesAdded) != 0 {
		t.Fatalf("unbound emoji granted a role")
	}
}

func TestReactionRolesStaleRoleDeletesBinding(t *testing.T) {
	plugin, store, _ := testReactionRoles()
	// role-1 does not exist in the fake

	store.Insert(models.ReactionRolesEntry{
		GuildID: "guild-1", ChannelID: "channel-1", MessageID: "message-1",
		EmojiName: "⭐", RoleID: "role-1",
	})

	plugin.OnEvent(reactionEvent(events.TypeReactionAdd, "guild-1", "user-1", "message-1", "⭐"))

	if len(store.bindings) != 0 {
		t.Fatalf("stale binding not deleted")
	}
}

func TestReactionRolesMessageDeleteDropsBindings(t *testing.T) {
	plugin, store, _ := testReactionRoles()

	store.Insert(models.ReactionRolesEntry{
		GuildID: "guild-1", ChannelID: "channel-1", MessageID: "message-1",
		EmojiName: "⭐", RoleID: "role-1",
	})
	store.Insert(models.ReactionRolesEntry{
		GuildID: "guild-1", ChannelID: "channel-1", MessageID: "message-2",
		EmojiName: "⭐", RoleID: "role-1",
	})

	plugin.OnEvent(events.Event{
		GuildID:  "guild-1",
		Category: events.CategoryMessage,
		Type:     events.TypeMessageDelete,
		Message:  &discordgo.Message{ID: "message-1", ChannelID: "channel-1"},
	})

	if len(store.bindings) != 1 || store.bindings[0].MessageID != "message-2" {
		t.Fatalf("expected only the deleted message's bindings removed, got %v", store.bindings)
	}
}

func TestBindReactionRoleRejectsMissingRole(t *testing.T) {
	plugin, store, _ := testReactionRoles()

	err := plugin.BindReactionRole("guild-1", "channel-1", "message-1", "⭐", "ghost-role", "admin")
	if err == nil {
		t.Fatalf("expected binding to a missing role to fail")
	}
	if len(store.bindings) != 0 {
		t.Fatalf("failed bind persisted a binding")
	}
}

func TestBindReactionRoleIsIdempotent(t *testing.T) {
	plugin, store, discord := testReactionRoles()
	discord.existingRoles["guild-1:role-1"] = true

	for i := 0; i < 2; i++ {
		if err := plugin.BindReactionRole("guild-1", "channel-1", "message-1", "⭐", "role-1", "admin"); err != nil {
			t.Fatalf("bind failed: %v", err)
		}
	}

	if len(store.bindings) != 1 {
		t.Fatalf("expected one binding after rebinding, got %d", len(store.bindings))
	}
}
