package models

import (
	"time"

	"github.com/globalsign/mgo/bson"
)

const (
	GuildConfigTable MongoDbCollection = "guild_configs"
)

// event categories used as keys in the log route table
const (
	LogCategoryMember     = "member"
	LogCategoryMessage    = "message"
	LogCategoryVoice      = "voice"
	LogCategoryRole       = "role"
	LogCategoryChannel    = "channel"
	LogCategoryModeration = "moderation"
	LogCategoryServer     = "server"
)

const (
	RaidActionAlert = "alert"
	RaidActionKick  = "kick"
	RaidActionBan   = "ban"
)

// LogRoute maps one event category to its destination channels.
type LogRoute struct {
	Category   string
	ChannelIDs []string
}

type AutoResponseEntry struct {
	Trigger  string
	Response string
}

type DelayedAutoRole struct {
	RoleID string
	Delay  time.Duration
}

type AntiRaidConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
	Action    string // RaidAction*
	// no re-trigger for the same burst before this much time passed
	EpisodeCooldown time.Duration
}

type JoinToCreateConfig struct {
	Enabled          bool
	EntryChannelID   string
	ParentCategoryID string
	// how long occupancy has to stay at zero before the channel is deleted
	DeleteDebounce time.Duration
}

// GuildConfig is the per-guild source of truth for every automation.
// Mutated only through helpers.GuildSettingsUpdate so concurrent writers
// cannot lose each other's fields.
type GuildConfig struct {
	ID      bson.ObjectId `bson:"_id,omitempty"`
	GuildID string

	LogRoutes []LogRoute

	WelcomeEnabled   bool
	WelcomeChannelID string
	WelcomeText      string

	AutoRoleIDs      []string
	DelayedAutoRoles []DelayedAutoRole

	AutoResponses []AutoResponseEntry

	AntiRaid AntiRaidConfig

	StarboardThreshold int

	JoinToCreate JoinToCreateConfig
}

func (c GuildConfig) Default(guildID string) GuildConfig {
	return GuildConfig{
		GuildID:            guildID,
		StarboardThreshold: 3,
		AntiRaid: AntiRaidConfig{
			Threshold:       5,
			Window:          60 * time.Second,
			Action:          RaidActionAlert,
			EpisodeCooldown: 5 * time.Minute,
		},
		JoinToCreate: JoinToCreateConfig{
			DeleteDebounce: 5 * time.Second,
		},
	}
}

// RouteFor returns the destination channels for an event category,
// nil if logging is not opted in for it.
func (c GuildConfig) RouteFor(category string) []string {
	for _, route := range c.LogRoutes {
		if route.Category == category {
			return route.ChannelIDs
		}
	}
	return nil
}
