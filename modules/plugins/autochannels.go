package plugins

import (
	"sync"
	"time"

	"github.com/arkanite/keeper/events"
	"github.com/arkanite/keeper/helpers"
	"github.com/arkanite/keeper/models"
	"github.com/bwmarrin/discordgo"
	"github.com/globalsign/mgo/bson"
	"github.com/pkg/errors"
)

// ChannelStore persists the provisioned ephemeral voice channels.
type ChannelStore interface {
	All() ([]models.AutoChannelsEntry, error)
	Insert(entry models.AutoChannelsEntry) error
	DeleteByChannel(channelID string) error
	TouchOccupied(channelID string, at time.Time) error
}

// stopper lets tests stand in for the delete timers.
type stopper interface {
	Stop() bool
}

// AutoChannels provisions a personal voice channel when a member joins
// the configured entry channel and deletes it again once it sat empty
// for the debounce window.
type AutoChannels struct {
	store   ChannelStore
	discord helpers.Discord

	mutex         sync.Mutex
	tracked       map[string]models.AutoChannelsEntry
	pendingDelete map[string]stopper

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) stopper
}

func NewAutoChannels() *AutoChannels {
	return &AutoChannels{
		store:         &mdbChannelStore{},
		discord:       helpers.NewDiscord(),
		tracked:       make(map[string]models.AutoChannelsEntry),
		pendingDelete: make(map[string]stopper),
		now:           time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

func (a *AutoChannels) Name() string {
	return "autochannels"
}

func (a *AutoChannels) Categories() []events.Category {
	return []events.Category{events.CategoryVoice}
}

// Init reconciles the store with the live state. Channels that went
// empty while the process was down are deleted right away, occupied ones
// are tracked again.
func (a *AutoChannels) Init(session *discordgo.Session) {
	entries, err := a.store.All()
	if err != nil {
		helpers.RelaxLog(err)
		return
	}

	for _, entry := range entries {
		occupancy, err := a.discord.VoiceChannelOccupancy(entry.GuildID, entry.ChannelID)
		if err != nil || occupancy == 0 {
			a.deleteChannel(entry)
			continue
		}

		a.mutex.Lock()
		a.tracked[entry.ChannelID] = entry
		a.mutex.Unlock()
	}
}

func (a *AutoChannels) OnEvent(event events.Event) {
	if event.Type != events.TypeVoiceStateUpdate || event.VoiceState == nil {
		return
	}

	config, ok := helpers.GuildSettingsGetCached(event.GuildID)
	if !ok {
		return
	}

	state := event.VoiceState

	justCreated := ""
	if config.JoinToCreate.Enabled &&
		config.JoinToCreate.EntryChannelID != "" &&
		state.ChannelID == config.JoinToCreate.EntryChannelID {
		justCreated = a.provision(event.GuildID, state.UserID, config.JoinToCreate)
	}

	a.sweepGuild(event.GuildID, state.ChannelID, justCreated, config.JoinToCreate.DeleteDebounce)
}

// provision creates the personal channel, records it and moves the
// member over. The record is written before the member moves so a crash
// in between leaves a reconcilable channel, not an untracked one.
func (a *AutoChannels) provision(guildID string, userID string, config models.JoinToCreateConfig) string {
	name, err := a.discord.MemberUsername(guildID, userID)
	helpers.SoftRelax(err, func() { name = "voice" })

	channelID, err := a.discord.CreateVoiceChannel(guildID, "🔊 "+name, config.ParentCategoryID)
	helpers.Relax(err)

	entry := models.AutoChannelsEntry{
		GuildID:          guildID,
		ChannelID:        channelID,
		OwnerUserID:      userID,
		ParentCategoryID: config.ParentCategoryID,
		CreatedAt:        a.now(),
		LastOccupiedAt:   a.now(),
	}
	helpers.Relax(a.store.Insert(entry))

	a.mutex.Lock()
	a.tracked[channelID] = entry
	a.mutex.Unlock()

	helpers.RelaxLog(a.discord.GrantChannelOwner(channelID, userID))
	helpers.RelaxLog(a.discord.MoveMember(guildID, userID, channelID))

	return channelID
}

// sweepGuild checks every tracked channel of the guild against its live
// occupancy. Occupied channels cancel their pending delete, empty ones
// start the debounce timer.
func (a *AutoChannels) sweepGuild(guildID string, joinedChannelID string, justCreatedChannelID string, debounce time.Duration) {
	a.mutex.Lock()
	channels := make([]models.AutoChannelsEntry, 0, len(a.tracked))
	for _, entry := range a.tracked {
		if entry.GuildID == guildID {
			channels = append(channels, entry)
		}
	}
	a.mutex.Unlock()

	for _, entry := range channels {
		occupancy, err := a.discord.VoiceChannelOccupancy(guildID, entry.ChannelID)
		if err != nil {
			helpers.RelaxLog(err)
			continue
		}

		// the join or move may run before the state reflects it
		if occupancy == 0 && (entry.ChannelID == joinedChannelID || entry.ChannelID == justCreatedChannelID) {
			occupancy = 1
		}

		if occupancy > 0 {
			a.cancelPendingDelete(entry.ChannelID)
			helpers.RelaxLog(a.store.TouchOccupied(entry.ChannelID, a.now()))
			continue
		}

		a.schedulePendingDelete(entry, debounce)
	}
}

func (a *AutoChannels) cancelPendingDelete(channelID string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if timer, ok := a.pendingDelete[channelID]; ok {
		timer.Stop()
		delete(a.pendingDelete, channelID)
	}
}

func (a *AutoChannels) schedulePendingDelete(entry models.AutoChannelsEntry, debounce time.Duration) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if _, ok := a.pendingDelete[entry.ChannelID]; ok {
		return
	}

	a.pendingDelete[entry.ChannelID] = a.afterFunc(debounce, func() {
		defer helpers.Recover()
		a.debounceFired(entry)
	})
}

// debounceFired re-checks occupancy when the timer fires. A member who
// came back during the debounce keeps the channel alive.
func (a *AutoChannels) debounceFired(entry models.AutoChannelsEntry) {
	a.mutex.Lock()
	delete(a.pendingDelete, entry.ChannelID)
	a.mutex.Unlock()

	occupancy, err := a.discord.VoiceChannelOccupancy(entry.GuildID, entry.ChannelID)
	if err != nil {
		helpers.RelaxLog(err)
		return
	}
	if occupancy > 0 {
		return
	}

	a.deleteChannel(entry)
}

// deleteChannel removes the live channel first, then the record. A
// crash in between leaves a record that reconciliation cleans up.
func (a *AutoChannels) deleteChannel(entry models.AutoChannelsEntry) {
	err := a.discord.DeleteChannel(entry.ChannelID)
	if err != nil && !helpers.IsDiscordNotFound(err) {
		helpers.RelaxLog(err)
		return
	}

	helpers.RelaxLog(a.store.DeleteByChannel(entry.ChannelID))

	a.mutex.Lock()
	delete(a.tracked, entry.ChannelID)
	a.mutex.Unlock()
}

// CreateJoinToCreate configures the entry channel for a guild.
func (a *AutoChannels) CreateJoinToCreate(guildID string, entryChannelID string, parentCategoryID string, debounce time.Duration) error {
	if entryChannelID == "" {
		return errors.Wrap(helpers.ErrInvalidAmount, "entry channel is required")
	}
	if debounce <= 0 {
		debounce = 5 * time.Second
	}

	_, err := helpers.GuildSettingsUpdate(guildID, func(config *models.GuildConfig) {
		config.JoinToCreate.Enabled = true
		config.JoinToCreate.EntryChannelID = entryChannelID
		config.JoinToCreate.ParentCategoryID = parentCategoryID
		config.JoinToCreate.DeleteDebounce = debounce
	})
	return err
}

// DisableJoinToCreate turns the automation off. Existing channels stay
// until they empty out.
func (a *AutoChannels) DisableJoinToCreate(guildID string) error {
	_, err := helpers.GuildSettingsUpdate(guildID, func(config *models.GuildConfig) {
		config.JoinToCreate.Enabled = false
	})
	return err
}

type mdbChannelStore struct{}

func (s *mdbChannelStore) All() ([]models.AutoChannelsEntry, error) {
	var entries []models.AutoChannelsEntry
	err := helpers.MdbAll(helpers.MdbCollection(models.AutoChannelsTable).Find(nil), &entries)
	return entries, err
}

func (s *mdbChannelStore) Insert(entry models.AutoChannelsEntry) error {
	_, err := helpers.MDbInsert(models.AutoChannelsTable, entry)
	return err
}

func (s *mdbChannelStore) DeleteByChannel(channelID string) error {
	return helpers.MdbDeleteQuery(models.AutoChannelsTable, bson.M{"channelid": channelID})
}

func (s *mdbChannelStore) TouchOccupied(channelID string, at time.Time) error {
	return helpers.MDbUpdateQuery(models.AutoChannelsTable,
		bson.M{"channelid": channelID},
		bson.M{"$set": bson.M{"lastoccupiedat": at}},
	)
}
