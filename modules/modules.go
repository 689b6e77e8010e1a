package modules

import (
	"github.com/arkanite/keeper/cache"
	"github.com/arkanite/keeper/events"
	"github.com/arkanite/keeper/helpers"
	"github.com/arkanite/keeper/metrics"
	"github.com/arkanite/keeper/modules/plugins"
	"github.com/arkanite/keeper/modules/plugins/eventlog"
	"github.com/bwmarrin/discordgo"
)

var (
	levelsPlugin        = plugins.NewLevels()
	antiRaidPlugin      = plugins.NewAntiRaid()
	reactionRolesPlugin = plugins.NewReactionRoles()
	autoRolesPlugin     = plugins.NewAutoRoles()
	autoChannelsPlugin  = plugins.NewAutoChannels()
	eventlogHandler     = eventlog.NewHandler()

	// HandlerList holds every automation driven by dispatched events.
	// Order is irrelevant, every handler runs isolated.
	HandlerList = []Handler{
		eventlogHandler,
		levelsPlugin,
		antiRaidPlugin,
		reactionRolesPlugin,
		autoRolesPlugin,
		autoChannelsPlugin,
	}

	handlersByCategory map[events.Category][]Handler
)

// accessors for the command-facing surface and the rest API

func Levels() *plugins.Levels { return levelsPlugin }

func AntiRaid() *plugins.AntiRaid { return antiRaidPlugin }

func ReactionRoles() *plugins.ReactionRoles { return reactionRolesPlugin }

func AutoRoles() *plugins.AutoRoles { return autoRolesPlugin }

func AutoChannels() *plugins.AutoChannels { return autoChannelsPlugin }

func Eventlog() *eventlog.Handler { return eventlogHandler }

// Init builds the subscription table and initializes all handlers
func Init(session *discordgo.Session) {
	log := cache.GetLogger()

	handlersByCategory = make(map[events.Category][]Handler)
	for _, handler := range HandlerList {
		for _, category := range handler.Categories() {
			handlersByCategory[category] = append(handlersByCategory[category], handler)
		}

		func() {
			defer helpers.Recover()
			handler.Init(session)
		}()

		log.WithField("module", "modules").Info("initialized handler " + handler.Name())
	}
}

// Uninit gives handlers a chance to flush on shutdown
func Uninit(session *discordgo.Session) {
	for _, handler := range HandlerList {
		if uniniter, ok := handler.(Uniniter); ok {
			func() {
				defer helpers.Recover()
				uniniter.Uninit(session)
			}()
		}
	}
}

// Dispatch resolves the owning guild's configuration and fans the event
// out to every handler subscribed to its category. Events for unknown
// guilds are dropped and logged. Each handler runs in its own goroutine
// behind Recover, so one failing handler neither blocks the others nor
// the ingestion loop.
func Dispatch(event events.Event) {
	metrics.EventsReceived.Add(1)

	if _, ok := helpers.GuildSettingsGetCached(event.GuildID); !ok {
		metrics.EventsDropped.Add(1)
		cache.GetLogger().WithField("module", "modules").Warnf(
			"dropped %s event for unknown guild %s", event.Type, event.GuildID)
		return
	}

	for _, handler := range handlersByCategory[event.Category] {
		go func(handler Handler) {
			defer helpers.Recover()

			handler.OnEvent(event)
		}(handler)
	}

	metrics.EventsDispatched.Add(1)
}
