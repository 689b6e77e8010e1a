package metrics

import (
	"expvar"
	"net/http"
	"runtime"
	"time"

	"github.com/arkanite/keeper/cache"
	"github.com/arkanite/keeper/helpers"
	"github.com/bwmarrin/discordgo"
)

var (
	// EventsReceived counts all normalized events handed to the dispatcher
	EventsReceived = expvar.NewInt("events_received")

	// EventsDispatched counts events fanned out to at least the lookup stage
	EventsDispatched = expvar.NewInt("events_dispatched")

	// EventsDropped counts events for unknown guilds
	EventsDropped = expvar.NewInt("events_dropped")

	// ExpAwards counts successful exp awards
	ExpAwards = expvar.NewInt("exp_awards")

	// LevelUps counts emitted level-up events
	LevelUps = expvar.NewInt("level_ups")

	// RaidsDetected counts triggered raid episodes
	RaidsDetected = expvar.NewInt("raids_detected")

	// TasksExecuted counts scheduler task executions
	TasksExecuted = expvar.NewInt("tasks_executed")

	// TasksFailed counts scheduler task executions that returned an error
	TasksFailed = expvar.NewInt("tasks_failed")

	// LogBatchesSent counts messages sent by the logging router
	LogBatchesSent = expvar.NewInt("log_batches_sent")

	// LogEntriesCoalesced counts entries folded into an already pending batch
	LogEntriesCoalesced = expvar.NewInt("log_entries_coalesced")

	// UserCount counts all visible users
	UserCount = expvar.NewInt("user_count")

	// ChannelCount counts all watched channels
	ChannelCount = expvar.NewInt("channel_count")

	// GuildCount counts all joined guilds
	GuildCount = expvar.NewInt("guild_count")

	// CoroutineCount counts all running goroutines
	CoroutineCount = expvar.NewInt("coroutine_count")

	// Uptime stores the timestamp of the bot's boot
	Uptime = expvar.NewInt("uptime")
)

// Init starts the expvar http listener
func Init() {
	cache.GetLogger().WithField("module", "metrics").Info("Listening on TCP/1337")
	Uptime.Set(time.Now().Unix())
	go http.ListenAndServe(helpers.GetConfig().Path("metrics_ip").Data().(string)+":1337", nil)
}

// OnReady listens for said discord event
func OnReady(session *discordgo.Session, event *discordgo.Ready) {
	go CollectDiscordMetrics(session)
	go CollectRuntimeMetrics()
}

// CollectDiscordMetrics counts guilds, channels and users
func CollectDiscordMetrics(session *discordgo.Session) {
	for {
		time.Sleep(15 * time.Second)

		users := make(map[string]struct{})
		channels := 0
		guilds := session.State.Guilds

		for _, guild := range guilds {
			channels += len(guild.Channels)

			for _, member := range guild.Members {
				users[member.User.ID] = struct{}{}
			}
		}

		UserCount.Set(int64(len(users)))
		ChannelCount.Set(int64(channels))
		GuildCount.Set(int64(len(guilds)))
	}
}

// CollectRuntimeMetrics counts all running goroutines
func CollectRuntimeMetrics() {
	for {
		time.Sleep(15 * time.Second)
		CoroutineCount.Set(int64(runtime.NumGoroutine()))
	}
}
