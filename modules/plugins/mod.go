package plugins

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/RichardKnop/machinery/v1/tasks"
	"github.com/arkanite/keeper/cache"
	"github.com/arkanite/keeper/events"
	"github.com/arkanite/keeper/helpers"
	"github.com/arkanite/keeper/metrics"
	"github.com/arkanite/keeper/models"
	"github.com/arkanite/keeper/modules/plugins/eventlog"
	"github.com/bwmarrin/discordgo"
	"github.com/go-redis/redis"
	"github.com/karrick/tparse/v2"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

const (
	raidWindowRedisKey  = "keeper:raid-window:"
	raidEpisodeRedisKey = "keeper:raid-episode:"
)

type joinSample struct {
	UserID string
	At     time.Time
}

// AntiRaid watches member joins per guild inside a sliding window and
// fires the configured action once per burst.
type AntiRaid struct {
	discord helpers.Discord

	mutex       sync.Mutex
	windows     map[string][]joinSample
	lastEpisode map[string]time.Time

	now         func() time.Time
	queueAction func(signature *tasks.Signature) error
}

func NewAntiRaid() *AntiRaid {
	a := &AntiRaid{
		discord:     helpers.NewDiscord(),
		windows:     make(map[string][]joinSample),
		lastEpisode: make(map[string]time.Time),
		now:         time.Now,
	}
	a.queueAction = queueMachineryTask
	return a
}

func (a *AntiRaid) Name() string {
	return "mod"
}

func (a *AntiRaid) Categories() []events.Category {
	return []events.Category{events.CategoryMember}
}

// Init rebuilds the join windows and episode anchors from the redis
// mirror so a restart in the middle of a raid neither blinds the
// detector nor re-triggers for a burst already acted on.
func (a *AntiRaid) Init(session *discordgo.Session) {
	if !cache.HasRedisClient() {
		return
	}

	client := cache.GetRedisClient()

	windows := make(map[string][]joinSample)
	keys, err := client.Keys(raidWindowRedisKey + "*").Result()
	if err != nil {
		helpers.RelaxLog(err)
		return
	}

	for _, key := range keys {
		guildID := key[len(raidWindowRedisKey):]

		samples, err := client.ZRangeWithScores(key, 0, -1).Result()
		if err != nil {
			helpers.RelaxLog(err)
			continue
		}
		for _, sample := range samples {
			member, ok := sample.Member.(string)
			if !ok {
				continue
			}
			// members are userID:nonce, the nonce keeps rejoins distinct
			userID := member
			for i := 0; i < len(member); i++ {
				if member[i] == ':' {
					userID = member[:i]
					break
				}
			}
			windows[guildID] = append(windows[guildID], joinSample{
				UserID: userID,
				At:     time.Unix(int64(sample.Score), 0),
			})
		}
	}

	episodes := make(map[string]time.Time)
	episodeKeys, err := client.Keys(raidEpisodeRedisKey + "*").Result()
	if err != nil {
		helpers.RelaxLog(err)
	} else {
		for _, key := range episodeKeys {
			value, err := client.Get(key).Result()
			if err != nil {
				helpers.RelaxLog(err)
				continue
			}
			unix, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				continue
			}
			episodes[key[len(raidEpisodeRedisKey):]] = time.Unix(unix, 0)
		}
	}

	a.restore(windows, episodes)
}

// restore replaces the in-memory detector state with the mirrored one.
func (a *AntiRaid) restore(windows map[string][]joinSample, episodes map[string]time.Time) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.windows = windows
	a.lastEpisode = episodes
}

func (a *AntiRaid) OnEvent(event events.Event) {
	if event.Type != events.TypeMemberJoin {
		return
	}
	if event.Member == nil || event.Member.User == nil || event.Member.User.Bot {
		return
	}

	config, ok := helpers.GuildSettingsGetCached(event.GuildID)
	if !ok || !config.AntiRaid.Enabled {
		return
	}

	burst, triggered := a.recordJoin(event.GuildID, event.Member.User.ID, config.AntiRaid)
	if !triggered {
		return
	}

	a.handleEpisode(event.GuildID, burst, config.AntiRaid)
}

// recordJoin appends the join, prunes samples older than the window and
// reports whether this join pushed the guild over the threshold. At most
// one episode per cooldown triggers.
func (a *AntiRaid) recordJoin(guildID string, userID string, config models.AntiRaidConfig) ([]joinSample, bool) {
	now := a.now()

	a.mutex.Lock()
	defer a.mutex.Unlock()

	window := a.windows[guildID]
	pruned := window[:0]
	for _, sample := range window {
		if now.Sub(sample.At) < config.Window {
			pruned = append(pruned, sample)
		}
	}
	pruned = append(pruned, joinSample{UserID: userID, At: now})
	a.windows[guildID] = pruned

	a.mirrorJoin(guildID, userID, now, config.Window)

	if len(pruned) < config.Threshold {
		return nil, false
	}
	if last, ok := a.lastEpisode[guildID]; ok && now.Sub(last) < config.EpisodeCooldown {
		return nil, false
	}

	a.lastEpisode[guildID] = now
	a.mirrorEpisode(guildID, now, config.EpisodeCooldown)

	burst := make([]joinSample, len(pruned))
	copy(burst, pruned)
	return burst, true
}

// mirrorJoin keeps the redis sorted set in step with the in-memory
// window. Best effort, memory is authoritative while the process lives.
func (a *AntiRaid) mirrorJoin(guildID string, userID string, at time.Time, window time.Duration) {
	if !cache.HasRedisClient() {
		return
	}

	key := raidWindowRedisKey + guildID
	client := cache.GetRedisClient()

	nonce, err := uuid.NewV4()
	if err != nil {
		helpers.RelaxLog(err)
		return
	}

	err = client.ZAdd(key, redis.Z{
		Score:  float64(at.Unix()),
		Member: userID + ":" + nonce.String(),
	}).Err()
	if err != nil {
		helpers.RelaxLog(err)
		return
	}

	cutoff := strconv.FormatInt(at.Add(-window).Unix(), 10)
	if err = client.ZRemRangeByScore(key, "-inf", cutoff).Err(); err != nil {
		helpers.RelaxLog(err)
	}
	if err = client.Expire(key, window+time.Minute).Err(); err != nil {
		helpers.RelaxLog(err)
	}
}

// mirrorEpisode persists the episode anchor for the length of the
// cooldown. Best effort like the window mirror.
func (a *AntiRaid) mirrorEpisode(guildID string, at time.Time, cooldown time.Duration) {
	if !cache.HasRedisClient() {
		return
	}

	err := cache.GetRedisClient().Set(
		raidEpisodeRedisKey+guildID,
		strconv.FormatInt(at.Unix(), 10),
		cooldown,
	).Err()
	helpers.RelaxLog(err)
}

// handleEpisode reports the raid and queues the configured action for
// every member of the burst. Per-member failures are retried by the task
// queue, they never abort the rest of the burst.
func (a *AntiRaid) handleEpisode(guildID string, burst []joinSample, config models.AntiRaidConfig) {
	metrics.RaidsDetected.Add(1)

	episodeID, err := uuid.NewV4()
	helpers.Relax(err)
	reason := fmt.Sprintf("Raid protection (episode %s)", episodeID.String())

	entry := models.EventlogEntry{
		GuildID:    guildID,
		Category:   models.LogCategoryModeration,
		Type:       models.EventlogTypeRaidDetected,
		TargetID:   guildID,
		TargetType: models.EventlogTargetTypeGuild,
		Reason:     reason,
		Options: []models.EventlogOption{
			{Key: "joins", Value: strconv.Itoa(len(burst))},
			{Key: "window", Value: config.Window.String()},
			{Key: "action", Value: config.Action},
		},
		CreatedAt: a.now(),
	}
	for _, sample := range burst {
		entry.Options = append(entry.Options, models.EventlogOption{
			Key: "member", Value: sample.UserID,
		})
	}
	eventlog.Log(entry)

	if config.Action == models.RaidActionAlert {
		return
	}

	for _, sample := range burst {
		err := a.queueAction(RaidActionSignature(guildID, sample.UserID, config.Action, reason))
		helpers.RelaxLog(err)
	}
}

// RaidActionSignature builds the queued task for one raid member.
func RaidActionSignature(guildID string, userID string, action string, reason string) *tasks.Signature {
	return &tasks.Signature{
		Name: "raid_action",
		Args: []tasks.Arg{
			{Type: "string", Value: guildID},
			{Type: "string", Value: userID},
			{Type: "string", Value: action},
			{Type: "string", Value: reason},
		},
		RetryCount: 3,
		OnError:    []*tasks.Signature{{Name: "log_error"}},
	}
}

// RaidActionApply runs on the task worker and performs one kick or ban.
func (a *AntiRaid) RaidActionApply(guildID string, userID string, action string, reason string) error {
	var err error
	switch action {
	case models.RaidActionKick:
		err = a.discord.KickMember(guildID, userID, reason)
	case models.RaidActionBan:
		err = a.discord.BanMember(guildID, userID, reason)
	default:
		return errors.Errorf("unknown raid action: %s", action)
	}

	// the member may have left already, that counts as done
	if helpers.IsDiscordNotFound(err) {
		return nil
	}
	return err
}

// ConfigureAntiRaid updates the detector settings for one guild. The
// window accepts duration strings like "90s" or "2m".
func (a *AntiRaid) ConfigureAntiRaid(guildID string, enabled bool, threshold int, window string, action string) error {
	if threshold < 2 {
		return errors.Wrap(helpers.ErrInvalidAmount, "threshold has to be at least 2")
	}
	switch action {
	case models.RaidActionAlert, models.RaidActionKick, models.RaidActionBan:
	default:
		return errors.Errorf("unknown raid action: %s", action)
	}

	base := time.Now()
	parsed, err := tparse.AddDuration(base, window)
	if err != nil {
		return errors.Wrap(err, "unable to parse window")
	}
	windowDuration := parsed.Sub(base)
	if windowDuration < 5*time.Second || windowDuration > time.Hour {
		return errors.Wrap(helpers.ErrInvalidAmount, "window has to be between 5s and 1h")
	}

	_, err = helpers.GuildSettingsUpdate(guildID, func(config *models.GuildConfig) {
		config.AntiRaid.Enabled = enabled
		config.AntiRaid.Threshold = threshold
		config.AntiRaid.Window = windowDuration
		config.AntiRaid.Action = action
		if config.AntiRaid.EpisodeCooldown <= 0 {
			config.AntiRaid.EpisodeCooldown = 5 * time.Minute
		}
	})
	return err
}

func queueMachineryTask(signature *tasks.Signature) error {
	if !cache.HasMachineryServer() {
		return errors.New("machinery server not ready")
	}
	_, err := cache.GetMachineryServer().SendTask(signature)
	return err
}
