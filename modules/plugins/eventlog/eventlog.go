// Package eventlog routes structured log entries to the channels each
// guild opted into, with per-destination batching so one noisy category
// cannot exceed the platform rate limits.
package eventlog

import (
	"sync"
	"time"

	"github.com/arkanite/keeper/helpers"
	"github.com/arkanite/keeper/metrics"
	"github.com/arkanite/keeper/models"
	"github.com/arkanite/keeper/ratelimits"
	"github.com/pkg/errors"
)

const (
	// one batch per destination at most this often
	sendInterval = 5 * time.Second

	// queue scan cadence of the delivery loop
	flushTick = 1 * time.Second

	// upper bound of a rendered batch, leaves headroom below the
	// 2000 character message limit
	batchCharLimit = 1900
)

var (
	currentMutex sync.RWMutex
	current      *Handler
)

// Log hands $entry to the active router. Entries for guilds without a
// route for the category are discarded silently, opting into logging is
// per category.
func Log(entry models.EventlogEntry) {
	currentMutex.RLock()
	handler := current
	currentMutex.RUnlock()

	if handler == nil {
		return
	}
	handler.Log(entry)
}

// newSendBuckets builds the per-destination send budget. The upper
// bound of one key means an idle destination never banks more than a
// single send per drip interval.
func newSendBuckets(dropInterval time.Duration) *ratelimits.BucketContainer {
	return ratelimits.NewBucketContainer(1, 1, dropInterval, 1)
}

// NewHandler creates the router and registers it as the target of the
// package level Log.
func NewHandler() *Handler {
	handler := &Handler{
		discord:       helpers.NewDiscord(),
		queues:        make(map[string][]models.EventlogEntry),
		buckets:       newSendBuckets(sendInterval),
		stop:          make(chan struct{}),
		voiceChannels: make(map[string]string),
	}
	handler.send = handler.sendBatch
	handler.persist = persistEntry

	currentMutex.Lock()
	current = handler
	currentMutex.Unlock()

	return handler
}

// Handler collects entries per destination channel and delivers them in
// coalesced batches.
type Handler struct {
	discord helpers.Discord

	mutex  sync.Mutex
	queues map[string][]models.EventlogEntry

	buckets *ratelimits.BucketContainer

	send    func(channelID string, entries []models.EventlogEntry) error
	persist func(entry *models.EventlogEntry) error

	// userKey to voice channel id, for deriving join/leave/move
	voiceChannels map[string]string

	stop chan struct{}
}

// Log validates, persists and enqueues one entry.
func (h *Handler) Log(entry models.EventlogEntry) {
	if entry.GuildID == "" || entry.Type == "" {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	if err := h.persist(&entry); err != nil {
		helpers.RelaxLog(err)
	}

	config, ok := helpers.GuildSettingsGetCached(entry.GuildID)
	if !ok {
		return
	}
	channelIDs := config.RouteFor(entry.Category)
	if len(channelIDs) == 0 {
		return
	}

	h.mutex.Lock()
	for _, channelID := range channelIDs {
		h.queues[channelID] = append(h.queues[channelID], entry)
	}
	h.mutex.Unlock()
}

// deliveryLoop drains the destination queues. A destination only sends
// when its bucket has budget left, everything queued in between
// coalesces into the next batch.
func (h *Handler) deliveryLoop() {
	defer helpers.Recover()

	ticker := time.NewTicker(flushTick)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}

		h.flushReady()
	}
}

func (h *Handler) flushReady() {
	h.mutex.Lock()
	ready := make(map[string][]models.EventlogEntry)
	for channelID, entries := range h.queues {
		if len(entries) == 0 {
			continue
		}
		if !h.buckets.HasKeys(channelID) {
			continue
		}

		batch, rest := splitBatch(entries)
		ready[channelID] = batch
		if len(rest) == 0 {
			delete(h.queues, channelID)
		} else {
			h.queues[channelID] = rest
		}
	}
	h.mutex.Unlock()

	for channelID, batch := range ready {
		if err := h.buckets.Drain(1, channelID); err != nil {
			continue
		}

		err := h.send(channelID, batch)
		if err != nil {
			// routes pointing at deleted or forbidden channels degrade
			// to silence instead of looping
			if errors.Cause(err) == helpers.ErrPermissionDenied || helpers.IsDiscordNotFound(err) {
				continue
			}
			helpers.RelaxLog(err)
			continue
		}

		metrics.LogBatchesSent.Add(1)
		metrics.LogEntriesCoalesced.Add(int64(len(batch)))
	}
}

// splitBatch cuts one send worth of entries off the front of $entries,
// bounded by the rendered character budget.
func splitBatch(entries []models.EventlogEntry) (batch []models.EventlogEntry, rest []models.EventlogEntry) {
	var totalChars int
	for i, entry := range entries {
		lineChars := len(renderEntry(entry)) + 1
		if i > 0 && totalChars+lineChars > batchCharLimit {
			return entries[:i], entries[i:]
		}
		totalChars += lineChars
	}
	return entries, nil
}

func (h *Handler) sendBatch(channelID string, entries []models.EventlogEntry) error {
	content := ""
	for _, entry := range entries {
		if content != "" {
			content += "\n"
		}
		content += renderEntry(entry)
	}

	_, err := h.discord.SendMessage(channelID, content)
	return err
}

func persistEntry(entry *models.EventlogEntry) error {
	id, err := helpers.MDbInsert(models.EventlogTable, entry)
	entry.ID = id
	return err
}

// SetLogRoute points one event category at a set of destination
// channels. An empty channel list removes the route, turning logging for
// that category off.
func SetLogRoute(guildID string, category string, channelIDs []string) error {
	switch category {
	case models.LogCategoryMember, models.LogCategoryMessage, models.LogCategoryVoice,
		models.LogCategoryRole, models.LogCategoryChannel, models.LogCategoryModeration,
		models.LogCategoryServer:
	default:
		return errors.Errorf("unknown log category: %s", category)
	}

	_, err := helpers.GuildSettingsUpdate(guildID, func(config *models.GuildConfig) {
		routes := make([]models.LogRoute, 0, len(config.LogRoutes)+1)
		for _, route := range config.LogRoutes {
			if route.Category != category {
				routes = append(routes, route)
			}
		}
		if len(channelIDs) > 0 {
			routes = append(routes, models.LogRoute{Category: category, ChannelIDs: channelIDs})
		}
		config.LogRoutes = routes
	})
	return err
}
