package scheduler

import (
	"strconv"
	"strings"
	"time"

	"github.com/arkanite/keeper/helpers"
	"github.com/arkanite/keeper/models"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Executors holds the task bodies. They only talk to the outbound
// surface, never to the raw session.
type Executors struct {
	discord helpers.Discord
	now     func() time.Time
}

func NewExecutors() *Executors {
	return &Executors{
		discord: helpers.NewDiscord(),
		now:     time.Now,
	}
}

// RegisterAll binds every task kind on $scheduler.
func (e *Executors) RegisterAll(scheduler *Scheduler) {
	scheduler.RegisterExecutor(models.TaskKindReminder, e.Reminder)
	scheduler.RegisterExecutor(models.TaskKindScheduledMessage, e.ScheduledMessage)
	scheduler.RegisterExecutor(models.TaskKindStatRefresh, e.StatRefresh)
	scheduler.RegisterExecutor(models.TaskKindPurgeSweep, e.PurgeSweep)
}

// Reminder delivers the reminder to the member, by DM if no channel was
// recorded.
func (e *Executors) Reminder(entry models.ScheduledTaskEntry) error {
	var payload models.ReminderPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return errors.Wrap(err, "invalid reminder payload")
	}

	channelID := payload.ChannelID
	if channelID == "" {
		var err error
		channelID, err = e.discord.CreateDMChannel(entry.UserID)
		if err != nil {
			return err
		}
	}

	_, err := e.discord.SendMessage(channelID,
		"⏰ <@"+entry.UserID+"> reminder: "+payload.Message)
	return err
}

func (e *Executors) ScheduledMessage(entry models.ScheduledTaskEntry) error {
	var payload models.ScheduledMessagePayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return errors.Wrap(err, "invalid scheduled message payload")
	}

	_, err := e.discord.SendMessage(payload.ChannelID, payload.Content)
	return err
}

// StatRefresh renders the member count into the bound channel name.
func (e *Executors) StatRefresh(entry models.ScheduledTaskEntry) error {
	var payload models.StatRefreshPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return errors.Wrap(err, "invalid stat refresh payload")
	}

	count, err := e.discord.GuildMemberCount(entry.GuildID)
	if err != nil {
		return err
	}

	name := strings.Replace(payload.Template, "{count}", strconv.Itoa(count), -1)
	return e.discord.EditChannelName(payload.ChannelID, name)
}

// PurgeSweep bulk deletes messages older than the retention of the
// channel. One page per run, the recurrence catches up over time.
func (e *Executors) PurgeSweep(entry models.ScheduledTaskEntry) error {
	var payload models.PurgeSweepPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return errors.Wrap(err, "invalid purge sweep payload")
	}
	if payload.KeepFor <= 0 {
		return errors.Wrap(helpers.ErrInvalidAmount, "retention has to be positive")
	}

	messages, err := e.discord.ChannelMessages(payload.ChannelID, 100, "")
	if err != nil {
		return err
	}

	cutoff := e.now().Add(-payload.KeepFor)
	// bulk delete rejects messages older than 14 days
	bulkFloor := e.now().Add(-14 * 24 * time.Hour)

	var expired []string
	for _, message := range messages {
		timestamp, err := message.Timestamp.Parse()
		if err != nil {
			continue
		}
		if timestamp.Before(cutoff) && timestamp.After(bulkFloor) {
			expired = append(expired, message.ID)
		}
	}

	if len(expired) == 0 {
		return nil
	}
	return e.discord.BulkDeleteMessages(payload.ChannelID, expired)
}

// ScheduleReminder parses the fire time and queues a one-shot reminder.
func (s *Scheduler) ScheduleReminder(guildID string, userID string, channelID string, message string, fireAtText string) (string, error) {
	fireAt, err := ParseFireAt(fireAtText, s.now())
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(models.ReminderPayload{Message: message, ChannelID: channelID})
	if err != nil {
		return "", err
	}

	return s.Schedule(models.ScheduledTaskEntry{
		Kind:    models.TaskKindReminder,
		GuildID: guildID,
		UserID:  userID,
		FireAt:  fireAt,
		Payload: payload,
	})
}

// ScheduleMessage queues a message, one-shot for an empty interval
// text, recurring otherwise.
func (s *Scheduler) ScheduleMessage(guildID string, userID string, channelID string, content string, fireAt time.Time, intervalText string) (string, error) {
	var interval time.Duration
	if intervalText != "" {
		var err error
		interval, err = ParseInterval(intervalText)
		if err != nil {
			return "", err
		}
	}

	payload, err := json.Marshal(models.ScheduledMessagePayload{ChannelID: channelID, Content: content})
	if err != nil {
		return "", err
	}

	return s.Schedule(models.ScheduledTaskEntry{
		Kind:     models.TaskKindScheduledMessage,
		GuildID:  guildID,
		UserID:   userID,
		FireAt:   fireAt,
		Interval: interval,
		Payload:  payload,
	})
}

// ScheduleStatRefresh queues the recurring member count render into a
// channel name. The interval accepts strings like "5m" or "1h".
func (s *Scheduler) ScheduleStatRefresh(guildID string, channelID string, template string, intervalText string) (string, error) {
	if !strings.Contains(template, "{count}") {
		return "", errors.New("template needs a {count} placeholder")
	}

	interval, err := ParseInterval(intervalText)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(models.StatRefreshPayload{ChannelID: channelID, Template: template})
	if err != nil {
		return "", err
	}

	return s.Schedule(models.ScheduledTaskEntry{
		Kind:     models.TaskKindStatRefresh,
		GuildID:  guildID,
		FireAt:   s.now().Add(interval),
		Interval: interval,
		Payload:  payload,
	})
}

// SchedulePurgeSweep queues the recurring retention sweep of a channel.
// The interval accepts strings like "30m" or "6h".
func (s *Scheduler) SchedulePurgeSweep(guildID string, channelID string, keepFor time.Duration, intervalText string) (string, error) {
	interval, err := ParseInterval(intervalText)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(models.PurgeSweepPayload{ChannelID: channelID, KeepFor: keepFor})
	if err != nil {
		return "", err
	}

	return s.Schedule(models.ScheduledTaskEntry{
		Kind:     models.TaskKindPurgeSweep,
		GuildID:  guildID,
		FireAt:   s.now().Add(interval),
		Interval: interval,
		Payload:  payload,
	})
}
