package models

import (
	"time"

	"github.com/globalsign/mgo/bson"
)

const (
	ScheduledTasksTable MongoDbCollection = "scheduled_tasks"
)

type TaskKind string

const (
	TaskKindReminder         TaskKind = "reminder"
	TaskKindScheduledMessage TaskKind = "scheduled-message"
	TaskKindStatRefresh      TaskKind = "stat-refresh"
	TaskKindPurgeSweep       TaskKind = "purge-sweep"
)

// ScheduledTaskEntry is one pending timed task. One-shot tasks are deleted
// after firing, interval tasks reschedule themselves anchored at the time
// their execution finished.
type ScheduledTaskEntry struct {
	ID       bson.ObjectId `bson:"_id,omitempty"`
	TaskID   string
	Kind     TaskKind
	GuildID  string
	UserID   string
	FireAt   time.Time
	Interval time.Duration // zero for one-shot tasks
	Payload  []byte        // kind-specific, json encoded
}

// payloads, encoded with jsoniter into ScheduledTaskEntry.Payload

type ReminderPayload struct {
	Message   string `json:"message"`
	ChannelID string `json:"channel_id"`
}

type ScheduledMessagePayload struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

type StatRefreshPayload struct {
	ChannelID string `json:"channel_id"`
	Template  string `json:"template"` // e.g. "Members: {count}"
}

type PurgeSweepPayload struct {
	ChannelID string        `json:"channel_id"`
	KeepFor   time.Duration `json:"keep_for"`
}
