package eventlog

import (
	"fmt"
	"strings"

	"github.com/arkanite/keeper/models"
	humanize "github.com/dustin/go-humanize"
)

var typeEmoji = map[string]string{
	models.EventlogTypeMemberJoin:    "📥",
	models.EventlogTypeMemberLeave:   "📤",
	models.EventlogTypeMessageUpdate: "📝",
	models.EventlogTypeMessageDelete: "🗑",
	models.EventlogTypeVoiceJoin:     "🔊",
	models.EventlogTypeVoiceLeave:    "🔇",
	models.EventlogTypeVoiceMove:     "↔️",
	models.EventlogTypeChannelCreate: "🆕",
	models.EventlogTypeChannelDelete: "❌",
	models.EventlogTypeChannelUpdate: "🔧",
	models.EventlogTypeRoleCreate:    "🆕",
	models.EventlogTypeRoleDelete:    "❌",
	models.EventlogTypeRoleUpdate:    "🔧",
	models.EventlogTypeBanAdd:        "🔨",
	models.EventlogTypeBanRemove:     "🕊",
	models.EventlogTypeGuildUpdate:   "🔧",
	models.EventlogTypeLevelUp:       "🎉",
	models.EventlogTypeRaidDetected:  "🚨",
}

// renderEntry renders one entry as a single markdown line.
func renderEntry(entry models.EventlogEntry) string {
	var builder strings.Builder

	if emoji, ok := typeEmoji[entry.Type]; ok {
		builder.WriteString(emoji)
		builder.WriteString(" ")
	}

	builder.WriteString("**")
	builder.WriteString(strings.Replace(entry.Type, "_", " ", -1))
	builder.WriteString("**")

	if entry.TargetID != "" {
		builder.WriteString(" ")
		builder.WriteString(renderTarget(entry.TargetType, entry.TargetID))
	}
	if entry.ActorID != "" && entry.ActorID != entry.TargetID {
		builder.WriteString(" by <@")
		builder.WriteString(entry.ActorID)
		builder.WriteString(">")
	}

	for _, change := range entry.Changes {
		builder.WriteString(fmt.Sprintf(" | %s: %s => %s",
			change.Key, truncate(change.OldValue, 150), truncate(change.NewValue, 150)))
	}
	for _, option := range entry.Options {
		builder.WriteString(fmt.Sprintf(" | %s: %s", option.Key, truncate(option.Value, 150)))
	}

	if entry.Reason != "" {
		builder.WriteString(" | reason: ")
		builder.WriteString(truncate(entry.Reason, 150))
	}

	if !entry.CreatedAt.IsZero() {
		builder.WriteString(" | ")
		builder.WriteString(humanize.Time(entry.CreatedAt))
	}

	return builder.String()
}

func renderTarget(targetType string, targetID string) string {
	switch targetType {
	case models.EventlogTargetTypeUser:
		return "<@" + targetID + ">"
	case models.EventlogTargetTypeChannel:
		return "<#" + targetID + ">"
	case models.EventlogTargetTypeRole:
		return "`" + targetID + "`"
	default:
		return "`" + targetID + "`"
	}
}

func truncate(text string, max int) string {
	if text == "" {
		return "(empty)"
	}
	if len(text) <= max {
		return text
	}
	return text[:max] + "…"
}
