package modules

import (
	"github.com/arkanite/keeper/events"
	"github.com/bwmarrin/discordgo"
)

// Handler is one automation subscribed to event categories. OnEvent may
// panic (helpers.Relax); the dispatcher isolates every invocation.
// Handlers must tolerate duplicate delivery of the same event: after a
// crash, redelivery of persisted side effects is at-least-once.
type Handler interface {
	Name() string

	Categories() []events.Category

	Init(session *discordgo.Session)

	OnEvent(event events.Event)
}

// Uniniter is implemented by handlers that need a shutdown hook.
type Uniniter interface {
	Uninit(session *discordgo.Session)
}
