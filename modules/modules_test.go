package modules

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/arkanite/keeper/cache"
	"github.com/arkanite/keeper/events"
	"github.com/arkanite/keeper/helpers"
	"github.com/arkanite/keeper/models"
	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

func TestMain(m *testing.M) {
	log := logrus.New()
	log.Out = os.Stderr
	cache.SetLogger(log)

	os.Exit(m.Run())
}

type recordingHandler struct {
	name       string
	categories []events.Category

	mutex     sync.Mutex
	received  []events.Event
	waitGroup *sync.WaitGroup

	panicOnEvent bool
}

func (h *recordingHandler) Name() string                  { return h.name }
func (h *recordingHandler) Categories() []events.Category { return h.categories }
func (h *recordingHandler) Init(session *discordgo.Session) {
}

func (h *recordingHandler) OnEvent(event events.Event) {
	defer h.waitGroup.Done()

	if h.panicOnEvent {
		panic("handler blew up")
	}

	h.mutex.Lock()
	h.received = append(h.received, event)
	h.mutex.Unlock()
}

func (h *recordingHandler) count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.received)
}

func seedSubscriptions(handlers ...*recordingHandler) {
	handlersByCategory = make(map[events.Category][]Handler)
	for _, handler := range handlers {
		for _, category := range handler.categories {
			handlersByCategory[category] = append(handlersByCategory[category], handler)
		}
	}
}

func TestDispatchFansOutByCategory(t *testing.T) {
	var waitGroup sync.WaitGroup

	memberHandler := &recordingHandler{
		name:       "member-handler",
		categories: []events.Category{events.CategoryMember},
		waitGroup:  &waitGroup,
	}
	voiceHandler := &recordingHandler{
		name:       "voice-handler",
		categories: []events.Category{events.CategoryVoice},
		waitGroup:  &waitGroup,
	}
	seedSubscriptions(memberHandler, voiceHandler)

	helpers.GuildSettingsCachePut("dispatch-guild", models.GuildConfig{}.Default("dispatch-guild"))

	waitGroup.Add(1)
	Dispatch(events.Event{
		GuildID:  "dispatch-guild",
		Category: events.CategoryMember,
		Type:     events.TypeMemberJoin,
	})
	waitGroup.Wait()

	if memberHandler.count() != 1 {
		t.Fatalf("subscribed handler got %d events", memberHandler.count())
	}
	if voiceHandler.count() != 0 {
		t.Fatalf("unsubscribed handler got %d events", voiceHandler.count())
	}
}

func TestDispatchDropsUnknownGuilds(t *testing.T) {
	var waitGroup sync.WaitGroup

	handler := &recordingHandler{
		name:       "member-handler",
		categories: []events.Category{events.CategoryMember},
		waitGroup:  &waitGroup,
	}
	seedSubscriptions(handler)

	Dispatch(events.Event{
		GuildID:  "never-seen-guild",
		Category: events.CategoryMember,
		Type:     events.TypeMemberJoin,
	})

	// no Add on the wait group: OnEvent running would panic the test
	time.Sleep(50 * time.Millisecond)
	if handler.count() != 0 {
		t.Fatalf("event for unknown guild was dispatched")
	}
}

func TestDispatchIsolatesPanickingHandlers(t *testing.T) {
	var waitGroup sync.WaitGroup

	angry := &recordingHandler{
		name:         "angry-handler",
		categories:   []events.Category{events.CategoryMessage},
		waitGroup:    &waitGroup,
		panicOnEvent: true,
	}
	calm := &recordingHandler{
		name:       "calm-handler",
		categories: []events.Category{events.CategoryMessage},
		waitGroup:  &waitGroup,
	}
	seedSubscriptions(angry, calm)

	helpers.GuildSettingsCachePut("panic-guild", models.GuildConfig{}.Default("panic-guild"))

	waitGroup.Add(2)
	Dispatch(events.Event{
		GuildID:  "panic-guild",
		Category: events.CategoryMessage,
		Type:     events.TypeMessageCreate,
	})
	waitGroup.Wait()

	if calm.count() != 1 {
		t.Fatalf("panicking handler starved its neighbor")
	}
}
