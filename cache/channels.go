package cache

import (
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// How long a cached channel pointer is valid
const channelTimeout = 15 * time.Second

var (
	channelMutex sync.Mutex

	// Maps channel ids to channel pointers
	channels = make(map[string]*discordgo.Channel)

	// Maps channel ids to the time they were cached at
	channelMeta = make(map[string]time.Time)
)

// Channel returns a cached channel pointer, requesting it from the
// session state (or the API) if missing or timed out.
func Channel(id string) (*discordgo.Channel, error) {
	channelMutex.Lock()
	ch, ok := channels[id]
	fresh := ok && time.Since(channelMeta[id]) < channelTimeout
	channelMutex.Unlock()

	if fresh {
		return ch, nil
	}

	ch, err := GetSession().State.Channel(id)
	if err != nil {
		ch, err = GetSession().Channel(id)
		if err != nil {
			return nil, err
		}
	}

	channelMutex.Lock()
	channels[id] = ch
	channelMeta[id] = time.Now()
	channelMutex.Unlock()

	return ch, nil
}
