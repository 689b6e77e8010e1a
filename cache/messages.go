package cache

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Upper bound of cached messages. Old entries fall out fifo.
const messageCacheLimit = 5000

var (
	messageMutex sync.Mutex
	messages     = make(map[string]*discordgo.Message)
	messageOrder []string
)

func messageKey(channelID string, messageID string) string {
	return channelID + ":" + messageID
}

// AddMessage caches a message so edits and deletions can show what the
// content used to be.
func AddMessage(message *discordgo.Message) {
	if message == nil || message.ID == "" {
		return
	}
	key := messageKey(message.ChannelID, message.ID)

	messageMutex.Lock()
	defer messageMutex.Unlock()

	if _, ok := messages[key]; !ok {
		messageOrder = append(messageOrder, key)
	}
	messages[key] = message

	for len(messageOrder) > messageCacheLimit {
		delete(messages, messageOrder[0])
		messageOrder = messageOrder[1:]
	}
}

// GetMessage returns the cached message or nil.
func GetMessage(channelID string, messageID string) *discordgo.Message {
	messageMutex.Lock()
	defer messageMutex.Unlock()

	return messages[messageKey(channelID, messageID)]
}
