package plugins

import (
	"strconv"
	"sync"

	"github.com/arkanite/keeper/helpers"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

// fakeDiscord records outbound calls instead of talking to the
// platform.
type fakeDiscord struct {
	mutex sync.Mutex

	sentMessages        []string
	rolesAdded          []string
	rolesRemoved        []string
	kicked              []string
	banned              []string
	createdChannels     []string
	createdChannelNames []string
	deletedChannels     []string
	movedMembers        []string
	grantedOwners       []string

	usernameErr error

	// guildID:roleID entries that exist, everything else is stale
	existingRoles map[string]bool

	// channelID to live member count
	occupancy map[string]int

	nextChannelID int
}

func newFakeDiscord() *fakeDiscord {
	return &fakeDiscord{
		existingRoles: make(map[string]bool),
		occupancy:     make(map[string]int),
	}
}

func (f *fakeDiscord) SendMessage(channelID string, content string) (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.sentMessages = append(f.sentMessages, channelID+"|"+content)
	return "message-1", nil
}

func (f *fakeDiscord) RoleAdd(guildID string, userID string, roleID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.rolesAdded = append(f.rolesAdded, guildID+":"+userID+":"+roleID)
	return nil
}

func (f *fakeDiscord) RoleRemove(guildID string, userID string, roleID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.rolesRemoved = append(f.rolesRemoved, guildID+":"+userID+":"+roleID)
	return nil
}

func (f *fakeDiscord) KickMember(guildID string, userID string, reason string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.kicked = append(f.kicked, guildID+":"+userID)
	return nil
}

func (f *fakeDiscord) BanMember(guildID string, userID string, reason string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.banned = append(f.banned, guildID+":"+userID)
	return nil
}

func (f *fakeDiscord) CreateVoiceChannel(guildID string, name string, parentID string) (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.nextChannelID++
	channelID := "channel-" + strconv.Itoa(f.nextChannelID)
	f.createdChannels = append(f.createdChannels, channelID)
	f.createdChannelNames = append(f.createdChannelNames, name)
	return channelID, nil
}

func (f *fakeDiscord) DeleteChannel(channelID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.deletedChannels = append(f.deletedChannels, channelID)
	return nil
}

func (f *fakeDiscord) MoveMember(guildID string, userID string, channelID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.movedMembers = append(f.movedMembers, userID+">"+channelID)
	return nil
}

func (f *fakeDiscord) GrantChannelOwner(channelID string, userID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.grantedOwners = append(f.grantedOwners, channelID+":"+userID)
	return nil
}

func (f *fakeDiscord) CreateDMChannel(userID string) (string, error) {
	return "dm-" + userID, nil
}

func (f *fakeDiscord) EditChannelName(channelID string, name string) error {
	return nil
}

func (f *fakeDiscord) MessageExists(channelID string, messageID string) error {
	return nil
}

func (f *fakeDiscord) RoleExists(guildID string, roleID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.existingRoles[guildID+":"+roleID] {
		return nil
	}
	return errors.Wrap(helpers.ErrStaleBinding, "role not found")
}

func (f *fakeDiscord) ChannelMessages(channelID string, limit int, beforeID string) ([]*discordgo.Message, error) {
	return nil, nil
}

func (f *fakeDiscord) BulkDeleteMessages(channelID string, messageIDs []string) error {
	return nil
}

func (f *fakeDiscord) GuildMemberCount(guildID string) (int, error) {
	return 0, nil
}

func (f *fakeDiscord) VoiceChannelOccupancy(guildID string, channelID string) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.occupancy[channelID], nil
}

func (f *fakeDiscord) MemberUsername(guildID string, userID string) (string, error) {
	if f.usernameErr != nil {
		return "", f.usernameErr
	}
	return "member-" + userID, nil
}

func (f *fakeDiscord) setOccupancy(channelID string, count int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.occupancy[channelID] = count
}

func (f *fakeDiscord) sentCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.sentMessages)
}
