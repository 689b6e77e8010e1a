package models

import (
	"time"

	"github.com/globalsign/mgo/bson"
)

const (
	AutoChannelsTable MongoDbCollection = "auto_channels"
)

// AutoChannelsEntry records one provisioned join-to-create voice channel.
// The record only exists while the channel does; reconciliation on boot
// deletes channels that went empty while the process was down.
type AutoChannelsEntry struct {
	ID               bson.ObjectId `bson:"_id,omitempty"`
	GuildID          string
	ChannelID        string
	OwnerUserID      string
	ParentCategoryID string
	CreatedAt        time.Time
	LastOccupiedAt   time.Time
}
