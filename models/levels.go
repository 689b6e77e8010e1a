package models

import (
	"time"

	"github.com/globalsign/mgo/bson"
)

const (
	LevelsServerusersTable MongoDbCollection = "levels_serverusers"
)

// LevelsServerusersEntry tracks one member's progress within one guild.
// Created lazily on the first awarded message.
type LevelsServerusersEntry struct {
	ID           bson.ObjectId `bson:"_id,omitempty"`
	UserID       string
	GuildID      string
	Exp          int64
	Level        int
	Messages     int64
	LastExpAward time.Time

	// id of the message behind the last award, redeliveries never
	// award twice
	LastAwardMessageID string
}
