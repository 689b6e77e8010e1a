package models

import (
	"time"

	"github.com/globalsign/mgo/bson"
)

const (
	EconomyAccountsTable MongoDbCollection = "economy_accounts"
)

// EconomyAccountEntry holds one member's balances within one guild.
// Cash and Bank never go below zero; mutations go through the ledger
// plugin which serializes them per account.
type EconomyAccountEntry struct {
	ID        bson.ObjectId `bson:"_id,omitempty"`
	UserID    string
	GuildID   string
	Cash      int64
	Bank      int64
	LastDaily time.Time
}
