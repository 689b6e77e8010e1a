package plugins

import (
	"fmt"
	"sort"
	"time"

	"github.com/arkanite/keeper/events"
	"github.com/arkanite/keeper/helpers"
	"github.com/arkanite/keeper/metrics"
	"github.com/arkanite/keeper/models"
	"github.com/arkanite/keeper/modules/plugins/eventlog"
	"github.com/bwmarrin/discordgo"
	"github.com/globalsign/mgo/bson"
	"github.com/pkg/errors"
)

const (
	// minimum time between two exp awards for the same member
	ExpCooldown = 60 * time.Second

	// minimum time between two daily claims
	DailyCooldown = 24 * time.Hour
)

// LedgerStore persists progress and economy records. Mutations on the
// same member are serialized by the plugin, the store only has to apply
// single-record writes durably.
type LedgerStore interface {
	GetProgress(guildID string, userID string) (models.LevelsServerusersEntry, error)
	UpsertProgress(entry models.LevelsServerusersEntry) error
	DeleteProgress(guildID string, userID string) error
	AllProgress(guildID string) ([]models.LevelsServerusersEntry, error)

	GetAccount(guildID string, userID string) (models.EconomyAccountEntry, error)
	UpsertAccount(entry models.EconomyAccountEntry) error
	AllAccounts(guildID string) ([]models.EconomyAccountEntry, error)

	// UpsertAccountOnce writes the account without deferred retry. A
	// failed write stays failed, transfers rely on that to keep both
	// halves of a transfer in step.
	UpsertAccountOnce(entry models.EconomyAccountEntry) error
}

// Levels awards exp for qualifying messages and keeps the per-guild
// economy ledger.
type Levels struct {
	store   LedgerStore
	discord helpers.Discord
	locks   *helpers.KeyLock

	now           func() time.Time
	expForMessage func() int64
	dailyAmount   func() int64
}

func NewLevels() *Levels {
	return &Levels{
		store:         &mdbLedgerStore{},
		discord:       helpers.NewDiscord(),
		locks:         helpers.NewKeyLock(),
		now:           time.Now,
		expForMessage: helpers.GetRandomExpForMessage,
		dailyAmount:   helpers.GetRandomDailyAmount,
	}
}

func (l *Levels) Name() string {
	return "levels"
}

func (l *Levels) Categories() []events.Category {
	return []events.Category{events.CategoryMessage}
}

func (l *Levels) Init(session *discordgo.Session) {
}

// OnEvent awards exp for message creations. Awards are keyed to the
// message id, so redelivered creations and edits never award twice.
func (l *Levels) OnEvent(event events.Event) {
	if event.Type != events.TypeMessageCreate {
		return
	}
	message := event.Message
	if message == nil || message.Author == nil || message.Author.Bot {
		return
	}

	var leveledUp bool

	key := progressKey(event.GuildID, message.Author.ID)
	l.locks.Lock(key)

	entry, err := l.store.GetProgress(event.GuildID, message.Author.ID)
	if err != nil {
		l.locks.Unlock(key)
		helpers.Relax(err)
	}
	entry.GuildID = event.GuildID
	entry.UserID = message.Author.ID

	if entry.LastAwardMessageID == message.ID {
		// duplicate delivery
		l.locks.Unlock(key)
		return
	}

	now := l.now()
	if !entry.LastExpAward.IsZero() && now.Sub(entry.LastExpAward) < ExpCooldown {
		l.locks.Unlock(key)
		return
	}

	entry.Exp += l.expForMessage()
	entry.Messages++
	entry.LastExpAward = now
	entry.LastAwardMessageID = message.ID

	if newLevel := helpers.GetLevelFromExp(entry.Exp); newLevel > entry.Level {
		entry.Level = newLevel
		leveledUp = true
	}

	err = l.store.UpsertProgress(entry)
	l.locks.Unlock(key)
	helpers.Relax(err)

	metrics.ExpAwards.Add(1)

	// outbound side effects only after the durable record is written
	if leveledUp {
		metrics.LevelUps.Add(1)

		eventlog.Log(models.EventlogEntry{
			GuildID:    event.GuildID,
			Category:   models.LogCategoryMember,
			Type:       models.EventlogTypeLevelUp,
			ActorID:    message.Author.ID,
			TargetID:   message.Author.ID,
			TargetType: models.EventlogTargetTypeUser,
			Options: []models.EventlogOption{
				{Key: "level", Value: fmt.Sprintf("%d", entry.Level)},
			},
			CreatedAt: now,
		})

		_, err = l.discord.SendMessage(message.ChannelID, fmt.Sprintf(
			"🎉 <@%s> reached **Level %d**!", message.Author.ID, entry.Level))
		helpers.RelaxLog(err)
	}
}

// Progress returns the stored progress for one member, a zero record if
// none exists yet.
func (l *Levels) Progress(guildID string, userID string) (models.LevelsServerusersEntry, error) {
	return l.store.GetProgress(guildID, userID)
}

// ResetProgress removes one member's progress record.
func (l *Levels) ResetProgress(guildID string, userID string) error {
	key := progressKey(guildID, userID)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	return l.store.DeleteProgress(guildID, userID)
}

// ClaimDaily credits a random amount in [100,500] to the member's cash
// balance, at most once per 24 hours.
func (l *Levels) ClaimDaily(guildID string, userID string) (int64, error) {
	key := accountKey(guildID, userID)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	account, err := l.store.GetAccount(guildID, userID)
	if err != nil {
		return 0, err
	}
	account.GuildID = guildID
	account.UserID = userID

	now := l.now()
	if !account.LastDaily.IsZero() && now.Sub(account.LastDaily) < DailyCooldown {
		return 0, errors.Wrapf(helpers.ErrCooldownActive,
			"daily claimable again in %s", (DailyCooldown - now.Sub(account.LastDaily)).String())
	}

	amount := l.dailyAmount()
	account.Cash += amount
	account.LastDaily = now

	return amount, l.store.UpsertAccount(account)
}

// Pay moves $amount cash from one member to another as a single step.
// Both balances change or neither does. The writes bypass the deferred
// replay queue, a half applied transfer is reverted instead of retried.
func (l *Levels) Pay(guildID string, fromUserID string, toUserID string, amount int64) error {
	if amount <= 0 || fromUserID == toUserID {
		return errors.Wrap(helpers.ErrInvalidAmount, "transfer rejected")
	}

	// deterministic lock order prevents deadlocks between crossing transfers
	first, second := accountKey(guildID, fromUserID), accountKey(guildID, toUserID)
	if second < first {
		first, second = second, first
	}
	l.locks.Lock(first)
	defer l.locks.Unlock(first)
	l.locks.Lock(second)
	defer l.locks.Unlock(second)

	sender, err := l.store.GetAccount(guildID, fromUserID)
	if err != nil {
		return err
	}
	sender.GuildID = guildID
	sender.UserID = fromUserID

	if sender.Cash < amount {
		return errors.Wrapf(helpers.ErrInsufficientFunds,
			"balance %d, requested %d", sender.Cash, amount)
	}

	recipient, err := l.store.GetAccount(guildID, toUserID)
	if err != nil {
		return err
	}
	recipient.GuildID = guildID
	recipient.UserID = toUserID

	sender.Cash -= amount
	recipient.Cash += amount

	if err = l.store.UpsertAccountOnce(sender); err != nil {
		return err
	}
	if err = l.store.UpsertAccountOnce(recipient); err != nil {
		// the debit is already durable, the compensating credit
		// restores the pre-transfer balance
		revert := sender
		revert.Cash += amount
		helpers.RelaxLog(l.store.UpsertAccount(revert))
		return err
	}
	return nil
}

// Account returns the stored economy account for one member, a zero
// record if none exists yet.
func (l *Levels) Account(guildID string, userID string) (models.EconomyAccountEntry, error) {
	return l.store.GetAccount(guildID, userID)
}

const (
	LeaderboardByLevel    = "level"
	LeaderboardByMessages = "messages"
	LeaderboardByBalance  = "balance"
)

type LeaderboardEntry struct {
	Rank     int
	UserID   string
	Level    int
	Exp      int64
	Messages int64
	Balance  int64
}

// Leaderboard ranks members descending by the chosen metric. Ties break
// by ascending user id so the order is deterministic.
func (l *Levels) Leaderboard(guildID string, metric string, limit int) ([]LeaderboardEntry, error) {
	var board []LeaderboardEntry

	switch metric {
	case LeaderboardByLevel, LeaderboardByMessages:
		all, err := l.store.AllProgress(guildID)
		if err != nil {
			return nil, err
		}
		for _, entry := range all {
			board = append(board, LeaderboardEntry{
				UserID:   entry.UserID,
				Level:    entry.Level,
				Exp:      entry.Exp,
				Messages: entry.Messages,
			})
		}
	case LeaderboardByBalance:
		all, err := l.store.AllAccounts(guildID)
		if err != nil {
			return nil, err
		}
		for _, account := range all {
			board = append(board, LeaderboardEntry{
				UserID:  account.UserID,
				Balance: account.Cash + account.Bank,
			})
		}
	default:
		return nil, errors.Errorf("unknown leaderboard metric: %s", metric)
	}

	sort.Slice(board, func(i, j int) bool {
		a, b := board[i], board[j]
		var av, bv int64
		switch metric {
		case LeaderboardByLevel:
			av, bv = int64(a.Level), int64(b.Level)
		case LeaderboardByMessages:
			av, bv = a.Messages, b.Messages
		case LeaderboardByBalance:
			av, bv = a.Balance, b.Balance
		}
		if av != bv {
			return av > bv
		}
		return a.UserID < b.UserID
	})

	if limit > 0 && len(board) > limit {
		board = board[:limit]
	}
	for i := range board {
		board[i].Rank = i + 1
	}

	return board, nil
}

func progressKey(guildID string, userID string) string {
	return "progress:" + guildID + ":" + userID
}

func accountKey(guildID string, userID string) string {
	return "account:" + guildID + ":" + userID
}

// mdbLedgerStore is the mongodb backed LedgerStore.
type mdbLedgerStore struct{}

func (s *mdbLedgerStore) GetProgress(guildID string, userID string) (models.LevelsServerusersEntry, error) {
	var entry models.LevelsServerusersEntry
	err := helpers.MdbOne(
		helpers.MdbCollection(models.LevelsServerusersTable).Find(bson.M{"guildid": guildID, "userid": userID}),
		&entry,
	)
	if helpers.IsMdbNotFound(err) {
		return models.LevelsServerusersEntry{GuildID: guildID, UserID: userID}, nil
	}
	return entry, err
}

func (s *mdbLedgerStore) UpsertProgress(entry models.LevelsServerusersEntry) error {
	return helpers.MDbUpsert(
		models.LevelsServerusersTable,
		bson.M{"guildid": entry.GuildID, "userid": entry.UserID},
		entry,
	)
}

func (s *mdbLedgerStore) DeleteProgress(guildID string, userID string) error {
	return helpers.MdbDeleteQuery(
		models.LevelsServerusersTable,
		bson.M{"guildid": guildID, "userid": userID},
	)
}

func (s *mdbLedgerStore) AllProgress(guildID string) ([]models.LevelsServerusersEntry, error) {
	var entries []models.LevelsServerusersEntry
	err := helpers.MdbAll(
		helpers.MdbCollection(models.LevelsServerusersTable).Find(bson.M{"guildid": guildID}),
		&entries,
	)
	return entries, err
}

func (s *mdbLedgerStore) GetAccount(guildID string, userID string) (models.EconomyAccountEntry, error) {
	var account models.EconomyAccountEntry
	err := helpers.MdbOne(
		helpers.MdbCollection(models.EconomyAccountsTable).Find(bson.M{"guildid": guildID, "userid": userID}),
		&account,
	)
	if helpers.IsMdbNotFound(err) {
		return models.EconomyAccountEntry{GuildID: guildID, UserID: userID}, nil
	}
	return account, err
}

func (s *mdbLedgerStore) UpsertAccount(account models.EconomyAccountEntry) error {
	return helpers.MDbUpsert(
		models.EconomyAccountsTable,
		bson.M{"guildid": account.GuildID, "userid": account.UserID},
		account,
	)
}

func (s *mdbLedgerStore) UpsertAccountOnce(account models.EconomyAccountEntry) error {
	return helpers.MDbUpsertOnce(
		models.EconomyAccountsTable,
		bson.M{"guildid": account.GuildID, "userid": account.UserID},
		account,
	)
}

func (s *mdbLedgerStore) AllAccounts(guildID string) ([]models.EconomyAccountEntry, error) {
	var accounts []models.EconomyAccountEntry
	err := helpers.MdbAll(
		helpers.MdbCollection(models.EconomyAccountsTable).Find(bson.M{"guildid": guildID}),
		&accounts,
	)
	return accounts, err
}
