package plugins

import (
	"strings"
	"testing"
	"time"

	"github.com/arkanite/keeper/events"
	"github.com/arkanite/keeper/helpers"
	"github.com/arkanite/keeper/models"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

type memoryLedgerStore struct {
	progress map[string]models.LevelsServerusersEntry
	accounts map[string]models.EconomyAccountEntry

	failAccountUpserts map[string]bool
}

func newMemoryLedgerStore() *memoryLedgerStore {
	return &memoryLedgerStore{
		progress:           make(map[string]models.LevelsServerusersEntry),
		accounts:           make(map[string]models.EconomyAccountEntry),
		failAccountUpserts: make(map[string]bool),
	}
}

func ledgerKey(guildID string, userID string) string {
	return guildID + ":" + userID
}

func (s *memoryLedgerStore) GetProgress(guildID string, userID string) (models.LevelsServerusersEntry, error) {
	entry, ok := s.progress[ledgerKey(guildID, userID)]
	if !ok {
		return models.LevelsServerusersEntry{GuildID: guildID, UserID: userID}, nil
	}
	return entry, nil
}

func (s *memoryLedgerStore) UpsertProgress(entry models.LevelsServerusersEntry) error {
	s.progress[ledgerKey(entry.GuildID, entry.UserID)] = entry
	return nil
}

func (s *memoryLedgerStore) DeleteProgress(guildID string, userID string) error {
	delete(s.progress, ledgerKey(guildID, userID))
	return nil
}

func (s *memoryLedgerStore) AllProgress(guildID string) ([]models.LevelsServerusersEntry, error) {
	var entries []models.LevelsServerusersEntry
	for _, entry := range s.progress {
		if entry.GuildID == guildID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *memoryLedgerStore) GetAccount(guildID string, userID string) (models.EconomyAccountEntry, error) {
	account, ok := s.accounts[ledgerKey(guildID, userID)]
	if !ok {
		return models.EconomyAccountEntry{GuildID: guildID, UserID: userID}, nil
	}
	return account, nil
}

func (s *memoryLedgerStore) UpsertAccount(account models.EconomyAccountEntry) error {
	if s.failAccountUpserts[ledgerKey(account.GuildID, account.UserID)] {
		return errors.New("store write failed")
	}
	s.accounts[ledgerKey(account.GuildID, account.UserID)] = account
	return nil
}

func (s *memoryLedgerStore) UpsertAccountOnce(account models.EconomyAccountEntry) error {
	return s.UpsertAccount(account)
}

func (s *memoryLedgerStore) AllAccounts(guildID string) ([]models.EconomyAccountEntry, error) {
	var accounts []models.EconomyAccountEntry
	for _, account := range s.accounts {
		if account.GuildID == guildID {
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

func testLevels(store *memoryLedgerStore, discord *fakeDiscord, at time.Time) *Levels {
	current := at
	return &Levels{
		store:         store,
		discord:       discord,
		locks:         helpers.NewKeyLock(),
		now:           func() time.Time { return current },
		expForMessage: func() int64 { return 10 },
		dailyAmount:   func() int64 { return 250 },
	}
}

func messageEvent(guildID string, userID string, messageID string) events.Event {
	return events.Event{
		GuildID:  guildID,
		Category: events.CategoryMessage,
		Type:     events.TypeMessageCreate,
		Message: &discordgo.Message{
			ID:        messageID,
			ChannelID: "channel-1",
			Author:    &discordgo.User{ID: userID},
		},
	}
}

func TestLevelsAwardsExpOncePerMessage(t *testing.T) {
	store := newMemoryLedgerStore()
	levels := testLevels(store, newFakeDiscord(), time.Now())

	event := messageEvent("guild-1", "user-1", "message-1")
	levels.OnEvent(event)
	// redelivery of the same message must not award twice
	levels.OnEvent(event)

	entry, _ := store.GetProgress("guild-1", "user-1")
	if entry.Exp != 10 {
		t.Fatalf("expected 10 exp after duplicate delivery, got %d", entry.Exp)
	}
	if entry.Messages != 1 {
		t.Fatalf("expected 1 counted message, got %d", entry.Messages)
	}
}

func TestLevelsEditDoesNotAward(t *testing.T) {
	store := newMemoryLedgerStore()
	levels := testLevels(store, newFakeDiscord(), time.Now())

	event := messageEvent("guild-1", "user-1", "message-1")
	event.Type = events.TypeMessageUpdate
	levels.OnEvent(event)

	entry, _ := store.GetProgress("guild-1", "user-1")
	if entry.Exp != 0 {
		t.Fatalf("expected no exp for an edit, got %d", entry.Exp)
	}
}

func TestLevelsCooldownBlocksSecondAward(t *testing.T) {
	store := newMemoryLedgerStore()
	discord := newFakeDiscord()

	current := time.Now()
	levels := testLevels(store, discord, current)
	levels.now = func() time.Time { return current }

	levels.OnEvent(messageEvent("guild-1", "user-1", "message-1"))

	current = current.Add(30 * time.Second)
	levels.OnEvent(messageEvent("guild-1", "user-1", "message-2"))

	entry, _ := store.GetProgress("guild-1", "user-1")
	if entry.Exp != 10 {
		t.Fatalf("expected second message inside the cooldown to award nothing, got %d exp", entry.Exp)
	}

	current = current.Add(31 * time.Second)
	levels.OnEvent(messageEvent("guild-1", "user-1", "message-3"))

	entry, _ = store.GetProgress("guild-1", "user-1")
	if entry.Exp != 20 {
		t.Fatalf("expected award after the cooldown passed, got %d exp", entry.Exp)
	}
}

func TestLevelsLevelUpAnnounced(t *testing.T) {
	store := newMemoryLedgerStore()
	discord := newFakeDiscord()
	levels := testLevels(store, discord, time.Now())

	store.UpsertProgress(models.LevelsServerusersEntry{
		GuildID: "guild-1",
		UserID:  "user-1",
		Exp:     95,
	})

	levels.OnEvent(messageEvent("guild-1", "user-1", "message-1"))

	entry, _ := store.GetProgress("guild-1", "user-1")
	if entry.Level != 1 {
		t.Fatalf("expected level 1 after crossing 100 exp, got %d", entry.Level)
	}
	if discord.sentCount() != 1 {
		t.Fatalf("expected one level up announcement, got %d", discord.sentCount())
	}
	if !strings.Contains(discord.sentMessages[0], "Level 1") {
		t.Fatalf("announcement does not name the level: %q", discord.sentMessages[0])
	}
}

func TestClaimDailyTwiceFails(t *testing.T) {
	store := newMemoryLedgerStore()
	current := time.Now()
	levels := testLevels(store, newFakeDiscord(), current)
	levels.now = func() time.Time { return current }

	amount, err := levels.ClaimDaily("guild-1", "user-1")
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if amount != 250 {
		t.Fatalf("expected 250, got %d", amount)
	}

	current = current.Add(2 * time.Hour)
	_, err = levels.ClaimDaily("guild-1", "user-1")
	if errors.Cause(err) != helpers.ErrCooldownActive {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}

	account, _ := store.GetAccount("guild-1", "user-1")
	if account.Cash != 250 {
		t.Fatalf("second claim changed the balance: %d", account.Cash)
	}

	current = current.Add(23 * time.Hour)
	if _, err = levels.ClaimDaily("guild-1", "user-1"); err != nil {
		t.Fatalf("claim after 24h failed: %v", err)
	}
}

func TestPayMovesCashAtomically(t *testing.T) {
	store := newMemoryLedgerStore()
	levels := testLevels(store, newFakeDiscord(), time.Now())

	store.UpsertAccount(models.EconomyAccountEntry{GuildID: "guild-1", UserID: "rich", Cash: 500})

	if err := levels.Pay("guild-1", "rich", "poor", 200); err != nil {
		t.Fatalf("pay failed: %v", err)
	}

	sender, _ := store.GetAccount("guild-1", "rich")
	recipient, _ := store.GetAccount("guild-1", "poor")
	if sender.Cash != 300 || recipient.Cash != 200 {
		t.Fatalf("unexpected balances after pay: %d / %d", sender.Cash, recipient.Cash)
	}
}

func TestPayRecipientWriteFailureRevertsSender(t *testing.T) {
	store := newMemoryLedgerStore()
	levels := testLevels(store, newFakeDiscord(), time.Now())

	store.UpsertAccount(models.EconomyAccountEntry{GuildID: "guild-1", UserID: "rich", Cash: 100})
	store.failAccountUpserts[ledgerKey("guild-1", "poor")] = true

	if err := levels.Pay("guild-1", "rich", "poor", 40); err == nil {
		t.Fatalf("pay with a failing recipient write reported success")
	}

	sender, _ := store.GetAccount("guild-1", "rich")
	if sender.Cash != 100 {
		t.Fatalf("failed transfer changed the sender balance: got %d, want 100", sender.Cash)
	}
	recipient, _ := store.GetAccount("guild-1", "poor")
	if recipient.Cash != 0 {
		t.Fatalf("failed transfer changed the recipient balance: got %d", recipient.Cash)
	}
}

func TestPayValidation(t *testing.T) {
	store := newMemoryLedgerStore()
	levels := testLevels(store, newFakeDiscord(), time.Now())

	store.UpsertAccount(models.EconomyAccountEntry{GuildID: "guild-1", UserID: "user-1", Cash: 100})

	if err := levels.Pay("guild-1", "user-1", "user-2", 0); errors.Cause(err) != helpers.ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if err := levels.Pay("guild-1", "user-1", "user-2", -5); errors.Cause(err) != helpers.ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
	if err := levels.Pay("guild-1", "user-1", "user-1", 10); errors.Cause(err) != helpers.ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount for self pay, got %v", err)
	}
	if err := levels.Pay("guild-1", "user-1", "user-2", 101); errors.Cause(err) != helpers.ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	sender, _ := store.GetAccount("guild-1", "user-1")
	if sender.Cash != 100 {
		t.Fatalf("failed pay changed the sender balance: %d", sender.Cash)
	}
	recipient, _ := store.GetAccount("guild-1", "user-2")
	if recipient.Cash != 0 {
		t.Fatalf("failed pay changed the recipient balance: %d", recipient.Cash)
	}
}

func TestLeaderboardOrdersAndBreaksTies(t *testing.T) {
	store := newMemoryLedgerStore()
	levels := testLevels(store, newFakeDiscord(), time.Now())

	store.UpsertProgress(models.LevelsServerusersEntry{GuildID: "guild-1", UserID: "bbb", Level: 5, Exp: 1500})
	store.UpsertProgress(models.LevelsServerusersEntry{GuildID: "guild-1", UserID: "aaa", Level: 5, Exp: 1500})
	store.UpsertProgress(models.LevelsServerusersEntry{GuildID: "guild-1", UserID: "ccc", Level: 9, Exp: 4500})
	store.UpsertProgress(models.LevelsServerusersEntry{GuildID: "guild-2", UserID: "zzz", Level: 90, Exp: 999999})

	board, err := levels.Leaderboard("guild-1", LeaderboardByLevel, 10)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}

	if len(board) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(board))
	}
	if board[0].UserID != "ccc" {
		t.Fatalf("expected highest level first, got %s", board[0].UserID)
	}
	// equal levels order by ascending user id
	if board[1].UserID != "aaa" || board[2].UserID != "bbb" {
		t.Fatalf("tie break broken: %s before %s", board[1].UserID, board[2].UserID)
	}
	if board[0].Rank != 1 || board[2].Rank != 3 {
		t.Fatalf("ranks not assigned in order: %d / %d", board[0].Rank, board[2].Rank)
	}
}

func TestLeaderboardByBalance(t *testing.T) {
	store := newMemoryLedgerStore()
	levels := testLevels(store, newFakeDiscord(), time.Now())

	store.UpsertAccount(models.EconomyAccountEntry{GuildID: "guild-1", UserID: "saver", Cash: 100, Bank: 900})
	store.UpsertAccount(models.EconomyAccountEntry{GuildID: "guild-1", UserID: "spender", Cash: 500})

	board, err := levels.Leaderboard("guild-1", LeaderboardByBalance, 10)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if board[0].UserID != "saver" || board[0].Balance != 1000 {
		t.Fatalf("expected cash plus bank to rank, got %s with %d", board[0].UserID, board[0].Balance)
	}
}
